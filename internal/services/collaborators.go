package services

import (
	"context"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
)

// The signing engine talks to the rest of the platform through the narrow
// contracts below. Their real implementations (object storage, the mail
// pipeline, the bot detector, the subscription/billing service) live
// outside this service; local defaults here keep a single-node deployment
// self-contained.

// BlobStore resolves and fetches document content. Checksum computation
// always reads the authoritative bytes through this interface, never
// client-supplied content.
type BlobStore interface {
	ResolveContentURL(ctx context.Context, storageRef string) (string, error)
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	SaveBytes(ctx context.Context, storageRef string, data []byte) error
}

// CryptoService encrypts signature artifacts before persistence and
// produces the finalized document artifacts for the completion cascade.
type CryptoService interface {
	EncryptSignatureArtifact(ctx context.Context, raw []byte, documentID, recipientID string) (storageRef string, err error)
	FlattenFinalDocument(ctx context.Context, doc *models.SignatureDocument, recipients []*models.SignatureRecipient) (storageRef string, err error)
	EncryptAtRest(ctx context.Context, storageRef string) (encryptedRef string, err error)
}

// KeyEscrow holds at-rest access credentials. Credentials never touch
// the blob store that holds the ciphertext they protect.
type KeyEscrow interface {
	StoreCredential(ctx context.Context, ref string, credential []byte) error
}

// Notifier delivers recipient-facing messages. Delivery is fire-and-
// forget from the engine's perspective; failures are logged, never
// surfaced to the signer.
type Notifier interface {
	SendSigningRequest(ctx context.Context, rec *models.SignatureRecipient, doc *models.SignatureDocument, signingURL string) error
	SendCompletionEmail(ctx context.Context, email, name string, doc *models.SignatureDocument) error
}

// AnomalyDetector may veto a signing submission outright.
type AnomalyDetector interface {
	CheckAndAlert(ctx context.Context, req AnomalyRequest) (allowed bool, alerts []string, err error)
}

type AnomalyRequest struct {
	RecipientID string
	IPAddress   string
	UserAgent   string
	Route       string
}

// SubscriptionGate is the paywall check keyed by the document's owning
// fund.
type SubscriptionGate interface {
	Allow(ctx context.Context, fundID string) (bool, error)
}

// CommitmentWorkflow advances the financial workflow linked to a
// completed document. It must never touch monetary aggregates; those
// belong to a separate non-signing workflow.
type CommitmentWorkflow interface {
	AdvanceStage(ctx context.Context, commitmentID string, docType models.DocumentType) error
}
