package services

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
	"go.uber.org/zap"
)

// Local collaborator implementations for single-node deployments. A
// hosted deployment swaps these for the platform's object storage, mail
// pipeline, bot detector and billing service at wiring time.

// LocalBlobStore keeps document content on the local filesystem under a
// configured root. Storage refs are relative paths.
type LocalBlobStore struct {
	root string
}

var errBlobEscapesRoot = errors.New("storage ref escapes blob root")

func NewLocalBlobStore(root string) *LocalBlobStore {
	return &LocalBlobStore{root: root}
}

func (b *LocalBlobStore) path(storageRef string) (string, error) {
	p := filepath.Join(b.root, filepath.FromSlash(storageRef))
	if !strings.HasPrefix(p, filepath.Clean(b.root)+string(os.PathSeparator)) {
		return "", errBlobEscapesRoot
	}
	return p, nil
}

func (b *LocalBlobStore) ResolveContentURL(_ context.Context, storageRef string) (string, error) {
	return b.path(storageRef)
}

func (b *LocalBlobStore) FetchBytes(_ context.Context, url string) ([]byte, error) {
	return os.ReadFile(url)
}

func (b *LocalBlobStore) SaveBytes(_ context.Context, storageRef string, data []byte) error {
	p, err := b.path(storageRef)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o640)
}

// LocalKeyEscrow keeps at-rest credentials on the local filesystem under
// its own root, separate from the blob root. A hosted deployment swaps
// this for the platform KMS.
type LocalKeyEscrow struct {
	root string
}

func NewLocalKeyEscrow(root string) *LocalKeyEscrow {
	return &LocalKeyEscrow{root: root}
}

func (e *LocalKeyEscrow) StoreCredential(_ context.Context, ref string, credential []byte) error {
	p := filepath.Join(e.root, filepath.FromSlash(ref)+".key")
	if !strings.HasPrefix(p, filepath.Clean(e.root)+string(os.PathSeparator)) {
		return errBlobEscapesRoot
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(hex.EncodeToString(credential)), 0o600)
}

// LogNotifier records outbound notifications in the structured log.
// Actual delivery belongs to the external mail pipeline.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(zap.String("service", "notifier"))}
}

func (n *LogNotifier) SendSigningRequest(_ context.Context, rec *models.SignatureRecipient, doc *models.SignatureDocument, signingURL string) error {
	n.logger.Info("signing request notification",
		zap.String("doc_id", doc.ID),
		zap.String("email", rec.Email),
		zap.String("url", signingURL))
	return nil
}

func (n *LogNotifier) SendCompletionEmail(_ context.Context, email, name string, doc *models.SignatureDocument) error {
	n.logger.Info("completion notification",
		zap.String("doc_id", doc.ID),
		zap.String("email", email),
		zap.String("name", name))
	return nil
}

// PermissiveDetector is the anomaly collaborator used when no detector
// endpoint is configured: everything is allowed, nothing is alerted.
type PermissiveDetector struct{}

func (PermissiveDetector) CheckAndAlert(context.Context, AnomalyRequest) (bool, []string, error) {
	return true, nil, nil
}

// OpenGate is the subscription gate used when no billing service is
// configured: every fund passes.
type OpenGate struct{}

func (OpenGate) Allow(context.Context, string) (bool, error) {
	return true, nil
}

// LogWorkflow records commitment advances for deployments without the
// financial workflow service.
type LogWorkflow struct {
	logger *zap.Logger
}

func NewLogWorkflow(logger *zap.Logger) *LogWorkflow {
	return &LogWorkflow{logger: logger.With(zap.String("service", "commitment"))}
}

func (w *LogWorkflow) AdvanceStage(_ context.Context, commitmentID string, docType models.DocumentType) error {
	w.logger.Info("commitment stage advanced",
		zap.String("commitment_id", commitmentID),
		zap.String("document_type", string(docType)),
		zap.Bool("subscription_executed", docType == models.DocumentTypeSubscription))
	return nil
}
