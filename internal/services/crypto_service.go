package services

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
	"github.com/Coverall26/darkroom-cover-sub009/pkg/metrics"
	"go.uber.org/zap"
)

var (
	ErrNoMasterKey   = errors.New("artifact encryption key not configured")
	ErrBadCiphertext = errors.New("stored artifact is malformed")
)

// ArtifactCrypto is the crypto collaborator: AES-256-GCM for signature
// artifacts and at-rest encryption of finalized documents. Per-document
// keys are derived from a master key, and EncryptAtRest generates a fresh
// access credential for each finalized artifact.
type ArtifactCrypto struct {
	blobs     BlobStore
	escrow    KeyEscrow
	masterKey []byte
	logger    *zap.Logger
	metrics   *metrics.Collector
}

func NewArtifactCrypto(blobs BlobStore, escrow KeyEscrow, masterKey string, logger *zap.Logger, collector *metrics.Collector) *ArtifactCrypto {
	var key []byte
	if masterKey != "" {
		sum := sha256.Sum256([]byte(masterKey))
		key = sum[:]
	}
	return &ArtifactCrypto{
		blobs:     blobs,
		escrow:    escrow,
		masterKey: key,
		logger:    logger.With(zap.String("service", "crypto")),
		metrics:   collector,
	}
}

// EncryptSignatureArtifact seals the raw artifact and stores it in the
// blob store, returning the opaque storage reference.
func (ac *ArtifactCrypto) EncryptSignatureArtifact(ctx context.Context, raw []byte, documentID, recipientID string) (string, error) {
	sealed, err := ac.seal(raw, documentID)
	if err != nil {
		return "", err
	}
	ref := fmt.Sprintf("signatures/%s/%s.enc", documentID, recipientID)
	if err := ac.blobs.SaveBytes(ctx, ref, sealed); err != nil {
		return "", err
	}
	ac.metrics.IncrementCounter("artifacts_encrypted", nil)
	return ref, nil
}

// FlattenFinalDocument produces the finalized artifact: source content
// with every recipient's signature metadata stamped in. The real PDF
// flattening pipeline is an external renderer; this composes its input
// manifest and persists the result.
func (ac *ArtifactCrypto) FlattenFinalDocument(ctx context.Context, doc *models.SignatureDocument, recipients []*models.SignatureRecipient) (string, error) {
	url, err := ac.blobs.ResolveContentURL(ctx, doc.StorageRef)
	if err != nil {
		return "", err
	}
	content, err := ac.blobs.FetchBytes(ctx, url)
	if err != nil {
		return "", err
	}

	var manifest bytes.Buffer
	manifest.Write(content)
	manifest.WriteString("\n%%signatures\n")
	for _, rec := range recipients {
		if rec.Status != models.RecipientSigned {
			continue
		}
		signedAt := ""
		if rec.SignedAt != nil {
			signedAt = rec.SignedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&manifest, "%s|%s|%s|%s\n", rec.ID, rec.Email, signedAt, rec.Checksum)
	}

	ref := fmt.Sprintf("finalized/%s.pdf", doc.ID)
	if err := ac.blobs.SaveBytes(ctx, ref, manifest.Bytes()); err != nil {
		return "", err
	}
	ac.logger.Info("finalized artifact written", zap.String("doc_id", doc.ID), zap.String("ref", ref))
	return ref, nil
}

// EncryptAtRest seals the finalized artifact under a freshly generated
// credential and returns the new reference.
func (ac *ArtifactCrypto) EncryptAtRest(ctx context.Context, storageRef string) (string, error) {
	url, err := ac.blobs.ResolveContentURL(ctx, storageRef)
	if err != nil {
		return "", err
	}
	plain, err := ac.blobs.FetchBytes(ctx, url)
	if err != nil {
		return "", err
	}

	credential := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, credential); err != nil {
		return "", err
	}
	sealed, err := sealWithKey(plain, credential)
	if err != nil {
		return "", err
	}

	ref := storageRef + ".enc"
	// The credential goes to escrow before the ciphertext is written:
	// ciphertext without a recoverable key is an outage, ciphertext
	// beside its key is a disclosure.
	if err := ac.escrow.StoreCredential(ctx, ref, credential); err != nil {
		return "", err
	}
	if err := ac.blobs.SaveBytes(ctx, ref, sealed); err != nil {
		return "", err
	}
	ac.metrics.IncrementCounter("documents_encrypted_at_rest", nil)
	return ref, nil
}

func (ac *ArtifactCrypto) seal(plain []byte, documentID string) ([]byte, error) {
	if len(ac.masterKey) == 0 {
		return nil, ErrNoMasterKey
	}
	key := deriveKey(ac.masterKey, documentID)
	return sealWithKey(plain, key)
}

func deriveKey(master []byte, documentID string) []byte {
	h := sha256.New()
	h.Write(master)
	h.Write([]byte(documentID))
	return h.Sum(nil)
}

func sealWithKey(plain, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// Open reverses seal; used by dispute tooling to recover an artifact.
func (ac *ArtifactCrypto) Open(sealed []byte, documentID string) ([]byte, error) {
	if len(ac.masterKey) == 0 {
		return nil, ErrNoMasterKey
	}
	return openWithKey(sealed, deriveKey(ac.masterKey, documentID))
}

func openWithKey(sealed, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrBadCiphertext
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}
