package services

import (
	"context"
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
	"github.com/Coverall26/darkroom-cover-sub009/internal/store"
	"github.com/Coverall26/darkroom-cover-sub009/pkg/metrics"
	"go.uber.org/zap"
)

// CascadeService fires the ordered set of downstream effects once a
// document reaches COMPLETED. The caller guards invocation with the
// transition that flipped the status, so the cascade runs exactly once
// per document; each effect is independent and a failure in one never
// blocks or rolls back the others.
type CascadeService struct {
	store    store.Store
	crypto   CryptoService
	notifier Notifier
	workflow CommitmentWorkflow
	logger   *zap.Logger
	metrics  *metrics.Collector
	timeout  time.Duration
}

func NewCascadeService(
	st store.Store,
	crypto CryptoService,
	notifier Notifier,
	workflow CommitmentWorkflow,
	logger *zap.Logger,
	collector *metrics.Collector,
) *CascadeService {
	return &CascadeService{
		store:    st,
		crypto:   crypto,
		notifier: notifier,
		workflow: workflow,
		logger:   logger.With(zap.String("service", "cascade")),
		metrics:  collector,
		timeout:  2 * time.Minute,
	}
}

// EffectResult reports one cascade effect's outcome to the supervising
// layer instead of swallowing it in an unobserved goroutine.
type EffectResult struct {
	Name string
	Err  error
}

// Run executes the five completion effects in order and returns a result
// per effect. Failures are logged here; nothing propagates to the signer.
func (c *CascadeService) Run(ctx context.Context, documentID string) []EffectResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	agg, err := c.store.LoadAggregate(ctx, documentID)
	if err != nil {
		c.logger.Error("cascade aggregate load failed", zap.Error(err), zap.String("doc_id", documentID))
		return []EffectResult{{Name: "load", Err: err}}
	}
	doc := agg.Document

	results := []EffectResult{
		{Name: "flatten", Err: c.flatten(ctx, agg)},
		{Name: "encrypt_at_rest", Err: c.encryptAtRest(ctx, documentID)},
		{Name: "completion_emails", Err: c.sendCompletionEmails(ctx, agg)},
		{Name: "vault_copies", Err: c.copyToVaults(ctx, agg)},
		{Name: "advance_commitment", Err: c.advanceCommitment(ctx, doc)},
	}

	for _, r := range results {
		if r.Err != nil {
			c.metrics.IncrementCounter("cascade_effect_failures", map[string]string{"effect": r.Name})
			c.logger.Error("cascade effect failed",
				zap.String("doc_id", documentID),
				zap.String("effect", r.Name),
				zap.Error(r.Err))
		}
	}
	c.metrics.IncrementCounter("cascades_run", nil)
	c.logger.Info("completion cascade finished", zap.String("doc_id", documentID))
	return results
}

func (c *CascadeService) flatten(ctx context.Context, agg *store.Aggregate) error {
	ref, err := c.crypto.FlattenFinalDocument(ctx, agg.Document, agg.Recipients)
	if err != nil {
		return err
	}
	return c.store.UpdateFinalStorageRef(ctx, agg.Document.ID, ref)
}

func (c *CascadeService) encryptAtRest(ctx context.Context, documentID string) error {
	// Re-read so this effect picks up the ref the flatten effect just
	// wrote; if flatten failed there is nothing to encrypt.
	agg, err := c.store.LoadAggregate(ctx, documentID)
	if err != nil {
		return err
	}
	if agg.Document.FinalStorageRef == "" {
		return nil
	}
	ref, err := c.crypto.EncryptAtRest(ctx, agg.Document.FinalStorageRef)
	if err != nil {
		return err
	}
	return c.store.UpdateFinalStorageRef(ctx, documentID, ref)
}

// sendCompletionEmails notifies every recipient plus the originating
// owner. Delivery is deduplicated against the audit trail so a replayed
// completion event cannot double-send.
func (c *CascadeService) sendCompletionEmails(ctx context.Context, agg *store.Aggregate) error {
	doc := agg.Document
	sent, err := c.store.HasAuditEvent(ctx, doc.ID, models.AuditEventCompletionEmail)
	if err != nil {
		return err
	}
	if sent {
		c.logger.Info("completion emails already sent, skipping", zap.String("doc_id", doc.ID))
		return nil
	}

	var firstErr error
	for _, rec := range agg.Recipients {
		if err := c.notifier.SendCompletionEmail(ctx, rec.Email, rec.Name, doc); err != nil {
			c.logger.Error("completion email failed",
				zap.Error(err), zap.String("doc_id", doc.ID), zap.String("email", rec.Email))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if doc.OwnerEmail != "" {
		if err := c.notifier.SendCompletionEmail(ctx, doc.OwnerEmail, doc.OwnerName, doc); err != nil {
			c.logger.Error("owner completion email failed", zap.Error(err), zap.String("doc_id", doc.ID))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := c.store.AppendAudit(ctx, models.AuditEvent{
		DocumentID: doc.ID,
		Event:      models.AuditEventCompletionEmail,
		Source:     models.AuditSourceDirect,
		CreatedAt:  time.Now().UTC(),
	}); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// copyToVaults places the finalized artifact in each signer's personal
// vault. The (participant, document) key makes replays insert-or-skip.
func (c *CascadeService) copyToVaults(ctx context.Context, agg *store.Aggregate) error {
	doc := agg.Document
	ref := doc.FinalStorageRef
	if ref == "" {
		ref = doc.StorageRef
	}
	var firstErr error
	for _, rec := range agg.Recipients {
		if rec.Role != models.RoleSigner {
			continue
		}
		inserted, err := c.store.UpsertVaultEntry(ctx, models.VaultEntry{
			ParticipantEmail: rec.Email,
			DocumentID:       doc.ID,
			StorageRef:       ref,
			Title:            doc.Title,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !inserted {
			c.logger.Info("vault entry already present",
				zap.String("doc_id", doc.ID), zap.String("email", rec.Email))
		}
	}
	return firstErr
}

// advanceCommitment moves the linked financial workflow forward. For
// subscription documents the workflow marks the subscription executed;
// monetary aggregates are owned elsewhere and are never touched here.
func (c *CascadeService) advanceCommitment(ctx context.Context, doc *models.SignatureDocument) error {
	if doc.CommitmentID == nil {
		return nil
	}
	return c.workflow.AdvanceStage(ctx, *doc.CommitmentID, doc.DocumentType)
}
