// Package store is the persistence collaborator for the signing engine.
// The Document+Recipients aggregate is the unit of consistency: every
// status decision and write happens inside ApplyTransition, which scopes
// a single atomic transaction to one document.
package store

import (
	"context"
	"errors"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
	"github.com/Coverall26/darkroom-cover-sub009/internal/esign"
)

var (
	ErrTokenNotFound    = errors.New("signing token not found")
	ErrDocumentNotFound = errors.New("document not found")
)

// Aggregate is a consistent snapshot of one document with all of its
// recipients and fields. Inside ApplyTransition the snapshot is read
// under a row lock on the document, so two concurrent transitions for the
// same document serialize.
type Aggregate struct {
	Document   *models.SignatureDocument
	Recipients []*models.SignatureRecipient
	Fields     []*models.SignatureField
}

// RecipientFields returns the fields assigned to one recipient.
func (a *Aggregate) RecipientFields(recipientID string) []*models.SignatureField {
	var out []*models.SignatureField
	for _, f := range a.Fields {
		if f.RecipientID == recipientID {
			out = append(out, f)
		}
	}
	return out
}

// ApplyFunc runs the pure transition against a locked aggregate. The
// returned result tells the store what to persist; returning an error
// rolls the transaction back with nothing written.
type ApplyFunc func(agg *Aggregate) (*esign.TransitionResult, error)

type Store interface {
	// LoadByToken resolves a signing token to its recipient and the
	// owning aggregate. Returns ErrTokenNotFound for unknown tokens.
	LoadByToken(ctx context.Context, token string) (*Aggregate, *models.SignatureRecipient, error)

	// LoadAggregate reads an aggregate outside any transaction, for
	// read-only consumers such as the completion cascade.
	LoadAggregate(ctx context.Context, documentID string) (*Aggregate, error)

	// ApplyTransition executes apply against a freshly-read, locked
	// aggregate and persists the mutations it reports, atomically.
	ApplyTransition(ctx context.Context, documentID string, apply ApplyFunc) (*esign.TransitionResult, error)

	AppendAudit(ctx context.Context, entry models.AuditEvent) error
	HasAuditEvent(ctx context.Context, documentID, event string) (bool, error)

	// UpsertVaultEntry inserts a vault copy, reporting false when the
	// (participant, document) pair already holds one.
	UpsertVaultEntry(ctx context.Context, entry models.VaultEntry) (bool, error)

	SeenWebhookEvent(ctx context.Context, externalEventID string) (bool, error)
	RecordWebhookEvent(ctx context.Context, receipt models.WebhookReceipt) error

	UpdateFinalStorageRef(ctx context.Context, documentID, ref string) error
}
