package models

import (
	"time"
)

type DocumentStatus string

const (
	DocumentSent            DocumentStatus = "SENT"
	DocumentViewed          DocumentStatus = "VIEWED"
	DocumentPartiallySigned DocumentStatus = "PARTIALLY_SIGNED"
	DocumentCompleted       DocumentStatus = "COMPLETED"
	DocumentDeclined        DocumentStatus = "DECLINED"
	DocumentVoided          DocumentStatus = "VOIDED"
	DocumentExpired         DocumentStatus = "EXPIRED"
)

// Terminal reports whether no further recipient or field mutation is
// permitted for a document in this status.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocumentCompleted, DocumentDeclined, DocumentVoided, DocumentExpired:
		return true
	}
	return false
}

type DocumentType string

const (
	DocumentTypeStandard     DocumentType = "STANDARD"
	DocumentTypeSubscription DocumentType = "SUBSCRIPTION"
)

// SignatureDocument is one execution unit. Created by the authoring
// workflow; mutated only through the esign transition core; never
// hard-deleted (legal retention).
type SignatureDocument struct {
	ID           string         `gorm:"primaryKey"`
	OrgID        string         `gorm:"index;not null"`
	Title        string         `gorm:"not null"`
	DocumentType DocumentType   `gorm:"not null;default:'STANDARD'"`
	StorageRef   string         `gorm:"not null"`
	Status       DocumentStatus `gorm:"not null;default:'SENT'"`

	// FundID gates signing behind the owning fund's subscription check.
	FundID       *string
	CommitmentID *string

	OwnerEmail string
	OwnerName  string

	ExpiresAt   *time.Time
	CompletedAt *time.Time

	// FinalStorageRef points at the flattened, at-rest-encrypted artifact
	// produced by the completion cascade.
	FinalStorageRef string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired evaluates expiration lazily at request time. Stored status is
// not consulted; a document past its deadline is expired even if no
// background sweep ever ran.
func (d *SignatureDocument) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && now.After(*d.ExpiresAt)
}

// AuditEvent is one entry in a document's append-only audit trail.
// Entries are only ever inserted, never updated or deleted.
type AuditEvent struct {
	ID         uint   `gorm:"primaryKey"`
	DocumentID string `gorm:"index;not null"`
	Event      string `gorm:"not null"`

	// Source distinguishes direct-channel entries from reconciled webhook
	// events; ExternalEventID carries the provider's event identifier for
	// webhook-origin entries.
	Source          string `gorm:"not null;default:'direct'"`
	ExternalEventID string `gorm:"index"`

	RecipientID string
	ActorEmail  string
	ActorIP     string
	ActorAgent  string
	Details     string `gorm:"type:json"`

	CreatedAt time.Time
}

const (
	AuditSourceDirect  = "direct"
	AuditSourceWebhook = "webhook"
)

const (
	AuditEventViewed          = "recipient_viewed"
	AuditEventSigned          = "recipient_signed"
	AuditEventDeclined        = "recipient_declined"
	AuditEventRouted          = "recipient_routed"
	AuditEventCompleted       = "document_completed"
	AuditEventCompletionEmail = "completion_email_sent"
)
