package models

import (
	"time"
)

// VaultEntry is a copy of a finalized artifact placed in a signer's
// personal document vault. The (participant, document) unique index makes
// cascade replays insert-or-skip rather than duplicate.
type VaultEntry struct {
	ID               uint   `gorm:"primaryKey"`
	ParticipantEmail string `gorm:"uniqueIndex:idx_vault_participant_doc;not null"`
	DocumentID       string `gorm:"uniqueIndex:idx_vault_participant_doc;not null"`
	StorageRef       string `gorm:"not null"`
	Title            string

	CreatedAt time.Time
}

// WebhookReceipt records an externally-delivered lifecycle event that has
// already been reconciled, keyed by the provider's event identifier.
// Replays of the same event short-circuit before any side effect fires.
type WebhookReceipt struct {
	ID              uint   `gorm:"primaryKey"`
	ExternalEventID string `gorm:"uniqueIndex;not null"`
	DocumentID      string `gorm:"index"`
	Event           string `gorm:"not null"`
	PayloadSHA256   string

	ReceivedAt time.Time
}
