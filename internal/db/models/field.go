package models

import (
	"time"
)

type FieldKind string

const (
	FieldSignature  FieldKind = "SIGNATURE"
	FieldText       FieldKind = "TEXT"
	FieldCheckbox   FieldKind = "CHECKBOX"
	FieldDate       FieldKind = "DATE"
	FieldName       FieldKind = "NAME"
	FieldEmail      FieldKind = "EMAIL"
	FieldDateSigned FieldKind = "DATE_SIGNED"
)

// AutoFillable field kinds are populated by the platform from recipient
// data at signing time, so a required field of these kinds never blocks
// submission.
func (k FieldKind) AutoFillable() bool {
	switch k {
	case FieldName, FieldEmail, FieldDateSigned:
		return true
	}
	return false
}

// SignatureField is a placeholder on the document assigned to exactly one
// recipient.
type SignatureField struct {
	ID          string `gorm:"primaryKey"`
	DocumentID  string `gorm:"index;not null"`
	RecipientID string `gorm:"index;not null"`

	Kind     FieldKind `gorm:"not null"`
	Label    string
	Required bool `gorm:"not null;default:false"`
	Value    string
	Page     int

	CreatedAt time.Time
	UpdatedAt time.Time
}
