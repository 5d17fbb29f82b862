package models

import (
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RecipientRole string

const (
	RoleSigner   RecipientRole = "SIGNER"
	RoleApprover RecipientRole = "APPROVER"
	RoleCC       RecipientRole = "CC"
	RoleViewer   RecipientRole = "VIEWER"
)

// MustSign reports whether this role's signature counts toward document
// completion. CC and VIEWER recipients never block completion.
func (r RecipientRole) MustSign() bool {
	return r == RoleSigner || r == RoleApprover
}

type RecipientStatus string

const (
	RecipientPending  RecipientStatus = "PENDING"
	RecipientSent     RecipientStatus = "SENT"
	RecipientViewed   RecipientStatus = "VIEWED"
	RecipientSigned   RecipientStatus = "SIGNED"
	RecipientDeclined RecipientStatus = "DECLINED"
)

// Acted reports whether the recipient has reached a state from which no
// further transition is allowed for them.
func (s RecipientStatus) Acted() bool {
	return s == RecipientSigned || s == RecipientDeclined
}

// ConsentRecord is immutable proof that a signer affirmatively agreed to
// electronic-signature terms. The text version is stamped at capture time
// so later consent-text revisions never alter past consents.
type ConsentRecord struct {
	TextVersion string
	AgreedAt    time.Time
	IPAddress   string
	UserAgent   string
	Channel     string
}

const ConsentChannelBoth = "BOTH"

// SignatureRecipient is one participant on a document. The signing token
// is the recipient's only credential: single-use, unguessable, scoped to
// exactly one recipient on one document.
type SignatureRecipient struct {
	ID         string `gorm:"primaryKey"`
	DocumentID string `gorm:"index;not null"`

	Role         RecipientRole `gorm:"not null;default:'SIGNER'"`
	RoutingOrder int           `gorm:"not null;default:1"`
	Email        string        `gorm:"not null"`
	Name         string

	SigningToken string          `gorm:"uniqueIndex;not null"`
	Status       RecipientStatus `gorm:"not null;default:'PENDING'"`

	ViewedAt      *time.Time
	SignedAt      *time.Time
	DeclinedAt    *time.Time
	DeclineReason string

	// SignatureRef is an opaque reference to the signature artifact,
	// encrypted by the crypto collaborator before persistence. Encrypted
	// is false only when encryption failed and the raw artifact was kept.
	SignatureRef string
	Encrypted    bool

	IPAddress string
	UserAgent string
	Checksum  string

	Consent ConsentRecord `gorm:"embedded;embeddedPrefix:consent_"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns the ID and mints the signing token so callers can
// never insert a recipient with a guessable or reused credential.
func (r *SignatureRecipient) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.SigningToken == "" {
		token, err := utils.GenerateSigningToken()
		if err != nil {
			return err
		}
		r.SigningToken = token
	}
	return nil
}
