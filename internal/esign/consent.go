package esign

import (
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
)

// ConsentText is the electronic-signature disclosure a signer must
// affirmatively accept before submission. ConsentTextVersion is stamped
// into every ConsentRecord so future wording changes never retroactively
// alter what a past signer agreed to.
const (
	ConsentTextVersion = "2024-02"
	ConsentText        = "By checking this box and signing, I agree that my electronic " +
		"signature is the legal equivalent of my handwritten signature, and I " +
		"consent to conduct this transaction and receive related records " +
		"electronically."
)

// BuildConsentRecord captures proof of consent for the current consent
// text version.
func BuildConsentRecord(ip, userAgent, channel string, now time.Time) models.ConsentRecord {
	if channel == "" {
		channel = models.ConsentChannelBoth
	}
	return models.ConsentRecord{
		TextVersion: ConsentTextVersion,
		AgreedAt:    now.UTC(),
		IPAddress:   ip,
		UserAgent:   userAgent,
		Channel:     channel,
	}
}
