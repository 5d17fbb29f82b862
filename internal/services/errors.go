package services

import (
	"errors"
	"fmt"
)

var (
	ErrBlocked         = errors.New("request blocked by anomaly check")
	ErrPaymentRequired = errors.New("fund subscription payment required")
	ErrUnauthenticated = errors.New("webhook signature missing or invalid")
	ErrForbidden       = errors.New("event tenant does not match document tenant")
	ErrBadEnvelope     = errors.New("malformed event envelope")
)

// ValidationError is a user-actionable submission rejection. FieldID is
// set when the rejection concerns one specific field.
type ValidationError struct {
	Reason  string
	FieldID string
}

func (e *ValidationError) Error() string {
	if e.FieldID != "" {
		return fmt.Sprintf("%s (field %s)", e.Reason, e.FieldID)
	}
	return e.Reason
}

// ConsentRequiredError carries the exact consent text and version so the
// client can render the disclosure it must collect agreement to.
type ConsentRequiredError struct {
	Text    string
	Version string
}

func (e *ConsentRequiredError) Error() string {
	return "consent confirmation required"
}
