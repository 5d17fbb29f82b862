package handlers

import (
	"errors"
	"net/http"

	"github.com/Coverall26/darkroom-cover-sub009/internal/esign"
	"github.com/Coverall26/darkroom-cover-sub009/internal/services"
	"github.com/Coverall26/darkroom-cover-sub009/internal/store"
	"github.com/gin-gonic/gin"
)

// respondError maps service and transition errors onto the wire
// taxonomy. Every rejection is structured and user-actionable; nothing
// fails silently.
func respondError(c *gin.Context, err error) {
	var vErr *services.ValidationError
	var cErr *services.ConsentRequiredError

	switch {
	case errors.Is(err, store.ErrTokenNotFound),
		errors.Is(err, store.ErrDocumentNotFound),
		errors.Is(err, esign.ErrUnknownRecipient):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "document or signing link not found")

	case errors.Is(err, esign.ErrDocumentExpired):
		writeError(c, http.StatusGone, "EXPIRED", "this document has expired and can no longer be signed")

	case errors.Is(err, esign.ErrDocumentTerminal):
		writeError(c, http.StatusConflict, "TERMINAL_STATE", "this document is closed and cannot be modified")

	case errors.Is(err, esign.ErrRecipientActed):
		writeError(c, http.StatusConflict, "ALREADY_ACTED", "you have already signed or declined this document")

	case errors.As(err, &cErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":          "CONSENT_REQUIRED",
			"message":        "electronic signature consent must be confirmed",
			"consentText":    cErr.Text,
			"consentVersion": cErr.Version,
		})

	case errors.As(err, &vErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "VALIDATION",
			"message": vErr.Reason,
			"fieldId": vErr.FieldID,
		})

	case errors.Is(err, services.ErrBadEnvelope):
		writeError(c, http.StatusBadRequest, "VALIDATION", "malformed event payload")

	case errors.Is(err, services.ErrBlocked):
		writeError(c, http.StatusForbidden, "BLOCKED", "this request was blocked")

	case errors.Is(err, services.ErrPaymentRequired):
		writeError(c, http.StatusPaymentRequired, "PAYMENT_REQUIRED", "the owning fund's subscription is not active")

	case errors.Is(err, services.ErrUnauthenticated):
		writeError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "event signature missing or invalid")

	case errors.Is(err, services.ErrForbidden):
		writeError(c, http.StatusForbidden, "FORBIDDEN", "event does not belong to this account")

	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL", "something went wrong")
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": code, "message": message})
}
