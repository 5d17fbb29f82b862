package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/Coverall26/darkroom-cover-sub009/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SigningHandler struct {
	signing *services.SigningService
	logger  *zap.Logger
}

func NewSigningHandler(signing *services.SigningService, logger *zap.Logger) *SigningHandler {
	return &SigningHandler{
		signing: signing,
		logger:  logger.With(zap.String("handler", "signing")),
	}
}

// Load resolves a signing token, applies the VIEW transition and returns
// the session. Idempotent from the signer's perspective; reloading the
// page is safe.
func (h *SigningHandler) Load(c *gin.Context) {
	token := c.Param("token")
	session, err := h.signing.LoadForViewing(c.Request.Context(), token, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type submitPayload struct {
	Fields           []services.FieldValue `json:"fields"`
	SignatureImage   string                `json:"signatureImage"`
	Declined         bool                  `json:"declined"`
	DeclinedReason   string                `json:"declinedReason"`
	ConsentConfirmed bool                  `json:"consentConfirmed"`
}

// Submit accepts field values and either a signature or a decline.
func (h *SigningHandler) Submit(c *gin.Context) {
	token := c.Param("token")

	var payload submitPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}

	var artifact []byte
	if payload.SignatureImage != "" {
		raw, err := base64.StdEncoding.DecodeString(payload.SignatureImage)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION", "signatureImage must be base64-encoded")
			return
		}
		artifact = raw
	}

	result, err := h.signing.Submit(c.Request.Context(), token, services.SubmitRequest{
		Fields:           payload.Fields,
		SignatureImage:   artifact,
		Declined:         payload.Declined,
		DeclinedReason:   payload.DeclinedReason,
		ConsentConfirmed: payload.ConsentConfirmed,
		IPAddress:        c.ClientIP(),
		UserAgent:        c.Request.UserAgent(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
