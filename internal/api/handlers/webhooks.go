package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/Coverall26/darkroom-cover-sub009/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20 // 1MB

// SignatureHeader carries the hex HMAC over the canonicalized body.
const SignatureHeader = "X-Esign-Signature"

type WebhookHandler struct {
	webhooks *services.WebhookService
	logger   *zap.Logger
}

func NewWebhookHandler(webhooks *services.WebhookService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		logger:   logger.With(zap.String("handler", "webhook")),
	}
}

// Ingress receives externally-delivered lifecycle events.
func (h *WebhookHandler) Ingress(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, http.StatusRequestEntityTooLarge, "VALIDATION", "payload exceeds 1MB limit")
			return
		}
		writeError(c, http.StatusBadRequest, "VALIDATION", "unreadable request body")
		return
	}

	outcome, err := h.webhooks.Process(c.Request.Context(), rawBody, c.GetHeader(SignatureHeader))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}
