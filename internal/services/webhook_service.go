package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
	"github.com/Coverall26/darkroom-cover-sub009/internal/esign"
	"github.com/Coverall26/darkroom-cover-sub009/internal/store"
	"github.com/Coverall26/darkroom-cover-sub009/pkg/metrics"
	"go.uber.org/zap"
)

// WebhookService reconciles externally-delivered lifecycle events into
// the same transition core the direct channel uses. Payloads are
// authenticated with an HMAC over the canonicalized body; replays are
// deduplicated by the provider's event ID before any side effect fires.
type WebhookService struct {
	store      store.Store
	cascade    *CascadeService
	secret     string
	production bool
	logger     *zap.Logger
	metrics    *metrics.Collector
	now        func() time.Time
	dispatch   func(func())
}

func NewWebhookService(
	st store.Store,
	cascade *CascadeService,
	secret string,
	production bool,
	logger *zap.Logger,
	collector *metrics.Collector,
) *WebhookService {
	return &WebhookService{
		store:      st,
		cascade:    cascade,
		secret:     secret,
		production: production,
		logger:     logger.With(zap.String("service", "webhook")),
		metrics:    collector,
		now:        time.Now,
		dispatch:   func(fn func()) { go fn() },
	}
}

// Envelope is the external provider's event shape.
type Envelope struct {
	ID        string       `json:"id"`
	Event     string       `json:"event"`
	Timestamp int64        `json:"timestamp"`
	Data      EnvelopeData `json:"data"`
}

type EnvelopeData struct {
	DocumentID    string           `json:"documentId"`
	RecipientID   string           `json:"recipientId,omitempty"`
	AccountID     string           `json:"accountId"`
	Status        string           `json:"status"`
	IPAddress     string           `json:"ipAddress,omitempty"`
	UserAgent     string           `json:"userAgent,omitempty"`
	AllRecipients []RecipientState `json:"allRecipients,omitempty"`
}

type RecipientState struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type WebhookOutcome struct {
	Duplicate bool                  `json:"duplicate"`
	Applied   bool                  `json:"applied"`
	Completed bool                  `json:"completed"`
	Status    models.DocumentStatus `json:"documentStatus,omitempty"`
}

// VerifyMAC authenticates the raw payload. The MAC is computed over the
// canonical re-serialization of the body (sorted object keys), so
// semantically-identical payloads with different key order or whitespace
// still verify. Comparison is constant-time.
//
// With no secret configured the check fails closed in production and
// fails open (with a warning) elsewhere.
func (w *WebhookService) VerifyMAC(rawBody []byte, signatureHeader string) error {
	if w.secret == "" {
		if w.production {
			w.logger.Error("webhook secret not configured, rejecting event")
			return ErrUnauthenticated
		}
		w.logger.Warn("webhook secret not configured, accepting unauthenticated event (non-production)")
		return nil
	}

	sig := strings.TrimSpace(signatureHeader)
	if strings.HasPrefix(strings.ToLower(sig), "sha256=") {
		sig = sig[len("sha256="):]
	}
	if sig == "" {
		return ErrUnauthenticated
	}
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return ErrUnauthenticated
	}

	canonical, err := CanonicalizeJSON(rawBody)
	if err != nil {
		return ErrBadEnvelope
	}
	mac := hmac.New(sha256.New, []byte(w.secret))
	mac.Write(canonical)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return ErrUnauthenticated
	}
	return nil
}

// SignBody computes the canonical-body MAC; used by tests and by
// partner tooling that emits events to this ingress.
func (w *WebhookService) SignBody(rawBody []byte) (string, error) {
	canonical, err := CanonicalizeJSON(rawBody)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(w.secret))
	mac.Write(canonical)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// CanonicalizeJSON re-derives a deterministic serialization of a JSON
// document: object keys sorted, no insignificant whitespace.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	// encoding/json marshals map keys in sorted order at every level.
	return json.Marshal(v)
}

// Process authenticates, validates and reconciles one external event.
func (w *WebhookService) Process(ctx context.Context, rawBody []byte, signatureHeader string) (*WebhookOutcome, error) {
	if err := w.VerifyMAC(rawBody, signatureHeader); err != nil {
		w.metrics.IncrementCounter("webhook_rejected", map[string]string{"reason": "mac"})
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, ErrBadEnvelope
	}
	if env.ID == "" || env.Event == "" || env.Data.DocumentID == "" {
		return nil, ErrBadEnvelope
	}

	seen, err := w.store.SeenWebhookEvent(ctx, env.ID)
	if err != nil {
		return nil, err
	}
	if seen {
		w.metrics.IncrementCounter("webhook_duplicates", nil)
		w.logger.Info("duplicate webhook event skipped",
			zap.String("event_id", env.ID), zap.String("doc_id", env.Data.DocumentID))
		return &WebhookOutcome{Duplicate: true}, nil
	}

	agg, err := w.store.LoadAggregate(ctx, env.Data.DocumentID)
	if err != nil {
		return nil, err
	}
	if env.Data.AccountID != "" && env.Data.AccountID != agg.Document.OrgID {
		w.metrics.IncrementCounter("webhook_rejected", map[string]string{"reason": "tenant"})
		w.logger.Warn("webhook tenant mismatch",
			zap.String("event_id", env.ID),
			zap.String("doc_id", env.Data.DocumentID),
			zap.String("claimed_org", env.Data.AccountID))
		return nil, ErrForbidden
	}

	ev := esign.ExternalEvent{
		ID:          env.ID,
		Event:       mapExternalEvent(env.Event),
		RecipientID: env.Data.RecipientID,
		IPAddress:   env.Data.IPAddress,
		UserAgent:   env.Data.UserAgent,
		OccurredAt:  time.Unix(env.Timestamp, 0).UTC(),
	}
	now := w.now()

	res, err := w.store.ApplyTransition(ctx, env.Data.DocumentID, func(agg *store.Aggregate) (*esign.TransitionResult, error) {
		out, err := esign.ReconcileExternal(agg.Document, agg.Recipients, ev, now)
		if err != nil {
			return nil, err
		}
		for i := range out.Audit {
			out.Audit[i].Source = models.AuditSourceWebhook
			out.Audit[i].ExternalEventID = env.ID
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(rawBody)
	if err := w.store.RecordWebhookEvent(ctx, models.WebhookReceipt{
		ExternalEventID: env.ID,
		DocumentID:      env.Data.DocumentID,
		Event:           env.Event,
		PayloadSHA256:   hex.EncodeToString(sum[:]),
		ReceivedAt:      now.UTC(),
	}); err != nil {
		w.logger.Error("webhook receipt record failed", zap.Error(err), zap.String("event_id", env.ID))
	}

	w.metrics.IncrementCounter("webhook_events_reconciled", map[string]string{"event": env.Event})

	docID := env.Data.DocumentID
	if res.DocumentCompleted {
		w.metrics.IncrementCounter("documents_completed", nil)
		w.dispatch(func() { w.cascade.Run(context.Background(), docID) })
	}

	outcome := &WebhookOutcome{
		Applied:   res.DocumentChanged || len(res.ChangedRecipients) > 0,
		Completed: res.DocumentCompleted,
	}
	if agg, err := w.store.LoadAggregate(ctx, docID); err == nil {
		outcome.Status = agg.Document.Status
		w.auditRecipientDrift(&env, agg)
	}
	return outcome, nil
}

// auditRecipientDrift compares the provider's per-recipient snapshot
// against the reconciled local state. Divergence is logged and counted,
// never applied: per-recipient transitions only enter through their own
// authenticated events.
func (w *WebhookService) auditRecipientDrift(env *Envelope, agg *store.Aggregate) {
	if len(env.Data.AllRecipients) == 0 {
		return
	}
	local := make(map[string]models.RecipientStatus, len(agg.Recipients))
	for _, r := range agg.Recipients {
		local[r.ID] = r.Status
	}
	for _, rs := range env.Data.AllRecipients {
		got, ok := local[rs.ID]
		if !ok {
			w.metrics.IncrementCounter("webhook_recipient_drift", map[string]string{"kind": "unknown_recipient"})
			w.logger.Warn("webhook snapshot names unknown recipient",
				zap.String("event_id", env.ID),
				zap.String("doc_id", env.Data.DocumentID),
				zap.String("recipient_id", rs.ID))
			continue
		}
		claimed := models.RecipientStatus(strings.ToUpper(strings.TrimSpace(rs.Status)))
		if claimed != "" && claimed != got {
			w.metrics.IncrementCounter("webhook_recipient_drift", map[string]string{"kind": "status_mismatch"})
			w.logger.Warn("webhook snapshot disagrees with reconciled state",
				zap.String("event_id", env.ID),
				zap.String("doc_id", env.Data.DocumentID),
				zap.String("recipient_id", rs.ID),
				zap.String("provider_status", rs.Status),
				zap.String("local_status", string(got)))
		}
	}
}

func mapExternalEvent(event string) string {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "signed", "recipient.signed", "recipient_signed":
		return esign.ExternalEventSigned
	case "completed", "document.completed", "document_completed":
		return esign.ExternalEventCompleted
	case "declined", "recipient.declined", "recipient_declined":
		return esign.ExternalEventDeclined
	case "viewed", "recipient.viewed", "recipient_viewed":
		return esign.ExternalEventViewed
	default:
		return event
	}
}
