package services

import (
	"context"
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
	"github.com/Coverall26/darkroom-cover-sub009/internal/esign"
	"github.com/Coverall26/darkroom-cover-sub009/internal/store"
	"github.com/Coverall26/darkroom-cover-sub009/pkg/metrics"
	"go.uber.org/zap"
)

// SigningService drives one signing session: load-for-viewing and
// submit-for-signing, both keyed by the recipient's single-use token.
type SigningService struct {
	store    store.Store
	blobs    BlobStore
	crypto   CryptoService
	anomaly  AnomalyDetector
	gate     SubscriptionGate
	router   *SequentialRouter
	cascade  *CascadeService
	logger   *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
	dispatch func(func())
}

func NewSigningService(
	st store.Store,
	blobs BlobStore,
	crypto CryptoService,
	anomaly AnomalyDetector,
	gate SubscriptionGate,
	router *SequentialRouter,
	cascade *CascadeService,
	logger *zap.Logger,
	collector *metrics.Collector,
) *SigningService {
	return &SigningService{
		store:    st,
		blobs:    blobs,
		crypto:   crypto,
		anomaly:  anomaly,
		gate:     gate,
		router:   router,
		cascade:  cascade,
		logger:   logger.With(zap.String("service", "signing")),
		metrics:  collector,
		now:      time.Now,
		dispatch: func(fn func()) { go fn() },
	}
}

// FieldView is the per-recipient projection of a field. A session never
// includes another recipient's fields.
type FieldView struct {
	ID       string           `json:"id"`
	Kind     models.FieldKind `json:"kind"`
	Label    string           `json:"label"`
	Required bool             `json:"required"`
	Value    string           `json:"value"`
	Page     int              `json:"page"`
}

type SigningSession struct {
	DocumentID     string                 `json:"documentId"`
	Title          string                 `json:"title"`
	DocumentStatus models.DocumentStatus  `json:"documentStatus"`
	Recipient      string                 `json:"recipientId"`
	RecipientRole  models.RecipientRole   `json:"recipientRole"`
	Status         models.RecipientStatus `json:"recipientStatus"`
	ContentURL     string                 `json:"contentUrl"`
	ExpiresAt      *time.Time             `json:"expiresAt,omitempty"`
	Fields         []FieldView            `json:"fields"`
	ConsentText    string                 `json:"consentText"`
	ConsentVersion string                 `json:"consentVersion"`
}

type FieldValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type SubmitRequest struct {
	Fields           []FieldValue
	SignatureImage   []byte
	Declined         bool
	DeclinedReason   string
	ConsentConfirmed bool
	IPAddress        string
	UserAgent        string
}

type SubmitResult struct {
	Declined       bool                  `json:"declined"`
	DocumentStatus models.DocumentStatus `json:"documentStatus"`
	Completed      bool                  `json:"completed"`
	Checksum       string                `json:"checksum,omitempty"`
}

// LoadForViewing resolves a token, applies the VIEW transition and
// returns the session scoped to the requesting recipient.
func (s *SigningService) LoadForViewing(ctx context.Context, token, ip, userAgent string) (*SigningSession, error) {
	agg, rec, err := s.store.LoadByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if agg.Document.Expired(now) {
		return nil, esign.ErrDocumentExpired
	}
	if agg.Document.Status.Terminal() {
		return nil, esign.ErrDocumentTerminal
	}
	if rec.Status.Acted() {
		return nil, esign.ErrRecipientActed
	}
	if agg.Document.FundID != nil {
		allowed, err := s.gate.Allow(ctx, *agg.Document.FundID)
		if err != nil {
			s.logger.Error("subscription gate check failed", zap.Error(err), zap.String("doc_id", agg.Document.ID))
		} else if !allowed {
			return nil, ErrPaymentRequired
		}
	}

	recipientID := rec.ID
	if _, err := s.store.ApplyTransition(ctx, agg.Document.ID, func(agg *store.Aggregate) (*esign.TransitionResult, error) {
		cur := findAggRecipient(agg, recipientID)
		if cur == nil {
			return nil, esign.ErrUnknownRecipient
		}
		cur.IPAddress = ip
		cur.UserAgent = userAgent
		return esign.ApplyView(agg.Document, cur, now)
	}); err != nil {
		return nil, err
	}

	// Re-read so the session reflects the applied transition.
	agg, rec, err = s.store.LoadByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	contentURL, err := s.blobs.ResolveContentURL(ctx, agg.Document.StorageRef)
	if err != nil {
		s.logger.Error("resolve content url failed", zap.Error(err), zap.String("doc_id", agg.Document.ID))
	}

	session := &SigningSession{
		DocumentID:     agg.Document.ID,
		Title:          agg.Document.Title,
		DocumentStatus: agg.Document.Status,
		Recipient:      rec.ID,
		RecipientRole:  rec.Role,
		Status:         rec.Status,
		ContentURL:     contentURL,
		ExpiresAt:      agg.Document.ExpiresAt,
		ConsentText:    esign.ConsentText,
		ConsentVersion: esign.ConsentTextVersion,
	}
	for _, f := range agg.RecipientFields(rec.ID) {
		session.Fields = append(session.Fields, FieldView{
			ID:       f.ID,
			Kind:     f.Kind,
			Label:    f.Label,
			Required: f.Required,
			Value:    f.Value,
			Page:     f.Page,
		})
	}
	s.metrics.IncrementCounter("signing_sessions_loaded", nil)
	return session, nil
}

// Submit validates and applies a signing (or decline) submission. The
// signer always gets a definitive outcome for their own action; cascade
// side effects are dispatched after the transaction and never block the
// response.
func (s *SigningService) Submit(ctx context.Context, token string, req SubmitRequest) (*SubmitResult, error) {
	start := s.now()
	agg, rec, err := s.store.LoadByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	doc := agg.Document
	now := s.now()
	if doc.Expired(now) {
		return nil, esign.ErrDocumentExpired
	}
	if doc.Status.Terminal() {
		return nil, esign.ErrDocumentTerminal
	}
	if rec.Status.Acted() {
		return nil, esign.ErrRecipientActed
	}

	allowed, alerts, err := s.anomaly.CheckAndAlert(ctx, AnomalyRequest{
		RecipientID: rec.ID,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		Route:       "submit",
	})
	if err != nil {
		s.logger.Error("anomaly check failed", zap.Error(err), zap.String("recipient_id", rec.ID))
	}
	if len(alerts) > 0 {
		s.logger.Warn("anomaly alerts on submission",
			zap.String("recipient_id", rec.ID),
			zap.Strings("alerts", alerts))
	}
	if err == nil && !allowed {
		s.metrics.IncrementCounter("submissions_blocked", nil)
		return nil, ErrBlocked
	}

	if req.Declined {
		return s.submitDecline(ctx, doc.ID, rec.ID, req, now)
	}

	fields := agg.RecipientFields(rec.ID)
	if err := validateSubmission(rec, fields, req); err != nil {
		return nil, err
	}

	checksum := s.computeChecksum(ctx, doc, rec, now, req.IPAddress)

	artifactRef := ""
	encrypted := false
	if len(req.SignatureImage) > 0 {
		artifactRef, encrypted = s.storeArtifact(ctx, doc.ID, rec.ID, req.SignatureImage)
	}

	values := collectFieldValues(rec, fields, req, now)
	consent := esign.BuildConsentRecord(req.IPAddress, req.UserAgent, models.ConsentChannelBoth, now)

	recipientID := rec.ID
	res, err := s.store.ApplyTransition(ctx, doc.ID, func(agg *store.Aggregate) (*esign.TransitionResult, error) {
		return esign.ApplySign(agg.Document, agg.Recipients, esign.SignAttempt{
			RecipientID: recipientID,
			ArtifactRef: artifactRef,
			Encrypted:   encrypted,
			Checksum:    checksum,
			Consent:     consent,
			IPAddress:   req.IPAddress,
			UserAgent:   req.UserAgent,
			FieldValues: values,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter("recipients_signed", nil)
	s.metrics.ObserveLatency("signing_submit", s.now().Sub(start))

	docID := doc.ID
	if res.DocumentCompleted {
		s.metrics.IncrementCounter("documents_completed", nil)
		s.dispatch(func() { s.cascade.Run(context.Background(), docID) })
	} else {
		s.dispatch(func() { s.router.NotifyNext(context.Background(), docID) })
	}

	status := models.DocumentPartiallySigned
	if res.DocumentCompleted {
		status = models.DocumentCompleted
	} else if !res.DocumentChanged {
		status = doc.Status
	}
	return &SubmitResult{
		DocumentStatus: status,
		Completed:      res.DocumentCompleted,
		Checksum:       checksum,
	}, nil
}

func (s *SigningService) submitDecline(ctx context.Context, documentID, recipientID string, req SubmitRequest, now time.Time) (*SubmitResult, error) {
	_, err := s.store.ApplyTransition(ctx, documentID, func(agg *store.Aggregate) (*esign.TransitionResult, error) {
		cur := findAggRecipient(agg, recipientID)
		if cur != nil {
			cur.IPAddress = req.IPAddress
			cur.UserAgent = req.UserAgent
		}
		return esign.ApplyDecline(agg.Document, agg.Recipients, recipientID, req.DeclinedReason, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementCounter("recipients_declined", nil)
	s.logger.Info("document declined",
		zap.String("doc_id", documentID),
		zap.String("recipient_id", recipientID),
		zap.String("reason", req.DeclinedReason))
	return &SubmitResult{
		Declined:       true,
		DocumentStatus: models.DocumentDeclined,
	}, nil
}

// computeChecksum fetches the authoritative document bytes for the
// digest. Content fetch failures fall back to an empty snapshot (logged)
// rather than aborting the signature.
func (s *SigningService) computeChecksum(ctx context.Context, doc *models.SignatureDocument, rec *models.SignatureRecipient, now time.Time, ip string) string {
	var content []byte
	url, err := s.blobs.ResolveContentURL(ctx, doc.StorageRef)
	if err == nil {
		content, err = s.blobs.FetchBytes(ctx, url)
	}
	if err != nil {
		s.logger.Error("checksum content fetch failed, using best-effort digest",
			zap.Error(err), zap.String("doc_id", doc.ID))
		content = nil
	}
	return esign.ComputeChecksum(rec.ID, doc.ID, content, now, ip)
}

// storeArtifact encrypts the signature artifact through the crypto
// collaborator, storing it raw only when encryption fails.
func (s *SigningService) storeArtifact(ctx context.Context, documentID, recipientID string, raw []byte) (ref string, encrypted bool) {
	ref, err := s.crypto.EncryptSignatureArtifact(ctx, raw, documentID, recipientID)
	if err == nil {
		return ref, true
	}
	s.logger.Error("signature artifact encryption failed, storing unencrypted",
		zap.Error(err), zap.String("doc_id", documentID), zap.String("recipient_id", recipientID))

	ref = "signatures/" + documentID + "/" + recipientID + ".raw"
	if saveErr := s.blobs.SaveBytes(ctx, ref, raw); saveErr != nil {
		s.logger.Error("raw artifact store failed", zap.Error(saveErr), zap.String("doc_id", documentID))
		return "", false
	}
	return ref, false
}

// validateSubmission enforces spec ordering for a non-decline submission:
// signature artifact presence, consent confirmation, field ownership,
// then required-field coverage.
func validateSubmission(rec *models.SignatureRecipient, fields []*models.SignatureField, req SubmitRequest) error {
	needsSignature := false
	byID := make(map[string]*models.SignatureField, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
		if f.Kind == models.FieldSignature && f.Required {
			needsSignature = true
		}
	}

	if needsSignature && len(req.SignatureImage) == 0 {
		return &ValidationError{Reason: "a signature is required to submit this document"}
	}
	if !req.ConsentConfirmed {
		return &ConsentRequiredError{Text: esign.ConsentText, Version: esign.ConsentTextVersion}
	}

	submitted := make(map[string]string, len(req.Fields))
	for _, fv := range req.Fields {
		f, ok := byID[fv.ID]
		if !ok || f.RecipientID != rec.ID {
			return &ValidationError{Reason: "field is not assigned to this recipient", FieldID: fv.ID}
		}
		submitted[fv.ID] = fv.Value
	}

	for _, f := range fields {
		if !f.Required || f.Kind == models.FieldSignature || f.Kind == models.FieldCheckbox {
			continue
		}
		if f.Kind.AutoFillable() {
			continue
		}
		if v, ok := submitted[f.ID]; ok && v != "" {
			continue
		}
		if f.Value != "" {
			continue
		}
		return &ValidationError{Reason: "required field is missing a value", FieldID: f.ID}
	}
	return nil
}

// collectFieldValues merges submitted values with platform auto-fill for
// name/email/date-signed fields.
func collectFieldValues(rec *models.SignatureRecipient, fields []*models.SignatureField, req SubmitRequest, now time.Time) map[string]string {
	values := make(map[string]string)
	for _, fv := range req.Fields {
		if fv.Value != "" {
			values[fv.ID] = fv.Value
		}
	}
	for _, f := range fields {
		if _, ok := values[f.ID]; ok || f.Value != "" {
			continue
		}
		switch f.Kind {
		case models.FieldName:
			values[f.ID] = rec.Name
		case models.FieldEmail:
			values[f.ID] = rec.Email
		case models.FieldDateSigned:
			values[f.ID] = now.UTC().Format("2006-01-02")
		}
	}
	return values
}

func findAggRecipient(agg *store.Aggregate, id string) *models.SignatureRecipient {
	for _, r := range agg.Recipients {
		if r.ID == id {
			return r
		}
	}
	return nil
}
