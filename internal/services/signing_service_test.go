package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
	"github.com/Coverall26/darkroom-cover-sub009/internal/esign"
	"github.com/Coverall26/darkroom-cover-sub009/internal/store"
	"github.com/Coverall26/darkroom-cover-sub009/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type signingFixture struct {
	store    *fakeStore
	blobs    *fakeBlobs
	crypto   *fakeCrypto
	notifier *recordingNotifier
	workflow *recordingWorkflow
	metrics  *metrics.Collector
	svc      *SigningService
}

func newSigningFixture() *signingFixture {
	logger := zap.NewNop()
	collector := metrics.NewCollector()
	st := newFakeStore()
	blobs := newFakeBlobs()
	crypto := &fakeCrypto{}
	notifier := &recordingNotifier{}
	workflow := &recordingWorkflow{}

	router := NewSequentialRouter(st, notifier, "https://sign.example.com", logger)
	router.now = func() time.Time { return fixtureNow }
	cascade := NewCascadeService(st, crypto, notifier, workflow, logger, collector)

	svc := NewSigningService(st, blobs, crypto, PermissiveDetector{}, OpenGate{}, router, cascade, logger, collector)
	svc.now = func() time.Time { return fixtureNow }
	svc.dispatch = func(fn func()) { fn() }

	return &signingFixture{
		store:    st,
		blobs:    blobs,
		crypto:   crypto,
		notifier: notifier,
		workflow: workflow,
		metrics:  collector,
		svc:      svc,
	}
}

// seedDocument creates a SENT document with the given number of signers,
// each with one required signature field, in consecutive routing orders.
func (f *signingFixture) seedDocument(signers int) *models.SignatureDocument {
	doc := &models.SignatureDocument{
		ID:         "doc-1",
		OrgID:      "org-1",
		Title:      "Subscription Agreement",
		StorageRef: "contracts/doc-1.pdf",
		Status:     models.DocumentSent,
		OwnerEmail: "gp@example.com",
		OwnerName:  "General Partner",
	}
	var recs []*models.SignatureRecipient
	var fields []*models.SignatureField
	for i := 1; i <= signers; i++ {
		status := models.RecipientSent
		if i > 1 {
			status = models.RecipientPending
		}
		recs = append(recs, &models.SignatureRecipient{
			ID:           fmt.Sprintf("rec-%d", i),
			DocumentID:   doc.ID,
			Role:         models.RoleSigner,
			RoutingOrder: i,
			Email:        fmt.Sprintf("signer%d@example.com", i),
			Name:         fmt.Sprintf("Signer %d", i),
			SigningToken: fmt.Sprintf("tok-%d", i),
			Status:       status,
		})
		fields = append(fields, &models.SignatureField{
			ID:          fmt.Sprintf("fld-sig-%d", i),
			DocumentID:  doc.ID,
			RecipientID: fmt.Sprintf("rec-%d", i),
			Kind:        models.FieldSignature,
			Required:    true,
		})
	}
	f.store.addDocument(doc, recs, fields)
	f.blobs.data[doc.StorageRef] = []byte("agreement body")
	return doc
}

func validSubmit() SubmitRequest {
	return SubmitRequest{
		SignatureImage:   []byte("png-bytes"),
		ConsentConfirmed: true,
		IPAddress:        "203.0.113.9",
		UserAgent:        "Mozilla/5.0",
	}
}

func TestLoadForViewingMarksViewedAndScopesFields(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(2)

	session, err := f.svc.LoadForViewing(context.Background(), "tok-1", "203.0.113.9", "Mozilla/5.0")
	require.NoError(t, err)

	assert.Equal(t, doc.ID, session.DocumentID)
	assert.Equal(t, models.RecipientViewed, session.Status)
	assert.Equal(t, models.DocumentViewed, session.DocumentStatus)
	assert.Equal(t, "blob://contracts/doc-1.pdf", session.ContentURL)
	assert.Equal(t, esign.ConsentText, session.ConsentText)
	assert.Equal(t, esign.ConsentTextVersion, session.ConsentVersion)

	require.Len(t, session.Fields, 1)
	assert.Equal(t, "fld-sig-1", session.Fields[0].ID)

	assert.Equal(t, 1, f.store.auditCount(doc.ID, models.AuditEventViewed))
}

func TestLoadForViewingRepeatKeepsFirstViewTimestamp(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(1)

	_, err := f.svc.LoadForViewing(context.Background(), "tok-1", "203.0.113.9", "Mozilla/5.0")
	require.NoError(t, err)
	_, err = f.svc.LoadForViewing(context.Background(), "tok-1", "203.0.113.9", "Mozilla/5.0")
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.auditCount(doc.ID, models.AuditEventViewed))
}

func TestLoadForViewingUnknownToken(t *testing.T) {
	f := newSigningFixture()
	f.seedDocument(1)

	_, err := f.svc.LoadForViewing(context.Background(), "tok-ghost", "", "")
	assert.ErrorIs(t, err, store.ErrTokenNotFound)
}

func TestLoadForViewingExpiredDocument(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(1)
	past := fixtureNow.Add(-time.Hour)
	doc.ExpiresAt = &past

	_, err := f.svc.LoadForViewing(context.Background(), "tok-1", "", "")
	assert.ErrorIs(t, err, esign.ErrDocumentExpired)
}

func TestLoadForViewingAfterSigningRejected(t *testing.T) {
	f := newSigningFixture()
	f.seedDocument(1)

	_, err := f.svc.Submit(context.Background(), "tok-1", validSubmit())
	require.NoError(t, err)

	_, err = f.svc.LoadForViewing(context.Background(), "tok-1", "", "")
	assert.ErrorIs(t, err, esign.ErrDocumentTerminal)
}

func TestLoadForViewingPaywall(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(1)
	fundID := "fund-1"
	doc.FundID = &fundID
	f.svc.gate = closedGate{}

	_, err := f.svc.LoadForViewing(context.Background(), "tok-1", "", "")
	assert.ErrorIs(t, err, ErrPaymentRequired)
}

func TestSubmitRequiresSignatureArtifact(t *testing.T) {
	f := newSigningFixture()
	f.seedDocument(1)

	req := validSubmit()
	req.SignatureImage = nil
	_, err := f.svc.Submit(context.Background(), "tok-1", req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "signature is required")
}

func TestSubmitRequiresConsent(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(1)

	req := validSubmit()
	req.ConsentConfirmed = false
	_, err := f.svc.Submit(context.Background(), "tok-1", req)

	var cerr *ConsentRequiredError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, esign.ConsentText, cerr.Text)
	assert.Equal(t, esign.ConsentTextVersion, cerr.Version)

	// nothing was applied
	assert.Equal(t, models.DocumentSent, doc.Status)
	assert.Equal(t, 0, f.store.auditCount(doc.ID, models.AuditEventSigned))
}

func TestSubmitRejectsForeignField(t *testing.T) {
	f := newSigningFixture()
	f.seedDocument(2)

	req := validSubmit()
	req.Fields = []FieldValue{{ID: "fld-sig-2", Value: "x"}}
	_, err := f.svc.Submit(context.Background(), "tok-1", req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "fld-sig-2", verr.FieldID)
}

func TestSubmitRequiredTextFieldMissing(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(1)
	f.store.fields[doc.ID] = append(f.store.fields[doc.ID], &models.SignatureField{
		ID:          "fld-title",
		DocumentID:  doc.ID,
		RecipientID: "rec-1",
		Kind:        models.FieldText,
		Label:       "Job title",
		Required:    true,
	})

	_, err := f.svc.Submit(context.Background(), "tok-1", validSubmit())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "fld-title", verr.FieldID)
}

func TestSubmitAutoFillsPlatformFields(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(1)
	f.store.fields[doc.ID] = append(f.store.fields[doc.ID],
		&models.SignatureField{ID: "fld-name", DocumentID: doc.ID, RecipientID: "rec-1", Kind: models.FieldName, Required: true},
		&models.SignatureField{ID: "fld-email", DocumentID: doc.ID, RecipientID: "rec-1", Kind: models.FieldEmail, Required: true},
		&models.SignatureField{ID: "fld-date", DocumentID: doc.ID, RecipientID: "rec-1", Kind: models.FieldDateSigned, Required: true},
	)

	_, err := f.svc.Submit(context.Background(), "tok-1", validSubmit())
	require.NoError(t, err)

	byID := make(map[string]string)
	for _, fld := range f.store.fields[doc.ID] {
		byID[fld.ID] = fld.Value
	}
	assert.Equal(t, "Signer 1", byID["fld-name"])
	assert.Equal(t, "signer1@example.com", byID["fld-email"])
	assert.Equal(t, "2026-03-15", byID["fld-date"])
}

func TestSubmitSoleSignerCompletesAndCascades(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(1)
	commitmentID := "commit-1"
	doc.CommitmentID = &commitmentID

	res, err := f.svc.Submit(context.Background(), "tok-1", validSubmit())
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, models.DocumentCompleted, res.DocumentStatus)
	assert.Len(t, res.Checksum, 64)

	rec := f.store.recipients[doc.ID][0]
	assert.Equal(t, models.RecipientSigned, rec.Status)
	assert.True(t, rec.Encrypted)
	assert.Equal(t, "signatures/doc-1/rec-1.enc", rec.SignatureRef)
	assert.Equal(t, esign.ConsentTextVersion, rec.Consent.TextVersion)

	// cascade ran synchronously: flatten, at-rest encryption, emails,
	// vault copy and workflow advancement
	assert.Equal(t, "finalized/doc-1.pdf.enc", doc.FinalStorageRef)
	assert.ElementsMatch(t, []string{"signer1@example.com", "gp@example.com"}, f.notifier.completionEmails)
	assert.Len(t, f.store.vault, 1)
	assert.Equal(t, []string{"commit-1"}, f.workflow.advanced)
	assert.Equal(t, 1, f.store.auditCount(doc.ID, models.AuditEventCompleted))
	assert.Equal(t, 1, f.store.auditCount(doc.ID, models.AuditEventCompletionEmail))
}

func TestSubmitChecksumBindsAuthoritativeContent(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(1)

	res, err := f.svc.Submit(context.Background(), "tok-1", validSubmit())
	require.NoError(t, err)

	want := esign.ComputeChecksum("rec-1", doc.ID, []byte("agreement body"), fixtureNow, "203.0.113.9")
	assert.Equal(t, want, res.Checksum)
	assert.Equal(t, want, f.store.recipients[doc.ID][0].Checksum)
}

func TestSubmitSequentialRoutingNotifiesNext(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(2)

	res, err := f.svc.Submit(context.Background(), "tok-1", validSubmit())
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, models.DocumentPartiallySigned, res.DocumentStatus)

	second := f.store.recipients[doc.ID][1]
	assert.Equal(t, models.RecipientSent, second.Status)
	assert.Equal(t, []string{"rec-2"}, f.notifier.signingRequests)
	assert.Empty(t, f.notifier.completionEmails)

	res, err = f.svc.Submit(context.Background(), "tok-2", validSubmit())
	require.NoError(t, err)
	assert.True(t, res.Completed)

	// the cascade fired exactly once, on the completing transition
	assert.Equal(t, 1, f.crypto.flattenRuns)
	assert.Equal(t, 1, f.store.auditCount(doc.ID, models.AuditEventCompleted))
}

func TestSubmitSecondAttemptRejected(t *testing.T) {
	f := newSigningFixture()
	f.seedDocument(2)

	_, err := f.svc.Submit(context.Background(), "tok-1", validSubmit())
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), "tok-1", validSubmit())
	assert.ErrorIs(t, err, esign.ErrRecipientActed)
}

func TestSubmitDeclineVoidsDocument(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(2)

	res, err := f.svc.Submit(context.Background(), "tok-1", SubmitRequest{
		Declined:       true,
		DeclinedReason: "terms unacceptable",
		IPAddress:      "203.0.113.9",
	})
	require.NoError(t, err)

	assert.True(t, res.Declined)
	assert.Equal(t, models.DocumentDeclined, res.DocumentStatus)
	assert.Equal(t, models.DocumentDeclined, doc.Status)
	assert.Equal(t, 1, f.store.auditCount(doc.ID, models.AuditEventDeclined))

	// the second signer is locked out and no cascade ever fires
	_, err = f.svc.Submit(context.Background(), "tok-2", validSubmit())
	assert.ErrorIs(t, err, esign.ErrDocumentTerminal)
	assert.Equal(t, 0, f.crypto.flattenRuns)
}

func TestSubmitAnomalyBlocked(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(1)
	f.svc.anomaly = blockingDetector{}

	_, err := f.svc.Submit(context.Background(), "tok-1", validSubmit())
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, models.DocumentSent, doc.Status)
}

func TestSubmitArtifactEncryptionFallsBackToRaw(t *testing.T) {
	f := newSigningFixture()
	doc := f.seedDocument(1)
	f.crypto.encryptErr = errors.New("kms unavailable")

	res, err := f.svc.Submit(context.Background(), "tok-1", validSubmit())
	require.NoError(t, err)
	assert.True(t, res.Completed)

	rec := f.store.recipients[doc.ID][0]
	assert.False(t, rec.Encrypted)
	assert.Equal(t, "signatures/doc-1/rec-1.raw", rec.SignatureRef)
	assert.Equal(t, []byte("png-bytes"), f.blobs.data["signatures/doc-1/rec-1.raw"])
}
