package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
	"github.com/Coverall26/darkroom-cover-sub009/internal/esign"
	"github.com/Coverall26/darkroom-cover-sub009/internal/store"
)

// fakeStore is an in-memory store.Store. Transitions mutate the held
// aggregate directly; tests run with a synchronous dispatch so there is
// no cross-goroutine access to guard beyond the mutex.
type fakeStore struct {
	mu         sync.Mutex
	docs       map[string]*models.SignatureDocument
	recipients map[string][]*models.SignatureRecipient
	fields     map[string][]*models.SignatureField
	audits     []models.AuditEvent
	vault      map[string]models.VaultEntry
	receipts   map[string]models.WebhookReceipt

	transitions int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:       make(map[string]*models.SignatureDocument),
		recipients: make(map[string][]*models.SignatureRecipient),
		fields:     make(map[string][]*models.SignatureField),
		vault:      make(map[string]models.VaultEntry),
		receipts:   make(map[string]models.WebhookReceipt),
	}
}

func (f *fakeStore) addDocument(doc *models.SignatureDocument, recipients []*models.SignatureRecipient, fields []*models.SignatureField) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	f.recipients[doc.ID] = recipients
	f.fields[doc.ID] = fields
}

func (f *fakeStore) aggregate(documentID string) (*store.Aggregate, error) {
	doc, ok := f.docs[documentID]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	return &store.Aggregate{
		Document:   doc,
		Recipients: f.recipients[documentID],
		Fields:     f.fields[documentID],
	}, nil
}

func (f *fakeStore) LoadByToken(_ context.Context, token string) (*store.Aggregate, *models.SignatureRecipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for docID, recs := range f.recipients {
		for _, rec := range recs {
			if rec.SigningToken == token {
				agg, err := f.aggregate(docID)
				if err != nil {
					return nil, nil, err
				}
				return agg, rec, nil
			}
		}
	}
	return nil, nil, store.ErrTokenNotFound
}

func (f *fakeStore) LoadAggregate(_ context.Context, documentID string) (*store.Aggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aggregate(documentID)
}

func (f *fakeStore) ApplyTransition(_ context.Context, documentID string, apply store.ApplyFunc) (*esign.TransitionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agg, err := f.aggregate(documentID)
	if err != nil {
		return nil, err
	}
	res, err := apply(agg)
	if err != nil {
		return nil, err
	}
	f.transitions++
	for id, value := range res.FieldValues {
		for _, field := range f.fields[documentID] {
			if field.ID == id {
				field.Value = value
			}
		}
	}
	f.audits = append(f.audits, res.Audit...)
	return res, nil
}

func (f *fakeStore) AppendAudit(_ context.Context, entry models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeStore) HasAuditEvent(_ context.Context, documentID, event string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.audits {
		if e.DocumentID == documentID && e.Event == event {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) auditCount(documentID, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.audits {
		if e.DocumentID == documentID && e.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeStore) UpsertVaultEntry(_ context.Context, entry models.VaultEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := entry.ParticipantEmail + "|" + entry.DocumentID
	if _, ok := f.vault[key]; ok {
		return false, nil
	}
	f.vault[key] = entry
	return true, nil
}

func (f *fakeStore) SeenWebhookEvent(_ context.Context, externalEventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.receipts[externalEventID]
	return ok, nil
}

func (f *fakeStore) RecordWebhookEvent(_ context.Context, receipt models.WebhookReceipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[receipt.ExternalEventID] = receipt
	return nil
}

func (f *fakeStore) UpdateFinalStorageRef(_ context.Context, documentID, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return store.ErrDocumentNotFound
	}
	doc.FinalStorageRef = ref
	return nil
}

// fakeBlobs keeps blobs in a map keyed by storage ref.
type fakeBlobs struct {
	mu       sync.Mutex
	data     map[string][]byte
	fetchErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{data: make(map[string][]byte)}
}

func (b *fakeBlobs) ResolveContentURL(_ context.Context, storageRef string) (string, error) {
	return "blob://" + storageRef, nil
}

func (b *fakeBlobs) FetchBytes(_ context.Context, url string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	ref := strings.TrimPrefix(url, "blob://")
	data, ok := b.data[ref]
	if !ok {
		return nil, errors.New("blob not found: " + ref)
	}
	return data, nil
}

func (b *fakeBlobs) SaveBytes(_ context.Context, storageRef string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[storageRef] = data
	return nil
}

type fakeEscrow struct {
	mu          sync.Mutex
	credentials map[string][]byte
	storeErr    error
}

func newFakeEscrow() *fakeEscrow {
	return &fakeEscrow{credentials: make(map[string][]byte)}
}

func (e *fakeEscrow) StoreCredential(_ context.Context, ref string, credential []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.storeErr != nil {
		return e.storeErr
	}
	e.credentials[ref] = credential
	return nil
}

// fakeCrypto mirrors the ArtifactCrypto ref conventions without doing
// real encryption.
type fakeCrypto struct {
	encryptErr error
	flattenErr error

	mu          sync.Mutex
	flattenRuns int
}

func (c *fakeCrypto) EncryptSignatureArtifact(_ context.Context, _ []byte, documentID, recipientID string) (string, error) {
	if c.encryptErr != nil {
		return "", c.encryptErr
	}
	return "signatures/" + documentID + "/" + recipientID + ".enc", nil
}

func (c *fakeCrypto) FlattenFinalDocument(_ context.Context, doc *models.SignatureDocument, _ []*models.SignatureRecipient) (string, error) {
	c.mu.Lock()
	c.flattenRuns++
	c.mu.Unlock()
	if c.flattenErr != nil {
		return "", c.flattenErr
	}
	return "finalized/" + doc.ID + ".pdf", nil
}

func (c *fakeCrypto) EncryptAtRest(_ context.Context, storageRef string) (string, error) {
	return storageRef + ".enc", nil
}

// recordingNotifier captures outbound messages.
type recordingNotifier struct {
	mu               sync.Mutex
	signingRequests  []string
	completionEmails []string
	sendErr          error
}

func (n *recordingNotifier) SendSigningRequest(_ context.Context, rec *models.SignatureRecipient, _ *models.SignatureDocument, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.signingRequests = append(n.signingRequests, rec.ID)
	return nil
}

func (n *recordingNotifier) SendCompletionEmail(_ context.Context, email, _ string, _ *models.SignatureDocument) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.completionEmails = append(n.completionEmails, email)
	return nil
}

type blockingDetector struct{}

func (blockingDetector) CheckAndAlert(context.Context, AnomalyRequest) (bool, []string, error) {
	return false, []string{"velocity threshold exceeded"}, nil
}

type closedGate struct{}

func (closedGate) Allow(context.Context, string) (bool, error) {
	return false, nil
}

type recordingWorkflow struct {
	mu       sync.Mutex
	advanced []string
}

func (w *recordingWorkflow) AdvanceStage(_ context.Context, commitmentID string, _ models.DocumentType) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanced = append(w.advanced, commitmentID)
	return nil
}

var fixtureNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
