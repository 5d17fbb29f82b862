// Package esign holds the transition core shared by both mutation
// channels: the direct signing session and the webhook reconciler. All
// document and recipient status writes in the system flow through the
// functions in this package; callers persist the mutated aggregate inside
// a single transaction scoped to the document.
package esign

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
)

var (
	ErrDocumentTerminal = errors.New("document is in a terminal state")
	ErrDocumentExpired  = errors.New("document has expired")
	ErrRecipientActed   = errors.New("recipient has already signed or declined")
	ErrUnknownRecipient = errors.New("recipient does not belong to this document")
)

// TransitionResult reports what a transition changed so the storage layer
// knows what to persist and the caller knows which side effects to fire.
type TransitionResult struct {
	DocumentChanged   bool
	ChangedRecipients []*models.SignatureRecipient

	// DocumentCompleted is true only when this transition flipped the
	// document to COMPLETED. A transition that merely re-confirms an
	// already-COMPLETED document reports false, which is what guards the
	// completion cascade against firing twice.
	DocumentCompleted bool
	DocumentDeclined  bool

	FieldValues map[string]string
	Audit       []models.AuditEvent
}

// SignAttempt carries everything ApplySign attaches to the recipient.
type SignAttempt struct {
	RecipientID string
	ArtifactRef string
	Encrypted   bool
	Checksum    string
	Consent     models.ConsentRecord
	IPAddress   string
	UserAgent   string
	FieldValues map[string]string
}

// ExternalEvent is one externally-delivered lifecycle event after
// authentication and envelope validation.
type ExternalEvent struct {
	ID          string
	Event       string
	RecipientID string
	IPAddress   string
	UserAgent   string
	OccurredAt  time.Time
}

const (
	ExternalEventViewed    = "recipient.viewed"
	ExternalEventSigned    = "recipient.signed"
	ExternalEventDeclined  = "recipient.declined"
	ExternalEventCompleted = "document.completed"
)

// ApplyView transitions a recipient to VIEWED. Re-viewing an already
// VIEWED recipient is a no-op, not an error, so page reloads and replayed
// view events stay safe.
func ApplyView(doc *models.SignatureDocument, rec *models.SignatureRecipient, now time.Time) (*TransitionResult, error) {
	if doc.Status.Terminal() {
		return nil, ErrDocumentTerminal
	}
	if doc.Expired(now) {
		return nil, ErrDocumentExpired
	}
	if rec.Status.Acted() {
		return nil, ErrRecipientActed
	}
	res := &TransitionResult{}
	if rec.Status == models.RecipientViewed {
		return res, nil
	}

	t := now.UTC()
	rec.Status = models.RecipientViewed
	rec.ViewedAt = &t
	res.ChangedRecipients = append(res.ChangedRecipients, rec)
	if doc.Status == models.DocumentSent {
		doc.Status = models.DocumentViewed
		res.DocumentChanged = true
	}
	res.Audit = append(res.Audit, auditEntry(doc.ID, rec, models.AuditEventViewed, nil, now))
	return res, nil
}

// ApplySign transitions a recipient to SIGNED and recomputes the document
// status from a snapshot of all recipients taken after the mutation.
func ApplySign(doc *models.SignatureDocument, recipients []*models.SignatureRecipient, att SignAttempt, now time.Time) (*TransitionResult, error) {
	rec := findRecipient(recipients, att.RecipientID)
	if rec == nil {
		return nil, ErrUnknownRecipient
	}
	if doc.Status.Terminal() {
		return nil, ErrDocumentTerminal
	}
	if doc.Expired(now) {
		return nil, ErrDocumentExpired
	}
	if rec.Status.Acted() {
		return nil, ErrRecipientActed
	}

	t := now.UTC()
	rec.Status = models.RecipientSigned
	rec.SignedAt = &t
	rec.SignatureRef = att.ArtifactRef
	rec.Encrypted = att.Encrypted
	rec.Checksum = att.Checksum
	rec.Consent = att.Consent
	if att.IPAddress != "" {
		rec.IPAddress = att.IPAddress
	}
	if att.UserAgent != "" {
		rec.UserAgent = att.UserAgent
	}
	res := &TransitionResult{
		ChangedRecipients: []*models.SignatureRecipient{rec},
		FieldValues:       att.FieldValues,
	}
	res.Audit = append(res.Audit, auditEntry(doc.ID, rec, models.AuditEventSigned, map[string]string{
		"checksum": att.Checksum,
	}, now))

	next := RecomputeDocumentStatus(doc, recipients)
	if next != doc.Status {
		doc.Status = next
		res.DocumentChanged = true
		if next == models.DocumentCompleted {
			doc.CompletedAt = &t
			res.DocumentCompleted = true
			res.Audit = append(res.Audit, auditEntry(doc.ID, rec, models.AuditEventCompleted, nil, now))
		}
	}
	return res, nil
}

// ApplyDecline transitions a recipient to DECLINED and voids the whole
// execution. A single decline is final: remaining signers cannot continue
// a partial execution, and the document can never later reach COMPLETED.
func ApplyDecline(doc *models.SignatureDocument, recipients []*models.SignatureRecipient, recipientID, reason string, now time.Time) (*TransitionResult, error) {
	rec := findRecipient(recipients, recipientID)
	if rec == nil {
		return nil, ErrUnknownRecipient
	}
	if doc.Status.Terminal() {
		return nil, ErrDocumentTerminal
	}
	if rec.Status.Acted() {
		return nil, ErrRecipientActed
	}

	t := now.UTC()
	rec.Status = models.RecipientDeclined
	rec.DeclinedAt = &t
	rec.DeclineReason = reason
	doc.Status = models.DocumentDeclined
	res := &TransitionResult{
		DocumentChanged:   true,
		DocumentDeclined:  true,
		ChangedRecipients: []*models.SignatureRecipient{rec},
	}
	res.Audit = append(res.Audit, auditEntry(doc.ID, rec, models.AuditEventDeclined, map[string]string{
		"reason": reason,
	}, now))
	return res, nil
}

// ApplyRouting moves the next eligible recipients from PENDING to SENT.
// The active slot is the lowest routing order that still has a recipient
// who has not signed or declined; only PENDING recipients at that order
// are promoted, so repeated invocations never re-send to anyone already
// notified or already acted.
func ApplyRouting(doc *models.SignatureDocument, recipients []*models.SignatureRecipient, now time.Time) (*TransitionResult, error) {
	res := &TransitionResult{}
	if doc.Status.Terminal() || doc.Expired(now) {
		return res, nil
	}

	active, found := 0, false
	for _, r := range recipients {
		if r.Status.Acted() {
			continue
		}
		if !found || r.RoutingOrder < active {
			active = r.RoutingOrder
			found = true
		}
	}
	if !found {
		return res, nil
	}

	for _, r := range recipients {
		if r.RoutingOrder != active || r.Status != models.RecipientPending {
			continue
		}
		r.Status = models.RecipientSent
		res.ChangedRecipients = append(res.ChangedRecipients, r)
		res.Audit = append(res.Audit, auditEntry(doc.ID, r, models.AuditEventRouted, nil, now))
	}
	return res, nil
}

// RecomputeDocumentStatus derives the document status from the full
// recipient snapshot. DECLINED dominates: one declined recipient keeps
// the document out of COMPLETED no matter what later events report.
func RecomputeDocumentStatus(doc *models.SignatureDocument, recipients []*models.SignatureRecipient) models.DocumentStatus {
	anySigned := false
	allSigned := true
	for _, r := range recipients {
		if r.Status == models.RecipientDeclined {
			return models.DocumentDeclined
		}
		if !r.Role.MustSign() {
			continue
		}
		if r.Status == models.RecipientSigned {
			anySigned = true
		} else {
			allSigned = false
		}
	}
	switch {
	case anySigned && allSigned:
		return models.DocumentCompleted
	case anySigned:
		return models.DocumentPartiallySigned
	default:
		return doc.Status
	}
}

// ReconcileExternal replays one authenticated external lifecycle event
// against the same transition rules as the direct channel. Transitions
// are idempotent at the state level: an event that reports a state the
// aggregate already holds produces an empty result rather than an error,
// which is what makes webhook replays safe.
func ReconcileExternal(doc *models.SignatureDocument, recipients []*models.SignatureRecipient, ev ExternalEvent, now time.Time) (*TransitionResult, error) {
	res := &TransitionResult{}

	switch ev.Event {
	case ExternalEventViewed:
		rec := findRecipient(recipients, ev.RecipientID)
		if rec == nil {
			return nil, ErrUnknownRecipient
		}
		if doc.Status.Terminal() || doc.Expired(now) || rec.Status != models.RecipientPending && rec.Status != models.RecipientSent {
			return res, nil
		}
		return ApplyView(doc, rec, now)

	case ExternalEventSigned:
		rec := findRecipient(recipients, ev.RecipientID)
		if rec == nil {
			return nil, ErrUnknownRecipient
		}
		if doc.Status.Terminal() || doc.Expired(now) || rec.Status.Acted() {
			return res, nil
		}
		return ApplySign(doc, recipients, SignAttempt{
			RecipientID: ev.RecipientID,
			IPAddress:   ev.IPAddress,
			UserAgent:   ev.UserAgent,
		}, now)

	case ExternalEventDeclined:
		rec := findRecipient(recipients, ev.RecipientID)
		if rec == nil {
			return nil, ErrUnknownRecipient
		}
		if doc.Status.Terminal() || rec.Status.Acted() {
			return res, nil
		}
		return ApplyDecline(doc, recipients, ev.RecipientID, "declined via external provider", now)

	case ExternalEventCompleted:
		if doc.Status.Terminal() {
			return res, nil
		}
		// Completion is never taken on the event's word; it is re-derived
		// from the recipient snapshot so a forged or out-of-order event
		// cannot complete a document that is not fully signed.
		next := RecomputeDocumentStatus(doc, recipients)
		if next == models.DocumentCompleted && next != doc.Status {
			t := now.UTC()
			doc.Status = next
			doc.CompletedAt = &t
			res.DocumentChanged = true
			res.DocumentCompleted = true
			res.Audit = append(res.Audit, auditEntry(doc.ID, nil, models.AuditEventCompleted, nil, now))
		}
		return res, nil

	default:
		return res, nil
	}
}

func findRecipient(recipients []*models.SignatureRecipient, id string) *models.SignatureRecipient {
	for _, r := range recipients {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func auditEntry(documentID string, rec *models.SignatureRecipient, event string, details map[string]string, now time.Time) models.AuditEvent {
	e := models.AuditEvent{
		DocumentID: documentID,
		Event:      event,
		Source:     models.AuditSourceDirect,
		CreatedAt:  now.UTC(),
	}
	if rec != nil {
		e.RecipientID = rec.ID
		e.ActorEmail = rec.Email
		e.ActorIP = rec.IPAddress
		e.ActorAgent = rec.UserAgent
	}
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			e.Details = string(b)
		}
	}
	return e
}
