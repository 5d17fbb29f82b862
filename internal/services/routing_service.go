package services

import (
	"context"
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
	"github.com/Coverall26/darkroom-cover-sub009/internal/esign"
	"github.com/Coverall26/darkroom-cover-sub009/internal/store"
	"go.uber.org/zap"
)

// SequentialRouter advances the routing order after a signing event:
// recipients at the lowest still-open order move from PENDING to SENT and
// receive their signing link. Promotion happens inside the aggregate
// transaction, so repeated invocations cannot re-send to a recipient who
// has already been sent or already acted.
type SequentialRouter struct {
	store    store.Store
	notifier Notifier
	baseURL  string
	logger   *zap.Logger
	now      func() time.Time
}

func NewSequentialRouter(st store.Store, notifier Notifier, baseURL string, logger *zap.Logger) *SequentialRouter {
	return &SequentialRouter{
		store:    st,
		notifier: notifier,
		baseURL:  baseURL,
		logger:   logger.With(zap.String("service", "router")),
		now:      time.Now,
	}
}

// NotifyNext promotes and notifies the next eligible recipients. Safe to
// call after every signing event, including redundantly.
func (r *SequentialRouter) NotifyNext(ctx context.Context, documentID string) {
	now := r.now()
	res, err := r.store.ApplyTransition(ctx, documentID, func(agg *store.Aggregate) (*esign.TransitionResult, error) {
		return esign.ApplyRouting(agg.Document, agg.Recipients, now)
	})
	if err != nil {
		r.logger.Error("routing transition failed", zap.Error(err), zap.String("doc_id", documentID))
		return
	}
	if len(res.ChangedRecipients) == 0 {
		return
	}

	agg, err := r.store.LoadAggregate(ctx, documentID)
	if err != nil {
		r.logger.Error("routing aggregate load failed", zap.Error(err), zap.String("doc_id", documentID))
		return
	}
	for _, promoted := range res.ChangedRecipients {
		rec := r.findRecipient(agg.Recipients, promoted.ID)
		if rec == nil {
			continue
		}
		url := r.baseURL + "/sign/" + rec.SigningToken
		if err := r.notifier.SendSigningRequest(ctx, rec, agg.Document, url); err != nil {
			r.logger.Error("signing request notification failed",
				zap.Error(err),
				zap.String("doc_id", documentID),
				zap.String("recipient_id", rec.ID))
			continue
		}
		r.logger.Info("signing link sent",
			zap.String("doc_id", documentID),
			zap.String("recipient_id", rec.ID),
			zap.Int("routing_order", rec.RoutingOrder))
	}
}

func (r *SequentialRouter) findRecipient(recipients []*models.SignatureRecipient, id string) *models.SignatureRecipient {
	for _, rec := range recipients {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}
