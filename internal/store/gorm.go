package store

import (
	"context"
	"errors"

	"github.com/Coverall26/darkroom-cover-sub009/internal/db/models"
	"github.com/Coverall26/darkroom-cover-sub009/internal/esign"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists aggregates through gorm/postgres. Transition
// serialization relies on SELECT ... FOR UPDATE on the document row.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}
}

func (s *GormStore) LoadByToken(ctx context.Context, token string) (*Aggregate, *models.SignatureRecipient, error) {
	var rec models.SignatureRecipient
	if err := s.db.WithContext(ctx).First(&rec, "signing_token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrTokenNotFound
		}
		return nil, nil, err
	}
	agg, err := s.LoadAggregate(ctx, rec.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range agg.Recipients {
		if r.ID == rec.ID {
			return agg, r, nil
		}
	}
	return nil, nil, ErrTokenNotFound
}

func (s *GormStore) LoadAggregate(ctx context.Context, documentID string) (*Aggregate, error) {
	return loadAggregate(s.db.WithContext(ctx), documentID, false)
}

func (s *GormStore) ApplyTransition(ctx context.Context, documentID string, apply ApplyFunc) (*esign.TransitionResult, error) {
	var result *esign.TransitionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agg, err := loadAggregate(tx, documentID, true)
		if err != nil {
			return err
		}
		res, err := apply(agg)
		if err != nil {
			return err
		}

		for _, rec := range res.ChangedRecipients {
			if err := tx.Save(rec).Error; err != nil {
				return err
			}
		}
		if res.DocumentChanged {
			if err := tx.Save(agg.Document).Error; err != nil {
				return err
			}
		}
		for fieldID, value := range res.FieldValues {
			if err := tx.Model(&models.SignatureField{}).
				Where("id = ?", fieldID).
				Update("value", value).Error; err != nil {
				return err
			}
		}
		for i := range res.Audit {
			if err := tx.Create(&res.Audit[i]).Error; err != nil {
				return err
			}
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func loadAggregate(tx *gorm.DB, documentID string, forUpdate bool) (*Aggregate, error) {
	var doc models.SignatureDocument
	q := tx
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&doc, "id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	var recipients []models.SignatureRecipient
	if err := tx.Where("document_id = ?", documentID).
		Order("routing_order ASC, created_at ASC").
		Find(&recipients).Error; err != nil {
		return nil, err
	}
	var fields []models.SignatureField
	if err := tx.Where("document_id = ?", documentID).
		Order("page ASC, created_at ASC").
		Find(&fields).Error; err != nil {
		return nil, err
	}

	agg := &Aggregate{Document: &doc}
	for i := range recipients {
		agg.Recipients = append(agg.Recipients, &recipients[i])
	}
	for i := range fields {
		agg.Fields = append(agg.Fields, &fields[i])
	}
	return agg, nil
}

func (s *GormStore) AppendAudit(ctx context.Context, entry models.AuditEvent) error {
	return s.db.WithContext(ctx).Create(&entry).Error
}

func (s *GormStore) HasAuditEvent(ctx context.Context, documentID, event string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.AuditEvent{}).
		Where("document_id = ? AND event = ?", documentID, event).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) UpsertVaultEntry(ctx context.Context, entry models.VaultEntry) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) SeenWebhookEvent(ctx context.Context, externalEventID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.WebhookReceipt{}).
		Where("external_event_id = ?", externalEventID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) RecordWebhookEvent(ctx context.Context, receipt models.WebhookReceipt) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&receipt).Error
}

func (s *GormStore) UpdateFinalStorageRef(ctx context.Context, documentID, ref string) error {
	return s.db.WithContext(ctx).Model(&models.SignatureDocument{}).
		Where("id = ?", documentID).
		Update("final_storage_ref", ref).Error
}
