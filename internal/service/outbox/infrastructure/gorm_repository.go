// internal/service/outbox/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"flashmart/internal/service/outbox/domain"
)

// OutboxEntryModel 是 outbox 的数据库模型。
type OutboxEntryModel struct {
	MessageID   string     `gorm:"primaryKey;type:varchar(36)"`
	OrderID     string     `gorm:"index;type:varchar(36);not null"`
	UserID      int64      `gorm:"not null"`
	Type        string     `gorm:"type:varchar(32);not null"`
	Payload     []byte     `gorm:"type:blob"`
	Status      string     `gorm:"type:varchar(16);index;not null"`
	RetryCount  int        `gorm:"not null;default:0"`
	LastAttempt *time.Time `gorm:""`
	SentAt      *time.Time `gorm:""`
	CreatedAt   time.Time  `gorm:"index;not null"`
}

func (OutboxEntryModel) TableName() string { return "outbox_entries" }

func toDomainEntry(m *OutboxEntryModel) *domain.Entry {
	return &domain.Entry{
		MessageID:   m.MessageID,
		OrderID:     m.OrderID,
		UserID:      m.UserID,
		Type:        domain.EntryType(m.Type),
		Payload:     m.Payload,
		Status:      domain.Status(m.Status),
		RetryCount:  m.RetryCount,
		LastAttempt: m.LastAttempt,
		SentAt:      m.SentAt,
		CreatedAt:   m.CreatedAt,
	}
}

func toEntryModel(e *domain.Entry) *OutboxEntryModel {
	return &OutboxEntryModel{
		MessageID:   e.MessageID,
		OrderID:     e.OrderID,
		UserID:      e.UserID,
		Type:        string(e.Type),
		Payload:     e.Payload,
		Status:      string(e.Status),
		RetryCount:  e.RetryCount,
		LastAttempt: e.LastAttempt,
		SentAt:      e.SentAt,
		CreatedAt:   e.CreatedAt,
	}
}

// GormOutboxRepository 是 Repository 的 GORM 实现。
type GormOutboxRepository struct {
	db *gorm.DB
}

func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: db}
}

func (r *GormOutboxRepository) Append(ctx context.Context, entry *domain.Entry) error {
	err := r.db.WithContext(ctx).Create(toEntryModel(entry)).Error
	return pkgerrors.Wrap(err, "append outbox entry")
}

func (r *GormOutboxRepository) FetchDeliverable(ctx context.Context, limit, maxRetries int) ([]*domain.Entry, error) {
	var models []OutboxEntryModel
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND retry_count < ?)",
			string(domain.StatusPending), string(domain.StatusFailed), maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "fetch deliverable outbox entries")
	}
	out := make([]*domain.Entry, 0, len(models))
	for i := range models {
		out = append(out, toDomainEntry(&models[i]))
	}
	return out, nil
}

func (r *GormOutboxRepository) Update(ctx context.Context, entry *domain.Entry) error {
	result := r.db.WithContext(ctx).
		Model(&OutboxEntryModel{}).
		Where("message_id = ?", entry.MessageID).
		Updates(map[string]interface{}{
			"status":       string(entry.Status),
			"retry_count":  entry.RetryCount,
			"last_attempt": entry.LastAttempt,
			"sent_at":      entry.SentAt,
		})
	if result.Error != nil {
		return pkgerrors.Wrap(result.Error, "update outbox entry")
	}
	if result.RowsAffected == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}

func (r *GormOutboxRepository) FindByOrder(ctx context.Context, orderID string) ([]*domain.Entry, error) {
	var models []OutboxEntryModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "find outbox entries by order")
	}
	out := make([]*domain.Entry, 0, len(models))
	for i := range models {
		out = append(out, toDomainEntry(&models[i]))
	}
	return out, nil
}

var _ domain.Repository = (*GormOutboxRepository)(nil)
