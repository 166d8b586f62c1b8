package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"e2ee-chat/internal/domain"
)

type DeliveryStore struct{ db *gorm.DB }

func (s *Store) Deliveries() *DeliveryStore { return &DeliveryStore{db: s.DB} }

func (d *DeliveryStore) CreateBatch(ctx context.Context, recs []domain.DeliveryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return translateError(d.db.WithContext(ctx).Create(&recs).Error)
}

func (d *DeliveryStore) Get(ctx context.Context, messageID, userID uuid.UUID) (*domain.DeliveryRecord, error) {
	var rec domain.DeliveryRecord
	if err := d.db.WithContext(ctx).First(&rec, "message_id = ? AND user_id = ?", messageID, userID).Error; err != nil {
		return nil, translateError(err)
	}
	return &rec, nil
}

// MarkRead sets read_at and fills delivered_at if it was still unset, in one
// statement. It reports whether a record existed.
func (d *DeliveryStore) MarkRead(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error) {
	res := d.db.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Updates(map[string]any{
			"read_at":      at,
			"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", at),
		})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkDelivered stamps delivered_at on the user's records that have none yet.
func (d *DeliveryStore) MarkDelivered(ctx context.Context, messageIDs []uuid.UUID, userID uuid.UUID, at time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return translateError(d.db.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Where("message_id IN ? AND user_id = ? AND delivered_at IS NULL", messageIDs, userID).
		Update("delivered_at", at).Error)
}

func (d *DeliveryStore) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).
		Model(&domain.DeliveryRecord{}).
		Joins("JOIN messages m ON m.id = message_delivery_records.message_id").
		Where("m.conversation_id = ? AND message_delivery_records.user_id = ?", conversationID, userID).
		Where("message_delivery_records.read_at IS NULL AND m.is_deleted = ?", false).
		Count(&n).Error
	return n, translateError(err)
}
