package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"e2ee-chat/internal/domain"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

func (m *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	return translateError(m.db.WithContext(ctx).Create(msg).Error)
}

func (m *MessageStore) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	if err := m.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &msg, nil
}

// ListPage returns up to limit messages of a conversation, newest first. When
// before is set only strictly older messages are returned.
func (m *MessageStore) ListPage(ctx context.Context, conversationID uuid.UUID, limit int, before *time.Time) ([]domain.Message, error) {
	q := m.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}
	var msgs []domain.Message
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&msgs).Error
	return msgs, translateError(err)
}

func (m *MessageStore) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_deleted": true, "updated_at": at})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
