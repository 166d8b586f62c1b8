package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"e2ee-chat/internal/domain"
)

type ConversationStore struct{ db *gorm.DB }

func (s *Store) Conversations() *ConversationStore { return &ConversationStore{db: s.DB} }

func (c *ConversationStore) Create(ctx context.Context, conv *domain.Conversation) error {
	return translateError(c.db.WithContext(ctx).Create(conv).Error)
}

func (c *ConversationStore) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := c.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &conv, nil
}

// Touch bumps updated_at so conversation lists sort by latest activity.
func (c *ConversationStore) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return translateError(c.db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at).Error)
}

// ListForUser returns the conversations userID actively participates in,
// most recently active first.
func (c *ConversationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	err := c.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ? AND cp.left_at IS NULL", userID).
		Order("conversations.updated_at DESC").
		Find(&convs).Error
	return convs, translateError(err)
}
