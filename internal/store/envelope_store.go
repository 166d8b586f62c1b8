package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"e2ee-chat/internal/domain"
)

type EnvelopeStore struct{ db *gorm.DB }

func (s *Store) Envelopes() *EnvelopeStore { return &EnvelopeStore{db: s.DB} }

func (e *EnvelopeStore) CreateBatch(ctx context.Context, envs []domain.MessageEnvelope) error {
	if len(envs) == 0 {
		return nil
	}
	return translateError(e.db.WithContext(ctx).Create(&envs).Error)
}

// ForRecipient returns recipientID's envelopes for the given messages keyed by
// message id. Messages without an envelope for the recipient are absent.
func (e *EnvelopeStore) ForRecipient(ctx context.Context, messageIDs []uuid.UUID, recipientID uuid.UUID) (map[uuid.UUID]domain.MessageEnvelope, error) {
	out := make(map[uuid.UUID]domain.MessageEnvelope, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	var envs []domain.MessageEnvelope
	err := e.db.WithContext(ctx).
		Where("message_id IN ? AND recipient_id = ?", messageIDs, recipientID).
		Find(&envs).Error
	if err != nil {
		return nil, translateError(err)
	}
	for _, env := range envs {
		out[env.MessageID] = env
	}
	return out, nil
}

func (e *EnvelopeStore) CountForMessage(ctx context.Context, messageID uuid.UUID) (int64, error) {
	var n int64
	err := e.db.WithContext(ctx).
		Model(&domain.MessageEnvelope{}).
		Where("message_id = ?", messageID).
		Count(&n).Error
	return n, translateError(err)
}
