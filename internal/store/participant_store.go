package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"e2ee-chat/internal/domain"
)

// ActiveParticipant is a participant row joined with the user's directory
// entry. PublicKey is nil when the user never published one.
type ActiveParticipant struct {
	UserID      uuid.UUID
	DisplayName string
	PublicKey   *string
	IsAdmin     bool
	JoinedAt    time.Time
}

type ParticipantStore struct{ db *gorm.DB }

func (s *Store) Participants() *ParticipantStore { return &ParticipantStore{db: s.DB} }

// Add inserts a participant, or reactivates one who left earlier.
func (p *ParticipantStore) Add(ctx context.Context, part domain.Participant) error {
	if part.ID == uuid.Nil {
		part.ID = uuid.New()
	}
	return translateError(p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"left_at":   nil,
				"joined_at": part.JoinedAt,
			}),
		}).
		Create(&part).Error)
}

func (p *ParticipantStore) IsActive(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, translateError(err)
	}
	return count > 0, nil
}

// ListActive returns active participants in join order.
func (p *ParticipantStore) ListActive(ctx context.Context, conversationID uuid.UUID) ([]ActiveParticipant, error) {
	var out []ActiveParticipant
	err := p.db.WithContext(ctx).
		Table("conversation_participants AS cp").
		Select("cp.user_id, u.display_name, u.public_key, cp.is_admin, cp.joined_at").
		Joins("JOIN users u ON u.id = cp.user_id").
		Where("cp.conversation_id = ? AND cp.left_at IS NULL", conversationID).
		Order("cp.joined_at ASC, cp.user_id ASC").
		Scan(&out).Error
	return out, translateError(err)
}

func (p *ParticipantStore) Leave(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	res := p.db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Update("left_at", at)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
