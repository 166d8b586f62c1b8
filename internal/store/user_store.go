package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"e2ee-chat/internal/domain"
)

type UserStore struct{ db *gorm.DB }

func (s *Store) Users() *UserStore { return &UserStore{db: s.DB} }

// Ensure creates a directory entry for id if none exists.
func (u *UserStore) Ensure(ctx context.Context, id uuid.UUID, displayName string) error {
	user := domain.User{ID: id, DisplayName: displayName}
	return translateError(u.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&user).Error)
}

func (u *UserStore) SetPublicKey(ctx context.Context, id uuid.UUID, publicKey string, at time.Time) error {
	user := domain.User{ID: id, PublicKey: &publicKey, PublicKeyUpdatedAt: &at}
	return translateError(u.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"public_key":            publicKey,
				"public_key_updated_at": at,
				"updated_at":            at,
			}),
		}).
		Create(&user).Error)
}

func (u *UserStore) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	if err := u.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

func (u *UserStore) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []domain.User
	err := u.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&users).Error
	return users, translateError(err)
}
