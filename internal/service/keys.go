package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"e2ee-chat/internal/dto"
	"e2ee-chat/internal/keystore"
	"e2ee-chat/internal/observability/metrics"
	"e2ee-chat/internal/store"
)

// SetPublicKey publishes the caller's public key after checking it can wrap
// a content key.
func (s *Service) SetPublicKey(ctx context.Context, userID, displayName, publicKey string) error {
	uid, err := parseID(userID, "userId")
	if err != nil {
		return err
	}
	if !keystore.ValidatePublicKey(publicKey) {
		metrics.KeyOperationsTotal.WithLabelValues("set", "invalid").Inc()
		return ErrInvalidKeyFormat
	}
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Users().Ensure(ctx, uid, displayName); err != nil {
			return err
		}
		return tx.Users().SetPublicKey(ctx, uid, publicKey, s.timestamp())
	})
	if err != nil {
		metrics.KeyOperationsTotal.WithLabelValues("set", "failure").Inc()
		return err
	}
	metrics.KeyOperationsTotal.WithLabelValues("set", "success").Inc()
	return nil
}

func (s *Service) GetPublicKey(ctx context.Context, userID string) (dto.PublicKeyResponse, error) {
	uid, err := parseID(userID, "userId")
	if err != nil {
		return dto.PublicKeyResponse{}, err
	}
	user, err := s.store.Users().Get(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.PublicKeyResponse{}, ErrUserNotFound
		}
		return dto.PublicKeyResponse{}, err
	}
	return dto.PublicKeyResponse{UserID: user.ID.String(), PublicKey: user.PublicKey, UpdatedAt: user.PublicKeyUpdatedAt}, nil
}

// GetPublicKeys returns the directory entries for the known ids among
// userIDs. Unknown ids are omitted.
func (s *Service) GetPublicKeys(ctx context.Context, userIDs []string) (dto.PublicKeysResponse, error) {
	out := dto.PublicKeysResponse{Keys: []dto.PublicKeyResponse{}}
	if len(userIDs) == 0 {
		return out, nil
	}
	ids := make([]uuid.UUID, 0, len(userIDs))
	for _, raw := range userIDs {
		id, err := parseID(raw, "userIds")
		if err != nil {
			return dto.PublicKeysResponse{}, err
		}
		ids = append(ids, id)
	}
	users, err := s.store.Users().ListByIDs(ctx, ids)
	if err != nil {
		return dto.PublicKeysResponse{}, err
	}
	for _, u := range users {
		out.Keys = append(out.Keys, dto.PublicKeyResponse{UserID: u.ID.String(), PublicKey: u.PublicKey, UpdatedAt: u.PublicKeyUpdatedAt})
	}
	return out, nil
}
