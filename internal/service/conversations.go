package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"e2ee-chat/internal/domain"
	"e2ee-chat/internal/dto"
	"e2ee-chat/internal/store"
)

// CreateConversation creates a conversation with the creator as admin.
// Participants unknown to the key directory are registered without a key.
func (s *Service) CreateConversation(ctx context.Context, creatorID, creatorName string, req dto.CreateConversationRequest) (dto.ConversationResponse, error) {
	creator, err := parseID(creatorID, "creatorId")
	if err != nil {
		return dto.ConversationResponse{}, err
	}
	convType := domain.ConversationType(req.Type)
	if convType == "" {
		convType = domain.ConversationDirect
	}
	if convType != domain.ConversationDirect && convType != domain.ConversationGroup {
		return dto.ConversationResponse{}, fmt.Errorf("%w: unknown conversation type %q", ErrInvalidRequest, req.Type)
	}

	var others []uuid.UUID
	seen := map[uuid.UUID]struct{}{creator: {}}
	for _, raw := range req.ParticipantUserIDs {
		id, err := parseID(raw, "participantUserIds")
		if err != nil {
			return dto.ConversationResponse{}, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		others = append(others, id)
	}
	if len(others) == 0 {
		return dto.ConversationResponse{}, fmt.Errorf("%w: at least one other participant required", ErrInvalidRequest)
	}
	if convType == domain.ConversationDirect && len(others) != 1 {
		return dto.ConversationResponse{}, fmt.Errorf("%w: direct conversations have exactly two participants", ErrInvalidRequest)
	}

	now := s.timestamp()
	conv := domain.Conversation{
		ID:              uuid.New(),
		Type:            convType,
		Name:            req.Name,
		Description:     req.Description,
		CreatedByUserID: creator,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Users().Ensure(ctx, creator, creatorName); err != nil {
			return err
		}
		if err := tx.Conversations().Create(ctx, &conv); err != nil {
			return err
		}
		if err := tx.Participants().Add(ctx, domain.Participant{ConversationID: conv.ID, UserID: creator, JoinedAt: now, IsAdmin: true}); err != nil {
			return err
		}
		for _, id := range others {
			if err := tx.Users().Ensure(ctx, id, ""); err != nil {
				return err
			}
			if err := tx.Participants().Add(ctx, domain.Participant{ConversationID: conv.ID, UserID: id, JoinedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dto.ConversationResponse{}, err
	}
	return conversationResponse(conv), nil
}

func conversationResponse(c domain.Conversation) dto.ConversationResponse {
	return dto.ConversationResponse{
		ID:              c.ID.String(),
		Type:            string(c.Type),
		Name:            c.Name,
		Description:     c.Description,
		CreatedByUserID: c.CreatedByUserID.String(),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func (s *Service) ListConversations(ctx context.Context, userID string) (dto.ConversationsResponse, error) {
	uid, err := parseID(userID, "userId")
	if err != nil {
		return dto.ConversationsResponse{}, err
	}
	convs, err := s.store.Conversations().ListForUser(ctx, uid)
	if err != nil {
		return dto.ConversationsResponse{}, err
	}
	out := dto.ConversationsResponse{Conversations: make([]dto.ConversationResponse, 0, len(convs))}
	for _, c := range convs {
		out.Conversations = append(out.Conversations, conversationResponse(c))
	}
	return out, nil
}

// Participants lists the active participants with their public keys, which
// is what a client needs for its own fan-out.
func (s *Service) Participants(ctx context.Context, conversationID, callerID string) (dto.ParticipantsResponse, error) {
	convID, err := parseID(conversationID, "conversationId")
	if err != nil {
		return dto.ParticipantsResponse{}, err
	}
	caller, err := parseID(callerID, "callerId")
	if err != nil {
		return dto.ParticipantsResponse{}, err
	}
	if err := s.requireActive(ctx, convID, caller); err != nil {
		return dto.ParticipantsResponse{}, err
	}
	parts, err := s.store.Participants().ListActive(ctx, convID)
	if err != nil {
		return dto.ParticipantsResponse{}, err
	}
	out := dto.ParticipantsResponse{Participants: make([]dto.ParticipantResponse, 0, len(parts))}
	for _, p := range parts {
		out.Participants = append(out.Participants, dto.ParticipantResponse{
			UserID:      p.UserID.String(),
			DisplayName: p.DisplayName,
			PublicKey:   p.PublicKey,
			IsAdmin:     p.IsAdmin,
			JoinedAt:    p.JoinedAt,
		})
	}
	return out, nil
}

// AddParticipant adds userID to a group conversation, or re-activates them if
// they left. The actor must be an active participant.
func (s *Service) AddParticipant(ctx context.Context, conversationID, actorID, userID string) error {
	convID, err := parseID(conversationID, "conversationId")
	if err != nil {
		return err
	}
	actor, err := parseID(actorID, "actorId")
	if err != nil {
		return err
	}
	uid, err := parseID(userID, "userId")
	if err != nil {
		return err
	}
	conv, err := s.store.Conversations().Get(ctx, convID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	if err := s.requireActive(ctx, convID, actor); err != nil {
		return err
	}
	if conv.Type == domain.ConversationDirect {
		return fmt.Errorf("%w: cannot add participants to a direct conversation", ErrInvalidRequest)
	}
	return s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Users().Ensure(ctx, uid, ""); err != nil {
			return err
		}
		return tx.Participants().Add(ctx, domain.Participant{ConversationID: convID, UserID: uid, JoinedAt: s.timestamp()})
	})
}

// LeaveConversation marks the caller as left. Their envelopes stay readable
// through history they already have; new messages are no longer wrapped to
// them.
func (s *Service) LeaveConversation(ctx context.Context, conversationID, userID string) error {
	convID, err := parseID(conversationID, "conversationId")
	if err != nil {
		return err
	}
	uid, err := parseID(userID, "userId")
	if err != nil {
		return err
	}
	if err := s.store.Participants().Leave(ctx, convID, uid, s.timestamp()); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrNotAuthorized
		}
		return err
	}
	return nil
}

func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (dto.UnreadCountResponse, error) {
	convID, err := parseID(conversationID, "conversationId")
	if err != nil {
		return dto.UnreadCountResponse{}, err
	}
	uid, err := parseID(userID, "userId")
	if err != nil {
		return dto.UnreadCountResponse{}, err
	}
	if err := s.requireActive(ctx, convID, uid); err != nil {
		return dto.UnreadCountResponse{}, err
	}
	n, err := s.store.Deliveries().UnreadCount(ctx, convID, uid)
	if err != nil {
		return dto.UnreadCountResponse{}, err
	}
	return dto.UnreadCountResponse{ConversationID: convID.String(), Unread: n}, nil
}

// CanJoin lets the presence hub restrict live membership to active
// participants.
func (s *Service) CanJoin(ctx context.Context, userID, conversationID string) (bool, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return false, nil
	}
	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return false, nil
	}
	return s.store.Participants().IsActive(ctx, convID, uid)
}
