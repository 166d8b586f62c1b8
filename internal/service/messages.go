package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"e2ee-chat/internal/cryptocore"
	"e2ee-chat/internal/domain"
	"e2ee-chat/internal/dto"
	"e2ee-chat/internal/fanout"
	"e2ee-chat/internal/observability/metrics"
	"e2ee-chat/internal/presence"
	"e2ee-chat/internal/sanitize"
	"e2ee-chat/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100

	maxSendAttempts = 3
)

// SendInput is a plaintext send. The plaintext is sanitized, encrypted for
// every active participant and dropped; only envelopes are stored.
type SendInput struct {
	ConversationID string
	SenderID       string
	SenderName     string
	Plaintext      string
	Type           string
	ReplyToID      *string
	Metadata       *string
}

// EnvelopeInput is a send whose fan-out already happened on the client.
type EnvelopeInput struct {
	ConversationID string
	SenderID       string
	SenderName     string
	Type           string
	ReplyToID      *string
	Metadata       *string
	Envelopes      []dto.EnvelopeIn
}

type sendHeader struct {
	conversationID uuid.UUID
	senderID       uuid.UUID
	msgType        domain.MessageType
	replyTo        *uuid.UUID
}

func parseSendHeader(conversationID, senderID, msgType string, replyTo *string) (sendHeader, error) {
	var h sendHeader
	var err error
	if h.conversationID, err = parseID(conversationID, "conversationId"); err != nil {
		return h, err
	}
	if h.senderID, err = parseID(senderID, "senderId"); err != nil {
		return h, err
	}
	h.msgType = domain.MessageText
	if msgType != "" {
		h.msgType = domain.MessageType(msgType)
	}
	if !h.msgType.Valid() {
		return h, fmt.Errorf("%w: unknown message type %q", ErrInvalidRequest, msgType)
	}
	if h.replyTo, err = parseOptionalID(replyTo, "replyToMessageId"); err != nil {
		return h, err
	}
	return h, nil
}

func (s *Service) screenContent(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: empty content", ErrInvalidRequest)
	}
	if s.sanitizer.ContainsSuspiciousContent(content) {
		metrics.FanoutFailuresTotal.WithLabelValues("suspicious").Inc()
		return "", ErrSuspiciousContent
	}
	if utf8.RuneCountInString(content) > s.maxLength {
		metrics.FanoutFailuresTotal.WithLabelValues("too_long").Inc()
		return "", ErrContentTooLong
	}
	clean, err := s.sanitizer.Sanitize(content)
	if err != nil {
		if errors.Is(err, sanitize.ErrTooLong) {
			metrics.FanoutFailuresTotal.WithLabelValues("too_long").Inc()
			return "", ErrContentTooLong
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(clean) == "" {
		return "", fmt.Errorf("%w: content empty after sanitizing", ErrInvalidRequest)
	}
	return clean, nil
}

// SendMessage validates, fans out and persists one message. Either every
// active participant (sender included) gets an envelope or nothing is stored.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (dto.SendMessageResponse, error) {
	clean, err := s.screenContent(in.Plaintext)
	if err != nil {
		return dto.SendMessageResponse{}, err
	}
	h, err := parseSendHeader(in.ConversationID, in.SenderID, in.Type, in.ReplyToID)
	if err != nil {
		return dto.SendMessageResponse{}, err
	}
	if err := s.requireActive(ctx, h.conversationID, h.senderID); err != nil {
		return dto.SendMessageResponse{}, err
	}

	for attempt := 1; ; attempt++ {
		participants, recipients, err := s.resolveRecipients(ctx, h.conversationID)
		if err != nil {
			return dto.SendMessageResponse{}, err
		}
		metrics.FanoutRecipients.Observe(float64(len(recipients)))
		envs, err := s.enc.EncryptForRecipients(ctx, []byte(clean), recipients)
		if err != nil {
			metrics.FanoutFailuresTotal.WithLabelValues("fanout").Inc()
			if !errors.Is(err, fanout.ErrFanoutEncryptionFailed) {
				err = fmt.Errorf("%w: %w", fanout.ErrFanoutEncryptionFailed, err)
			}
			return dto.SendMessageResponse{}, err
		}
		resp, err := s.persist(ctx, h, in.Metadata, in.SenderName, envs, participants, "server")
		if errors.Is(err, ErrParticipantsChanged) && attempt < maxSendAttempts {
			continue
		}
		return resp, err
	}
}

// SendEnvelopes stores a message whose envelopes were built by the sender.
// The recipient set must equal the active participants exactly.
func (s *Service) SendEnvelopes(ctx context.Context, in EnvelopeInput) (dto.SendMessageResponse, error) {
	h, err := parseSendHeader(in.ConversationID, in.SenderID, in.Type, in.ReplyToID)
	if err != nil {
		return dto.SendMessageResponse{}, err
	}
	if len(in.Envelopes) == 0 {
		return dto.SendMessageResponse{}, fmt.Errorf("%w: no envelopes", ErrInvalidRequest)
	}
	if err := s.requireActive(ctx, h.conversationID, h.senderID); err != nil {
		return dto.SendMessageResponse{}, err
	}

	envs := make([]fanout.Envelope, 0, len(in.Envelopes))
	seen := make(map[string]struct{}, len(in.Envelopes))
	for _, e := range in.Envelopes {
		rid, err := parseID(e.RecipientID, "recipientId")
		if err != nil {
			return dto.SendMessageResponse{}, err
		}
		if _, dup := seen[rid.String()]; dup {
			return dto.SendMessageResponse{}, fmt.Errorf("%w: duplicate recipient %s", ErrEnvelopeSetMismatch, rid)
		}
		seen[rid.String()] = struct{}{}
		if e.WrappedContent != in.Envelopes[0].WrappedContent {
			return dto.SendMessageResponse{}, fmt.Errorf("%w: envelopes carry different content", ErrInvalidRequest)
		}
		if _, err := cryptocore.DecodeSealed(e.WrappedContent); err != nil {
			return dto.SendMessageResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if _, err := cryptocore.DecodeWrappedKey(e.WrappedKey); err != nil {
			return dto.SendMessageResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		envs = append(envs, fanout.Envelope{RecipientID: rid.String(), WrappedContent: e.WrappedContent, WrappedKey: e.WrappedKey})
	}

	participants, err := s.store.Participants().ListActive(ctx, h.conversationID)
	if err != nil {
		return dto.SendMessageResponse{}, err
	}
	if !sameUsers(participants, envs) {
		metrics.FanoutFailuresTotal.WithLabelValues("envelope_mismatch").Inc()
		return dto.SendMessageResponse{}, ErrEnvelopeSetMismatch
	}
	resp, err := s.persist(ctx, h, in.Metadata, in.SenderName, envs, participants, "client")
	if errors.Is(err, ErrParticipantsChanged) {
		return resp, fmt.Errorf("%w: %w", ErrEnvelopeSetMismatch, err)
	}
	return resp, err
}

// resolveRecipients returns the active participants in join order and their
// fan-out recipients. Every participant needs a published key.
func (s *Service) resolveRecipients(ctx context.Context, conversationID uuid.UUID) ([]store.ActiveParticipant, []fanout.Recipient, error) {
	participants, err := s.store.Participants().ListActive(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	var missing []string
	recipients := make([]fanout.Recipient, 0, len(participants))
	for _, p := range participants {
		if p.PublicKey == nil || *p.PublicKey == "" {
			name := p.UserID.String()
			if p.DisplayName != "" {
				name = p.DisplayName + " (" + name + ")"
			}
			missing = append(missing, name)
			continue
		}
		recipients = append(recipients, fanout.Recipient{ID: p.UserID.String(), PublicKey: *p.PublicKey})
	}
	if len(missing) > 0 {
		metrics.FanoutFailuresTotal.WithLabelValues("missing_key").Inc()
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingRecipientKey, strings.Join(missing, ", "))
	}
	return participants, recipients, nil
}

func sameUsers(participants []store.ActiveParticipant, envs []fanout.Envelope) bool {
	if len(participants) != len(envs) {
		return false
	}
	want := make([]string, 0, len(participants))
	for _, p := range participants {
		want = append(want, p.UserID.String())
	}
	got := make([]string, 0, len(envs))
	for _, e := range envs {
		got = append(got, e.RecipientID)
	}
	sort.Strings(want)
	sort.Strings(got)
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

// persist writes the message, its envelopes and the delivery rows in one
// transaction and notifies live members after commit.
func (s *Service) persist(ctx context.Context, h sendHeader, metadata *string, senderName string, envs []fanout.Envelope, expected []store.ActiveParticipant, path string) (dto.SendMessageResponse, error) {
	now := s.timestamp()
	msg := domain.Message{
		ID:             uuid.New(),
		ConversationID: h.conversationID,
		SenderID:       h.senderID,
		Type:           h.msgType,
		ReplyToID:      h.replyTo,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	rows := make([]domain.MessageEnvelope, 0, len(envs))
	var deliveries []domain.DeliveryRecord
	for _, e := range envs {
		rid, err := uuid.Parse(e.RecipientID)
		if err != nil {
			return dto.SendMessageResponse{}, fmt.Errorf("%w: invalid recipient %q", ErrInvalidRequest, e.RecipientID)
		}
		rows = append(rows, domain.MessageEnvelope{
			ID:             uuid.New(),
			MessageID:      msg.ID,
			RecipientID:    rid,
			WrappedContent: e.WrappedContent,
			WrappedKey:     e.WrappedKey,
		})
		if rid != h.senderID {
			deliveries = append(deliveries, domain.DeliveryRecord{ID: uuid.New(), MessageID: msg.ID, UserID: rid})
		}
	}

	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		current, err := tx.Participants().ListActive(ctx, h.conversationID)
		if err != nil {
			return err
		}
		if !sameParticipants(expected, current) {
			return ErrParticipantsChanged
		}
		if err := tx.Messages().Create(ctx, &msg); err != nil {
			return err
		}
		if err := tx.Envelopes().CreateBatch(ctx, rows); err != nil {
			return err
		}
		if err := tx.Deliveries().CreateBatch(ctx, deliveries); err != nil {
			return err
		}
		return tx.Conversations().Touch(ctx, h.conversationID, now)
	})
	if err != nil {
		if !errors.Is(err, ErrParticipantsChanged) {
			metrics.FanoutFailuresTotal.WithLabelValues("storage").Inc()
		}
		return dto.SendMessageResponse{}, err
	}
	metrics.MessagesSentTotal.WithLabelValues(path).Inc()

	s.notifier.BroadcastNewMessage(h.conversationID.String(), presence.NewMessagePayload{
		ID:             msg.ID.String(),
		ConversationID: h.conversationID.String(),
		SenderID:       h.senderID.String(),
		SenderName:     senderName,
		Type:           string(msg.Type),
		ReplyToID:      optionalString(msg.ReplyToID),
		CreatedAt:      msg.CreatedAt,
	})

	return dto.SendMessageResponse{
		MessageID:      msg.ID.String(),
		ConversationID: h.conversationID.String(),
		CreatedAt:      msg.CreatedAt,
		Recipients:     len(rows),
	}, nil
}

func sameParticipants(a, b []store.ActiveParticipant) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[uuid.UUID]struct{}, len(a))
	for _, p := range a {
		ids[p.UserID] = struct{}{}
	}
	for _, p := range b {
		if _, ok := ids[p.UserID]; !ok {
			return false
		}
	}
	return true
}

// GetMessages pages through a conversation newest first. Each message carries
// only the caller's own envelope; messages fetched here count as delivered.
func (s *Service) GetMessages(ctx context.Context, conversationID, callerID string, limit int, beforeMessageID string) (dto.MessagesResponse, error) {
	convID, err := parseID(conversationID, "conversationId")
	if err != nil {
		return dto.MessagesResponse{}, err
	}
	caller, err := parseID(callerID, "callerId")
	if err != nil {
		return dto.MessagesResponse{}, err
	}
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	if err := s.requireActive(ctx, convID, caller); err != nil {
		return dto.MessagesResponse{}, err
	}

	var before *domain.Message
	if beforeMessageID != "" {
		id, err := parseID(beforeMessageID, "beforeMessageId")
		if err != nil {
			return dto.MessagesResponse{}, err
		}
		before, err = s.store.Messages().Get(ctx, id)
		if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
			return dto.MessagesResponse{}, err
		}
		if before != nil && before.ConversationID != convID {
			before = nil
		}
	}
	var cursor *time.Time
	if before != nil {
		cursor = &before.CreatedAt
	}

	msgs, err := s.store.Messages().ListPage(ctx, convID, limit, cursor)
	if err != nil {
		return dto.MessagesResponse{}, err
	}
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	envs, err := s.store.Envelopes().ForRecipient(ctx, ids, caller)
	if err != nil {
		return dto.MessagesResponse{}, err
	}
	if err := s.store.Deliveries().MarkDelivered(ctx, ids, caller, s.timestamp()); err != nil {
		return dto.MessagesResponse{}, err
	}

	out := dto.MessagesResponse{Messages: make([]dto.MessageView, 0, len(msgs))}
	for _, m := range msgs {
		view := dto.MessageView{
			ID:             m.ID.String(),
			ConversationID: m.ConversationID.String(),
			SenderID:       m.SenderID.String(),
			Type:           string(m.Type),
			ReplyToID:      optionalString(m.ReplyToID),
			Metadata:       m.Metadata,
			IsEdited:       m.IsEdited,
			IsDeleted:      m.IsDeleted,
			CreatedAt:      m.CreatedAt,
		}
		if env, ok := envs[m.ID]; ok && !m.IsDeleted {
			view.Envelope = &dto.EnvelopeView{WrappedContent: env.WrappedContent, WrappedKey: env.WrappedKey}
		}
		out.Messages = append(out.Messages, view)
	}
	return out, nil
}

// MarkRead records that userID read the message. Readers without a delivery
// row (the sender) are a no-op.
func (s *Service) MarkRead(ctx context.Context, messageID, userID string) error {
	msgID, err := parseID(messageID, "messageId")
	if err != nil {
		return err
	}
	uid, err := parseID(userID, "userId")
	if err != nil {
		return err
	}
	msg, err := s.store.Messages().Get(ctx, msgID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	updated, err := s.store.Deliveries().MarkRead(ctx, msgID, uid, s.timestamp())
	if err != nil {
		return err
	}
	if updated {
		s.notifier.BroadcastRead(msg.ConversationID.String(), msgID.String(), uid.String())
	}
	return nil
}

// DeleteMessage soft-deletes a message. Only its sender may do so.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID string) error {
	msgID, err := parseID(messageID, "messageId")
	if err != nil {
		return err
	}
	uid, err := parseID(userID, "userId")
	if err != nil {
		return err
	}
	msg, err := s.store.Messages().Get(ctx, msgID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	if msg.SenderID != uid {
		return ErrNotAuthorized
	}
	return s.store.Messages().SoftDelete(ctx, msgID, s.timestamp())
}
