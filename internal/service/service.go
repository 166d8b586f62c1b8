package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"e2ee-chat/internal/fanout"
	"e2ee-chat/internal/presence"
	"e2ee-chat/internal/sanitize"
	"e2ee-chat/internal/store"
)

// Encryptor produces one envelope per recipient, or none at all.
type Encryptor interface {
	EncryptForRecipients(ctx context.Context, plaintext []byte, recipients []fanout.Recipient) ([]fanout.Envelope, error)
}

type Sanitizer interface {
	ContainsSuspiciousContent(content string) bool
	Sanitize(content string) (string, error)
}

// Notifier receives metadata-only events after a write commits.
type Notifier interface {
	BroadcastNewMessage(conversationID string, msg presence.NewMessagePayload)
	BroadcastRead(conversationID, messageID, userID string)
}

type nopNotifier struct{}

func (nopNotifier) BroadcastNewMessage(string, presence.NewMessagePayload) {}
func (nopNotifier) BroadcastRead(string, string, string) {}

type Option func(*Service)

func WithSanitizer(s Sanitizer) Option { return func(svc *Service) { svc.sanitizer = s } }

func WithNotifier(n Notifier) Option { return func(svc *Service) { svc.notifier = n } }

func WithClock(now func() time.Time) Option { return func(svc *Service) { svc.now = now } }

func WithMaxMessageLength(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.maxLength = n
		}
	}
}

type Service struct {
	store     *store.Store
	enc       Encryptor
	sanitizer Sanitizer
	notifier  Notifier
	now       func() time.Time
	maxLength int
}

func New(st *store.Store, enc Encryptor, opts ...Option) *Service {
	s := &Service{
		store:     st,
		enc:       enc,
		notifier:  nopNotifier{},
		now:       time.Now,
		maxLength: sanitize.DefaultMaxLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sanitizer == nil {
		s.sanitizer = sanitize.NewPolicy(s.maxLength)
	}
	return s
}

// timestamp returns the clock in UTC at the precision Postgres stores.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", ErrInvalidRequest, field)
	}
	return id, nil
}

func parseOptionalID(raw *string, field string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := parseID(*raw, field)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func (s *Service) requireActive(ctx context.Context, conversationID, userID uuid.UUID) error {
	ok, err := s.store.Participants().IsActive(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthorized
	}
	return nil
}
