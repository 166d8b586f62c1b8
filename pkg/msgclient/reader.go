package msgclient

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"

	"e2ee-chat/internal/cryptocore"
	"e2ee-chat/internal/dto"
)

// Placeholder is what a UI should render for a message it cannot decrypt.
const Placeholder = "message unavailable"

var (
	ErrDecryptionFailed = errors.New("msgclient: decryption failed")
	ErrKeyUnavailable   = errors.New("msgclient: private key unavailable")
	ErrNoEnvelope       = errors.New("msgclient: no envelope for this user")
)

// Result is the outcome of decrypting one envelope. Exactly one of Plaintext
// and Err is meaningful.
type Result struct {
	Plaintext string
	Err       error
}

// Text returns the plaintext, or Placeholder when decryption failed.
func (r Result) Text() string {
	if r.Err != nil {
		return Placeholder
	}
	return r.Plaintext
}

type Decrypted struct {
	Message dto.MessageView
	Result
}

// PrivateKeySource loads the caller's private key. A nil key with a nil error
// means no key is stored on this device.
type PrivateKeySource interface {
	LoadPrivate(ctx context.Context, userID string) (*rsa.PrivateKey, error)
}

type Reader struct {
	keys   PrivateKeySource
	client *Client
}

// NewReader builds a reader. client may be nil when only Decrypt and
// DecryptAll are used.
func NewReader(keys PrivateKeySource, client *Client) *Reader {
	return &Reader{keys: keys, client: client}
}

// Decrypt opens env with priv. It never panics; every failure is reported in
// the Result. A missing key is reported before a missing envelope.
func (r *Reader) Decrypt(env *dto.EnvelopeView, priv *rsa.PrivateKey) (res Result) {
	if priv == nil {
		return Result{Err: ErrKeyUnavailable}
	}
	if env == nil {
		return Result{Err: ErrNoEnvelope}
	}
	defer func() {
		if p := recover(); p != nil {
			res = Result{Err: fmt.Errorf("%w: %v", ErrDecryptionFailed, p)}
		}
	}()
	pt, err := cryptocore.OpenEnvelope(env.WrappedContent, env.WrappedKey, priv)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %w", ErrDecryptionFailed, err)}
	}
	return Result{Plaintext: string(pt)}
}

// DecryptAll decrypts each message with userID's stored key. Failures stay
// confined to the message they occur in.
func (r *Reader) DecryptAll(ctx context.Context, userID string, msgs []dto.MessageView) []Decrypted {
	var priv *rsa.PrivateKey
	if r.keys != nil {
		key, err := r.keys.LoadPrivate(ctx, userID)
		if err != nil {
			slog.Warn("msgclient: load private key failed", "user_id", userID, "error", err)
		}
		priv = key
	}
	out := make([]Decrypted, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Decrypted{Message: m, Result: r.Decrypt(m.Envelope, priv)})
	}
	return out
}

// Fetch pulls one page of a conversation and decrypts it.
func (r *Reader) Fetch(ctx context.Context, conversationID string, limit int, before string) ([]Decrypted, error) {
	if r.client == nil {
		return nil, errors.New("msgclient: reader has no client")
	}
	page, err := r.client.Messages(ctx, conversationID, limit, before)
	if err != nil {
		return nil, err
	}
	return r.DecryptAll(ctx, r.client.UserID(), page.Messages), nil
}
