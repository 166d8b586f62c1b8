// Package fanout encrypts one plaintext once and wraps its content key to
// every recipient's public key.
package fanout

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"e2ee-chat/internal/cryptocore"
)

var ErrFanoutEncryptionFailed = errors.New("fanout: encryption failed")

const DefaultConcurrency = 8

// Recipient is a participant together with the PEM public key on file.
type Recipient struct {
	ID        string
	PublicKey string
}

// Envelope is one recipient's share of a message: the shared sealed content
// and the content key wrapped to that recipient.
type Envelope struct {
	RecipientID    string
	WrappedContent string
	WrappedKey     string
}

// KeyResolver imports PEM public keys, typically through a cache.
type KeyResolver interface {
	PublicKey(encoded string) (*rsa.PublicKey, error)
}

type Encryptor struct {
	keys        KeyResolver
	concurrency int
}

func NewEncryptor(keys KeyResolver, concurrency int) *Encryptor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Encryptor{keys: keys, concurrency: concurrency}
}

// EncryptForRecipients returns one envelope per recipient in input order, or
// a nil slice and ErrFanoutEncryptionFailed if any recipient cannot be served.
func (e *Encryptor) EncryptForRecipients(ctx context.Context, plaintext []byte, recipients []Recipient) ([]Envelope, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrFanoutEncryptionFailed)
	}
	seen := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: empty recipient id", ErrFanoutEncryptionFailed)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate recipient %s", ErrFanoutEncryptionFailed, r.ID)
		}
		seen[r.ID] = struct{}{}
	}

	key, err := cryptocore.NewContentKey()
	if err != nil {
		return nil, fmt.Errorf("%w: content key: %v", ErrFanoutEncryptionFailed, err)
	}
	defer cryptocore.Zero(key)

	sealed, err := cryptocore.EncryptSymmetric(plaintext, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFanoutEncryptionFailed, err)
	}
	content, err := sealed.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFanoutEncryptionFailed, err)
	}

	out := make([]Envelope, len(recipients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, r := range recipients {
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pub, err := e.keys.PublicKey(r.PublicKey)
			if err != nil {
				return fmt.Errorf("recipient %s: %w", r.ID, err)
			}
			wrapped, err := cryptocore.WrapKey(key, pub)
			if err != nil {
				return fmt.Errorf("recipient %s: %w", r.ID, err)
			}
			out[i] = Envelope{
				RecipientID:    r.ID,
				WrappedContent: content,
				WrappedKey:     cryptocore.EncodeWrappedKey(wrapped),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFanoutEncryptionFailed, err)
	}
	return out, nil
}
