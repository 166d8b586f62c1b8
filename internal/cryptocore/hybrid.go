// Package cryptocore holds the stateless primitives of the hybrid scheme:
// AES-256-GCM for message content and RSA-OAEP/SHA-256 for wrapping the
// per-message content key to each recipient.
package cryptocore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	KeySize = 32
	IVSize  = 12
	TagSize = 16
)

// Sealed is the AEAD output for one message. The same Sealed value is shared by
// every recipient envelope of that message.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
}

// NewContentKey returns a fresh random AES-256 key.
func NewContentKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if err := readRandom(key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptSymmetric seals plaintext under key with a freshly drawn IV.
func EncryptSymmetric(plaintext, key []byte) (*Sealed, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, IVSize)
	if err := readRandom(iv); err != nil {
		return nil, err
	}
	out := aead.Seal(nil, iv, plaintext, nil)
	split := len(out) - TagSize
	return &Sealed{
		Ciphertext: out[:split],
		IV:         iv,
		AuthTag:    append([]byte(nil), out[split:]...),
	}, nil
}

// DecryptSymmetric verifies the tag and returns the plaintext. Any mismatch is
// reported as ErrAuthenticationFailed and no plaintext is returned.
func DecryptSymmetric(s *Sealed, key []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrMalformedEnvelope
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(s.IV) != IVSize || len(s.AuthTag) != TagSize {
		return nil, ErrAuthenticationFailed
	}
	buf := make([]byte, 0, len(s.Ciphertext)+TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.AuthTag...)
	plaintext, err := aead.Open(nil, s.IV, buf, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// WrapKey encrypts the raw content key to a recipient public key.
func WrapKey(key []byte, pub *rsa.PublicKey) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if pub == nil {
		return nil, errors.New("cryptocore: nil public key")
	}
	return rsa.EncryptOAEP(sha256.New(), Random(), pub, key, nil)
}

// UnwrapKey recovers a content key wrapped with WrapKey.
func UnwrapKey(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrUnwrapFailed)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrapFailed, err)
	}
	if len(key) != KeySize {
		Zero(key)
		return nil, fmt.Errorf("%w: unexpected key length %d", ErrUnwrapFailed, len(key))
	}
	return key, nil
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
