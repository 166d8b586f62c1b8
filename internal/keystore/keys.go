// Package keystore manages the long-lived RSA identity keys used to wrap
// per-message content keys: PEM import/export, validation, a public-key
// import cache and durable private-key storage.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"e2ee-chat/internal/cryptocore"
)

const (
	KeyBits = 2048

	pemPublic       = "PUBLIC KEY"
	pemPrivate      = "PRIVATE KEY"
	pemPrivatePKCS1 = "RSA PRIVATE KEY"
)

var (
	ErrInvalidKeyFormat = errors.New("keystore: invalid key format")
)

// Keypair is one user's identity keypair.
type Keypair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

func GenerateKeypair() (*Keypair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate keypair: %w", err)
	}
	return &Keypair{Public: &priv.PublicKey, Private: priv}, nil
}

// ExportPublic encodes pub as a PEM "PUBLIC KEY" block (SPKI).
func ExportPublic(pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", fmt.Errorf("%w: nil public key", ErrInvalidKeyFormat)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("keystore: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPublic, Bytes: der})), nil
}

// ExportPrivate encodes priv as a PEM "PRIVATE KEY" block (PKCS#8).
func ExportPrivate(priv *rsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("%w: nil private key", ErrInvalidKeyFormat)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("keystore: marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPrivate, Bytes: der})), nil
}

func ImportPublic(encoded string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil || block.Type != pemPublic {
		return nil, fmt.Errorf("%w: expected %q PEM block", ErrInvalidKeyFormat, pemPublic)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrInvalidKeyFormat)
	}
	if pub.N.BitLen() < KeyBits {
		return nil, fmt.Errorf("%w: modulus %d bits, need %d", ErrInvalidKeyFormat, pub.N.BitLen(), KeyBits)
	}
	return pub, nil
}

// ImportPrivate accepts a PKCS#8 "PRIVATE KEY" block or a PKCS#1
// "RSA PRIVATE KEY" block.
func ImportPrivate(encoded string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil || (block.Type != pemPrivate && block.Type != pemPrivatePKCS1) {
		return nil, fmt.Errorf("%w: expected %q PEM block", ErrInvalidKeyFormat, pemPrivate)
	}
	return parsePrivateDER(block.Bytes)
}

func parsePrivateDER(der []byte) (*rsa.PrivateKey, error) {
	var priv *rsa.PrivateKey
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		pkcs1, err1 := x509.ParsePKCS1PrivateKey(der)
		if err1 != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
		}
		priv = pkcs1
	} else {
		var ok bool
		if priv, ok = parsed.(*rsa.PrivateKey); !ok {
			return nil, fmt.Errorf("%w: not an RSA private key", ErrInvalidKeyFormat)
		}
	}
	if priv.N.BitLen() < KeyBits {
		return nil, fmt.Errorf("%w: modulus %d bits, need %d", ErrInvalidKeyFormat, priv.N.BitLen(), KeyBits)
	}
	return priv, nil
}

// ValidatePublicKey reports whether encoded imports as an RSA public key that
// can actually wrap a content key.
func ValidatePublicKey(encoded string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	pub, err := ImportPublic(encoded)
	if err != nil {
		return false
	}
	probe, err := cryptocore.NewContentKey()
	if err != nil {
		return false
	}
	_, err = cryptocore.WrapKey(probe, pub)
	return err == nil
}
