// Package jwtsigner mints EdDSA session tokens for local development and
// tests. Production sessions come from the external identity provider.
package jwtsigner

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	KeyID   string
	Issuer  string
}

// NewFromBase64 builds a signer from a standard-base64 ed25519 private key.
// An empty key generates an ephemeral one.
func NewFromBase64(privB64, kid, iss string) (*Signer, error) {
	var priv ed25519.PrivateKey
	if privB64 == "" {
		var err error
		if _, priv, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, err
		}
	} else {
		raw, err := base64.StdEncoding.DecodeString(privB64)
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, errors.New("jwtsigner: invalid ed25519 private key size")
		}
		priv = ed25519.PrivateKey(raw)
	}
	return &Signer{private: priv, public: priv.Public().(ed25519.PublicKey), KeyID: kid, Issuer: iss}, nil
}

// SignSession issues a token whose subject is the chat user id and whose
// name claim carries the display name.
func (s *Signer) SignSession(userID, displayName string, ttl time.Duration) (string, error) {
	var extra map[string]any
	if displayName != "" {
		extra = map[string]any{"name": displayName}
	}
	return s.Sign(userID, ttl, extra)
}

func (s *Signer) Sign(sub string, ttl time.Duration, claims map[string]any) (string, error) {
	now := time.Now()
	m := jwt.MapClaims{}
	for k, v := range claims {
		m[k] = v
	}
	m["iss"] = s.Issuer
	m["sub"] = sub
	m["iat"] = now.Unix()
	m["exp"] = now.Add(ttl).Unix()

	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, m)
	if s.KeyID != "" {
		t.Header["kid"] = s.KeyID
	}
	return t.SignedString(s.private)
}

func (s *Signer) PublicKey() ed25519.PublicKey { return s.public }

func (s *Signer) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.public)
}

func (s *Signer) PrivateKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.private)
}

// PublicJWK renders the verification key as a JWK for a JWKS document.
func (s *Signer) PublicJWK() map[string]any {
	return map[string]any{
		"kty": "OKP",
		"crv": "Ed25519",
		"alg": "EdDSA",
		"use": "sig",
		"kid": s.KeyID,
		"x":   base64.RawURLEncoding.EncodeToString(s.public),
	}
}
