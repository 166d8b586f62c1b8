package authz

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// HMACValidator accepts HS256/384/512 tokens signed with a shared secret.
type HMACValidator struct {
	secret []byte
	issuer string
}

func NewHMACValidator(secret, issuer string) *HMACValidator {
	return &HMACValidator{secret: []byte(secret), issuer: issuer}
}

func (h *HMACValidator) ValidateSession(_ context.Context, hdr http.Header) (*Session, error) {
	tok, err := tokenFromHeader(hdr)
	if err != nil {
		return nil, err
	}
	return parseV5(tok, h.issuer, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
		}
		return h.secret, nil
	})
}

// Ed25519Validator accepts EdDSA tokens such as those minted by jwtsigner.
type Ed25519Validator struct {
	public ed25519.PublicKey
	issuer string
}

func NewEd25519Validator(pub ed25519.PublicKey, issuer string) *Ed25519Validator {
	return &Ed25519Validator{public: pub, issuer: issuer}
}

// NewEd25519ValidatorFromBase64 decodes a standard-base64 raw public key.
func NewEd25519ValidatorFromBase64(pubB64, issuer string) (*Ed25519Validator, error) {
	raw, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return nil, fmt.Errorf("authz: decode ed25519 public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("authz: invalid ed25519 public key size")
	}
	return NewEd25519Validator(ed25519.PublicKey(raw), issuer), nil
}

func (e *Ed25519Validator) ValidateSession(_ context.Context, hdr http.Header) (*Session, error) {
	tok, err := tokenFromHeader(hdr)
	if err != nil {
		return nil, err
	}
	return parseV5(tok, e.issuer, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
		}
		return e.public, nil
	})
}

func parseV5(tok, issuer string, keyFunc jwt.Keyfunc) (*Session, error) {
	token, err := jwt.Parse(tok, keyFunc, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	return sessionFromClaims(claims, issuer)
}
