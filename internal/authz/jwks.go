package authz

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// JWKSValidator verifies tokens against a remote, periodically refreshed
// JWKS document.
type JWKSValidator struct {
	jwks   *keyfunc.JWKS
	issuer string
}

func NewJWKSValidator(jwksURL, issuer string) (*JWKSValidator, error) {
	options := keyfunc.Options{
		RefreshInterval:   time.Minute * 15,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, fmt.Errorf("authz: load jwks: %w", err)
	}
	return &JWKSValidator{jwks: jwks, issuer: issuer}, nil
}

func (j *JWKSValidator) ValidateSession(_ context.Context, hdr http.Header) (*Session, error) {
	tok, err := tokenFromHeader(hdr)
	if err != nil {
		return nil, err
	}
	token, err := jwt.Parse(tok, j.jwks.Keyfunc)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	return sessionFromClaims(claims, j.issuer)
}

// Close stops the background refresh.
func (j *JWKSValidator) Close() {
	j.jwks.EndBackground()
}
