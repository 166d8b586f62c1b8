// Package authz validates bearer sessions issued by the external identity
// provider and carries the resulting Session through request contexts.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"e2ee-chat/internal/observability/metrics"
	obsmw "e2ee-chat/internal/observability/middleware"
)

const CookieName = "access_token"

var ErrUnauthenticated = errors.New("authz: unauthenticated")

// Session is the authenticated caller.
type Session struct {
	UserID      string
	DisplayName string
}

type Validator interface {
	ValidateSession(ctx context.Context, h http.Header) (*Session, error)
}

// tokenFromHeader prefers the Authorization bearer token and falls back to the
// access_token cookie, which is all a browser websocket can send.
func tokenFromHeader(h http.Header) (string, error) {
	if raw := h.Get("Authorization"); raw != "" {
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			return "", fmt.Errorf("%w: malformed authorization header", ErrUnauthenticated)
		}
		tok := strings.TrimSpace(raw[len("Bearer "):])
		if tok == "" {
			return "", fmt.Errorf("%w: empty bearer token", ErrUnauthenticated)
		}
		return tok, nil
	}
	req := http.Request{Header: h}
	if c, err := req.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
}

func sessionFromClaims(claims map[string]any, issuer string) (*Session, error) {
	if iss, _ := claims["iss"].(string); issuer != "" && iss != issuer {
		return nil, fmt.Errorf("%w: issuer mismatch %q", ErrUnauthenticated, iss)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: no subject", ErrUnauthenticated)
	}
	name, _ := claims["name"].(string)
	return &Session{UserID: sub, DisplayName: name}, nil
}

type sessionKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// Middleware rejects requests without a valid session and stores the session
// in the request context otherwise.
func Middleware(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := obsmw.RequestIDFromContext(r.Context())
			traceID := obsmw.TraceIDFromContext(r.Context())
			sess, err := v.ValidateSession(r.Context(), r.Header)
			if err != nil {
				metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
				slog.Warn("auth rejected", "error", err, "request_id", reqID, "trace_id", traceID)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
			slog.Debug("auth passed", "subject", sess.UserID, "request_id", reqID, "trace_id", traceID)
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}
