package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"e2ee-chat/internal/observability/metrics"
)

func TestWithRequestAndTraceKeepsIncomingIDs(t *testing.T) {
	var gotReq, gotTrace string
	h := WithRequestAndTrace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = RequestIDFromContext(r.Context())
		gotTrace = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotReq != "req-1" {
		t.Fatalf("request id: got %q", gotReq)
	}
	if len(gotTrace) != 16 {
		t.Fatalf("generated trace id should be 16 chars, got %q", gotTrace)
	}
	if rec.Header().Get("X-Request-ID") != "req-1" {
		t.Fatalf("request id not echoed")
	}
}

func TestWithMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(WithMetrics)
	r.Get("/v1/keys/{userId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/keys/{userId}", "418"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/keys/abc", nil))
	after := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/keys/{userId}", "418"))
	if after != before+1 {
		t.Fatalf("expected counter increment, got %v -> %v", before, after)
	}
}
