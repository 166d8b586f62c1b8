package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"e2ee-chat/internal/authz"
	"e2ee-chat/internal/httpx"
	"e2ee-chat/internal/observability/middleware"
	"e2ee-chat/internal/service"
)

type Options struct {
	Service   *service.Service
	Validator authz.Validator
	// Live serves the websocket endpoint; it authenticates on its own.
	Live            http.Handler
	CORSOrigins     []string
	RateLimitPerMin int
	RequestTimeout  time.Duration
}

type Handler struct {
	svc *service.Service
}

func NewRouter(opts Options) http.Handler {
	h := &Handler{svc: opts.Service}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.WithRequestAndTrace)
	r.Use(httpx.LogRequests)
	r.Use(middleware.WithMetrics)
	if opts.RateLimitPerMin > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimitPerMin, time.Minute))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsOrAll(opts.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	if opts.Live != nil {
		r.Get("/ws", opts.Live.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		r.Use(chimw.Timeout(timeout))
		r.Use(authz.Middleware(opts.Validator))

		r.Post("/keys", h.setPublicKey)
		r.Post("/keys/lookup", h.lookupPublicKeys)
		r.Get("/keys/{userId}", h.getPublicKey)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", h.createConversation)
			r.Get("/", h.listConversations)
			r.Route("/{conversationId}", func(r chi.Router) {
				r.Get("/participants", h.listParticipants)
				r.Post("/participants", h.addParticipant)
				r.Delete("/participants/me", h.leaveConversation)
				r.Post("/messages", h.sendMessage)
				r.Get("/messages", h.getMessages)
				r.Post("/envelopes", h.sendEnvelopes)
				r.Get("/unread", h.unreadCount)
			})
		})

		r.Post("/messages/{messageId}/read", h.markRead)
		r.Delete("/messages/{messageId}", h.deleteMessage)
	})

	return r
}

func originsOrAll(in []string) []string {
	if len(in) == 0 {
		return []string{"*"}
	}
	return in
}
