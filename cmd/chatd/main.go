package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"e2ee-chat/internal/authz"
	"e2ee-chat/internal/config"
	"e2ee-chat/internal/db"
	"e2ee-chat/internal/fanout"
	"e2ee-chat/internal/keystore"
	"e2ee-chat/internal/observability/logging"
	"e2ee-chat/internal/observability/metrics"
	"e2ee-chat/internal/presence"
	"e2ee-chat/internal/sanitize"
	"e2ee-chat/internal/service"
	"e2ee-chat/internal/store"
	transport "e2ee-chat/internal/transport/http"
)

func main() {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "chatd",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})

	slog.SetDefault(logger)
	metrics.MustRegister("chatd")

	logger.Info("starting service")

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.OpenGorm(db.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	st := store.New(gdb)
	if err := st.AutoMigrate(); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	validator, closeValidator, err := newValidator(cfg)
	if err != nil {
		logger.Error("auth validator", "mode", cfg.AuthMode, "error", err)
		os.Exit(1)
	}
	defer closeValidator()

	var svc *service.Service
	hubOpts := []presence.Option{
		presence.WithSendBuffer(cfg.WSSendBuffer),
		presence.WithAuthorizer(presence.AuthorizerFunc(func(ctx context.Context, userID, conversationID string) (bool, error) {
			return svc.CanJoin(ctx, userID, conversationID)
		})),
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("redis url", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		hubOpts = append(hubOpts, presence.WithRelay(presence.NewRedisRelay(rdb, presence.DefaultRelayChannel)))
		logger.Info("presence relay enabled", "channel", presence.DefaultRelayChannel)
	}
	hub := presence.NewHub(hubOpts...)
	if err := hub.Start(ctx); err != nil {
		logger.Error("presence relay subscribe", "error", err)
		os.Exit(1)
	}
	defer hub.Close()

	keys := keystore.New(nil)
	svc = service.New(st, fanout.NewEncryptor(keys, cfg.FanoutConcurrency),
		service.WithSanitizer(sanitize.NewPolicy(cfg.MaxMessageLength)),
		service.WithMaxMessageLength(cfg.MaxMessageLength),
		service.WithNotifier(hub),
	)

	handler := transport.NewRouter(transport.Options{
		Service:         svc,
		Validator:       validator,
		Live:            presence.NewHandler(hub, validator, cfg.CORSOrigins, cfg.WSWriteTimeout),
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	slog.Info("chatd listening", "addr", cfg.Addr, "db_driver", cfg.DatabaseDriver, "auth_mode", cfg.AuthMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("chatd stopped")
}

func newValidator(cfg config.Config) (authz.Validator, func(), error) {
	switch cfg.AuthMode {
	case config.AuthEd25519:
		v, err := authz.NewEd25519ValidatorFromBase64(cfg.Ed25519PublicKey, cfg.Issuer)
		return v, func() {}, err
	case config.AuthJWKS:
		slog.Info("using JWKS token validation", "jwks_url", cfg.JWKSURL)
		v, err := authz.NewJWKSValidator(cfg.JWKSURL, cfg.Issuer)
		if err != nil {
			return nil, func() {}, err
		}
		return v, v.Close, nil
	default:
		if cfg.HS256Secret == "" {
			return nil, func() {}, errors.New("CHAT_AUTH_HS256_SECRET is required in hmac mode")
		}
		slog.Info("using HS256 shared-secret token validation")
		return authz.NewHMACValidator(cfg.HS256Secret, cfg.Issuer), func() {}, nil
	}
}
