package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/amotivv-inc/memory-box-inference/internal/gateway/handlers"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/lifecycle"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/metrics"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/rating"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/resolver"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/session"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/upstream"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/usage"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/vault"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/config"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/database"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/logging"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting inference proxy", "port", cfg.Port, "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to postgres")

	// Redis is an optional read-through cache for session tokens; the
	// proxy runs without it.
	var sessionCache *redis.SessionCache
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, session cache disabled", "error", err)
	} else {
		defer redisClient.Close()
		sessionCache = redis.NewSessionCache(redisClient, 30*time.Minute)
		logger.Info("connected to redis")
	}

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		logger.Error("vault initialization failed", "error", err)
		os.Exit(1)
	}

	pricing := usage.DefaultTable()
	if cfg.PricingFile != "" {
		pricing, err = usage.LoadTable(cfg.PricingFile)
		if err != nil {
			logger.Error("pricing table load failed", "path", cfg.PricingFile, "error", err)
			os.Exit(1)
		}
		logger.Info("loaded pricing table", "path", cfg.PricingFile, "models", len(pricing))
	}

	m := metrics.New()
	keyResolver := resolver.New(db, logger)
	tracker := session.NewTracker(db, sessionCache, logger)
	ledger := usage.NewLedger(pricing, db, logger)
	ratings := rating.New(db)
	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout)

	manager := lifecycle.NewManager(db, keyResolver, v, tracker, ledger, client, m, logger, lifecycle.Config{
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
	})

	mw := handlers.NewMiddleware([]byte(cfg.JWTSecret), db, logger)
	prober := handlers.NewHealthProber(db, v, client)
	responses := handlers.NewResponsesHandler(manager, ratings, prober, logger)
	admin := handlers.NewAdminHandler(db, v, logger)
	analytics := handlers.NewAnalyticsHandler(db, logger)
	liveness := handlers.NewLiveness(db, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS)
	r.Use(mw.RequestLogger)

	r.Get("/health", liveness.ServeHTTP)
	r.Handle("/metrics", m.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.Auth)

		r.Post("/responses", responses.Create)
		r.Get("/responses/health", responses.Health)
		r.Post("/responses/{id}/rate", responses.Rate)

		r.Get("/users", admin.ListUsers)
		r.Post("/users", admin.CreateUser)

		r.Get("/keys", admin.ListKeys)
		r.Post("/keys", admin.CreateKey)
		r.Get("/keys/{id}", admin.GetKey)
		r.Patch("/keys/{id}", admin.UpdateKey)

		r.Get("/analytics/usage", analytics.Usage)
		r.Get("/analytics/usage/daily", analytics.Daily)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
		// Write timeout must cover the longest streaming response, so
		// it tracks the upstream timeout rather than a fixed minute.
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
