// Package main is the entrypoint for the Recheck API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/karanmehta/recheck/internal/ai"
	"github.com/karanmehta/recheck/internal/api"
	"github.com/karanmehta/recheck/internal/api/handler"
	mw "github.com/karanmehta/recheck/internal/api/middleware"
	"github.com/karanmehta/recheck/internal/api/response"
	"github.com/karanmehta/recheck/internal/cache"
	"github.com/karanmehta/recheck/internal/config"
	"github.com/karanmehta/recheck/internal/dedup"
	"github.com/karanmehta/recheck/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("starting recheck", "env", cfg.Server.Env, "ai_provider", cfg.AI.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database ready")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis ready")

	generator, err := ai.NewGenerator(cfg.AI)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}
	slog.Info("generation backend ready", "provider", generator.Name())

	pgStore := store.NewPostgresStore(pool)
	svc := dedup.NewService(pgStore, redisCache, generator, cfg.Dedup, cfg.AI.InferenceTimeout)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler:          healthHandler(pgStore, redisCache),
		CheckHandler:           handler.NewCheckHandler(svc),
		CreateAnalysisHandler:  handler.NewCreateAnalysisHandler(svc),
		GetAnalysisHandler:     handler.NewGetAnalysisHandler(svc),
		RegenerateHandler:      handler.NewRegenerateHandler(svc),
		DuplicateGroupsHandler: handler.NewDuplicateGroupsHandler(svc),
		CleanupHandler:         handler.NewCleanupHandler(svc),
		StatsHandler:           handler.NewStatsHandler(svc),
		CreateKeyHandler:       handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:        handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler:       handler.NewRevokeKeyHandler(pgStore),
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(deps),
		// generation requests block on the inference call, so the write
		// timeout has to outlast it
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.AI.InferenceTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		slog.Info("shutting down, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	slog.Info("stopped")
	return nil
}

// healthHandler reports aggregate service health. Any failing dependency
// degrades the endpoint to 503 with per-service detail.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
