// Package main is the entrypoint for the InboxTriage API server.
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

	"github.com/mkale/inboxtriage/internal/ai"
	"github.com/mkale/inboxtriage/internal/api"
	"github.com/mkale/inboxtriage/internal/api/handler"
	mw "github.com/mkale/inboxtriage/internal/api/middleware"
	"github.com/mkale/inboxtriage/internal/api/response"
	"github.com/mkale/inboxtriage/internal/cache"
	"github.com/mkale/inboxtriage/internal/config"
	"github.com/mkale/inboxtriage/internal/enrich"
	"github.com/mkale/inboxtriage/internal/feed"
	"github.com/mkale/inboxtriage/internal/jobs"
	"github.com/mkale/inboxtriage/internal/pipeline"
	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/internal/urgency"
	"github.com/mkale/inboxtriage/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create AI provider
	aiProvider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", aiProvider.Name(), "model", aiProvider.Model())

	// 6. Create store and pipeline services
	pgStore := store.NewPostgresStore(pool)

	rawFeed := feed.NewRawReader(pgStore)
	enrichFeed := feed.NewEmailReader(pgStore, models.FeedCanonicalEmails)
	urgentFeed := feed.NewEmailReader(pgStore, models.FeedUrgentScan)

	enricher := enrich.NewEnricher(aiProvider, pgStore,
		cfg.Pipeline.EnrichConcurrency, cfg.Pipeline.MaxAnalysisChars, cfg.AI.InferenceTimeout)
	detector := urgency.NewDetector(cfg.Pipeline.UrgentKeywords, pgStore, redisCache)
	tracker := jobs.NewTracker(pgStore, redisCache)
	controller := pipeline.NewController(pgStore, enricher, tracker)

	stages := pipeline.NewStages(pgStore, rawFeed, enrichFeed, urgentFeed,
		enricher, detector, tracker, cfg.Pipeline)
	scheduler := pipeline.NewScheduler(cfg.Pipeline.BatchTimeout)
	stages.Register(scheduler)

	scheduler.Start(ctx)
	defer scheduler.Stop()

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		IngestHandler:      handler.NewIngestHandler(pgStore, tracker),
		GetEmailHandler:    handler.NewGetEmailHandler(pgStore),
		EnrichOneHandler:   handler.NewEnrichOneHandler(controller),
		EnrichBatchHandler: handler.NewEnrichBatchHandler(controller),

		ListStagesHandler:   handler.NewListStagesHandler(scheduler),
		SuspendStageHandler: handler.NewSuspendStageHandler(scheduler),
		ResumeStageHandler:  handler.NewResumeStageHandler(scheduler),

		ListJobsHandler: handler.NewListJobsHandler(pgStore),
		GetJobHandler:   handler.NewGetJobHandler(pgStore),

		ListAlertsHandler:   handler.NewListAlertsHandler(pgStore),
		ResolveAlertHandler: handler.NewResolveAlertHandler(pgStore, redisCache),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
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

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
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
