package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/app"
	"github.com/ad-tracker/video-aggregator-go/internal/config"
	"github.com/ad-tracker/video-aggregator-go/internal/handler"
	"github.com/ad-tracker/video-aggregator-go/internal/middleware"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("errors while closing components", zap.Error(err))
		}
	}()

	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Restore(ctx); err != nil {
			log.Error("failed to restore scheduler", zap.Error(err))
		}
	}

	a.Cache.StartSweeper(ctx, cfg.Cache.SweepInterval)
	go watchdog(ctx, a, cfg.Scheduler.StaleJobAfter, log)

	if len(cfg.Auth.APIKeys) == 0 {
		log.Warn("no API keys configured - admin endpoints will reject all requests")
	}

	gin.SetMode(gin.ReleaseMode)
	var publisher handler.HealthChecker
	if a.Publisher != nil {
		publisher = a.Publisher
	}
	router := handler.NewRouter(handler.Handlers{
		Health:    handler.NewHealthHandler(a.Pool, publisher),
		Scrape:    handler.NewScrapeHandler(a.Scheduler, a.Tracker),
		Scheduler: handler.NewSchedulerHandler(a.Scheduler, a.Catalog),
		Cache:     handler.NewCacheHandler(a.Cache),
		Classify:  handler.NewClassifyHandler(a.Categorizer(), a.Videos),
		Catalog:   handler.NewCatalogHandler(a.Catalog),
		Metrics:   a.Metrics.Handler(),
		Auth:      middleware.NewAPIKeyAuth(cfg.Auth.APIKeys).Handler(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}

	log.Info("server stopped gracefully")
	return nil
}

// watchdog fails jobs stuck in running and frees the run guard they hold.
func watchdog(ctx context.Context, a *app.App, staleAfter time.Duration, log *zap.Logger) {
	if staleAfter <= 0 {
		return
	}

	ticker := time.NewTicker(staleAfter / 4)
	defer ticker.Stop()

	// First sweep at boot picks up jobs left behind by a crashed process.
	if _, err := a.Scheduler.RecoverStale(ctx, staleAfter); err != nil {
		log.Warn("watchdog sweep failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Scheduler.RecoverStale(ctx, staleAfter); err != nil {
				log.Warn("watchdog sweep failed", zap.Error(err))
			}
		}
	}
}
