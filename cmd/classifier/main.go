package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/app"
	"github.com/ad-tracker/video-aggregator-go/internal/config"
	"github.com/ad-tracker/video-aggregator-go/internal/queue"
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
	log := logger.Named("classifier")

	if cfg.Redis.URL == "" {
		return errors.New("redis URL is required (APP_REDIS_URL)")
	}
	if !cfg.AI.Enabled {
		return errors.New("AI classification is disabled (APP_AI_ENABLED)")
	}

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

	srv, err := queue.NewServer(cfg.Redis.URL, cfg.AI.BatchConcurrency, queue.NewClassificationHandler(a.Classify))
	if err != nil {
		return fmt.Errorf("failed to create queue server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start queue server: %w", err)
	}

	log.Info("classification worker running",
		zap.String("model", cfg.AI.Model),
		zap.Int("concurrency", cfg.AI.BatchConcurrency))

	<-ctx.Done()
	srv.Stop()
	return nil
}
