// Package app wires configuration into the long-lived components shared by
// the server, the classification worker and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/ai"
	"github.com/ad-tracker/video-aggregator-go/internal/cache"
	"github.com/ad-tracker/video-aggregator-go/internal/catalog"
	"github.com/ad-tracker/video-aggregator-go/internal/classify"
	"github.com/ad-tracker/video-aggregator-go/internal/config"
	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/repository"
	"github.com/ad-tracker/video-aggregator-go/internal/errorlog"
	"github.com/ad-tracker/video-aggregator-go/internal/events"
	"github.com/ad-tracker/video-aggregator-go/internal/ingest"
	"github.com/ad-tracker/video-aggregator-go/internal/jobs"
	"github.com/ad-tracker/video-aggregator-go/internal/metrics"
	"github.com/ad-tracker/video-aggregator-go/internal/queue"
	"github.com/ad-tracker/video-aggregator-go/internal/ratelimit"
	"github.com/ad-tracker/video-aggregator-go/internal/retry"
	"github.com/ad-tracker/video-aggregator-go/internal/scheduler"
	"github.com/ad-tracker/video-aggregator-go/internal/scraper"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

const errorLogTimeout = 5 * time.Second

// App holds every component built from one configuration.
type App struct {
	Config  *config.Config
	Pool    *pgxpool.Pool
	Metrics *metrics.Metrics
	Cache   *cache.Cache
	Errors  *errorlog.Sink

	Channels repository.ChannelRepository
	Videos   repository.VideoRepository
	Jobs     repository.ScrapeJobRepository
	Settings repository.SettingsRepository
	Tracker  *jobs.Tracker

	Scraper   *scraper.Scraper
	AI        *ai.Client
	Classify  *classify.Service
	Queue     *queue.Client
	Redis     *redis.Client
	Publisher *events.MessagePublisher
	Pipeline  *ingest.Pipeline
	Scheduler *scheduler.Scheduler
	Catalog   *catalog.Service

	log *zap.Logger
}

// New connects to PostgreSQL and the optional Redis and RabbitMQ, then builds
// the component graph. Optional dependencies that fail to connect are logged
// and left nil.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		log:     logger.Named("app"),
	}

	pool, err := db.NewPool(ctx, cfg.Database.Pool())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.Pool = pool
	a.log.Info("database connection established", zap.Int32("max_conns", pool.Config().MaxConns))

	a.Channels = repository.NewChannelRepository(pool)
	a.Videos = repository.NewVideoRepository(pool)
	a.Jobs = repository.NewScrapeJobRepository(pool)
	a.Settings = repository.NewSettingsRepository(pool)
	a.Tracker = jobs.NewTracker(a.Jobs, nil)
	a.Errors = errorlog.NewSink(repository.NewErrorLogRepository(pool), errorLogTimeout)

	a.Cache = cache.New(cfg.Cache.DefaultTTL, cache.WithMetrics(a.Metrics))
	if !cfg.Cache.Enabled {
		a.Cache.SetEnabled(false)
	}
	a.Catalog = catalog.NewService(a.Videos, a.Channels, a.Cache)
	if settings, err := a.Settings.Get(ctx); err != nil {
		a.log.Warn("failed to load cache TTL from settings, using default", zap.Error(err))
	} else {
		a.Catalog.SetTTL(settings.CacheTTL(catalog.DefaultTTL))
	}

	a.Scraper = scraper.New(scraper.Config{
		Timeout:          cfg.Scraper.Timeout,
		KnownStreakLimit: cfg.Scraper.KnownStreakLimit,
		UserAgent:        cfg.Scraper.UserAgent,
		AcceptLanguage:   cfg.Scraper.AcceptLanguage,
		MaxBodyBytes:     cfg.Scraper.MaxBodyBytes,
	}, &http.Client{})

	a.connectRedis(ctx)
	a.buildClassification()
	a.connectPublisher()

	pipelineOpts := []ingest.Option{
		ingest.WithCache(a.Cache),
		ingest.WithRecorder(a.Errors),
		ingest.WithMetrics(a.Metrics),
	}
	if a.Publisher != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithPublisher(a.Publisher))
	}
	if c := a.Categorizer(); c != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithCategorizer(c))
	}
	a.Pipeline = ingest.NewPipeline(a.Videos, a.Channels, pipelineOpts...)

	a.Scheduler = scheduler.New(scheduler.Config{
		IntervalHours:    cfg.Scheduler.IntervalHours,
		Timezone:         cfg.Scheduler.Timezone,
		BatchSize:        cfg.Scheduler.BatchSize,
		BaseDelay:        cfg.Scheduler.BaseDelay,
		MaxDelay:         cfg.Scheduler.MaxDelay,
		ChannelAttempts:  cfg.Scheduler.ChannelAttempts,
		KnownStreakLimit: cfg.Scraper.KnownStreakLimit,
		AutoClassify:     cfg.Scheduler.AutoClassify && a.Categorizer() != nil,
	}, scheduler.Deps{
		Settings: a.Settings,
		Channels: a.Channels,
		Videos:   a.Videos,
		Scraper:  a.Scraper,
		Ingester: a.Pipeline,
		Tracker:  a.Tracker,
		Errors:   a.Errors,
		Metrics:  a.Metrics,
	})

	return a, nil
}

func (a *App) connectRedis(ctx context.Context) {
	url := a.Config.Redis.URL
	if url == "" {
		return
	}

	opts, err := queue.RedisOptions(url)
	if err != nil {
		a.log.Warn("invalid redis URL, queue and shared rate window disabled", zap.Error(err))
		return
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		a.log.Warn("redis unreachable, queue and shared rate window disabled", zap.Error(err))
		_ = client.Close()
		return
	}
	a.Redis = client

	qc, err := queue.NewClient(url, "server")
	if err != nil {
		a.log.Warn("failed to initialize queue client", zap.Error(err))
		return
	}
	a.Queue = qc
	a.log.Info("redis connected, classification runs through the task queue")
}

func (a *App) buildClassification() {
	cfg := a.Config.AI
	if !cfg.Enabled {
		a.log.Info("AI classification disabled")
		return
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryWindow(cfg.Window, cfg.RequestsPerWindow)
	if a.Redis != nil {
		limiter = ratelimit.NewRedisWindow(a.Redis, "ratelimit:ai:", cfg.Window, cfg.RequestsPerWindow)
	}

	policy := retry.ProviderPolicy()
	policy.MaxAttempts = cfg.MaxAttempts
	policy.RateLimitMaxAttempts = cfg.RateLimitMaxAttempts

	a.AI = ai.NewClient(ai.Config{
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Timeout:     cfg.Timeout,
		Concurrency: cfg.Concurrency,
	},
		ai.WithLimiter(limiter),
		ai.WithRecorder(a.Errors),
		ai.WithMetrics(a.Metrics),
		ai.WithPolicy(policy),
	)

	a.Classify = classify.NewService(a.Videos, a.AI.WithConcurrency(cfg.BatchConcurrency),
		classify.WithCache(a.Cache),
		classify.WithTracker(a.Tracker),
		classify.WithMetrics(a.Metrics),
		classify.WithConcurrency(cfg.BatchConcurrency),
	)
}

func (a *App) connectPublisher() {
	if !a.Config.RabbitMQ.Enabled {
		return
	}
	pub, err := events.NewMessagePublisher(&a.Config.RabbitMQ)
	if err != nil {
		a.log.Warn("failed to connect to RabbitMQ, ingestion events disabled", zap.Error(err))
		return
	}
	a.Publisher = pub
}

// Categorizer returns where new videos are sent for classification: the task
// queue when Redis is available, the in-process service otherwise, or nil
// when AI is disabled.
func (a *App) Categorizer() ingest.Categorizer {
	switch {
	case a.AI == nil:
		return nil
	case a.Queue != nil:
		return a.Queue
	case a.Classify != nil:
		return a.Classify
	}
	return nil
}

// Close releases everything New opened, in reverse dependency order.
func (a *App) Close() error {
	var errs []error

	if a.Scheduler != nil {
		a.Scheduler.Close()
	}
	if a.Classify != nil {
		a.Classify.Close()
	}
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	a.Errors.Close()
	if a.Pool != nil {
		a.Pool.Close()
	}

	return errors.Join(errs...)
}
