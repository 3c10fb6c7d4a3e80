// Package scheduler runs the recurring incremental scrape over due channels.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/db/repository"
	"github.com/ad-tracker/video-aggregator-go/internal/errorlog"
	"github.com/ad-tracker/video-aggregator-go/internal/ingest"
	"github.com/ad-tracker/video-aggregator-go/internal/jobs"
	"github.com/ad-tracker/video-aggregator-go/internal/metrics"
	"github.com/ad-tracker/video-aggregator-go/internal/retry"
	"github.com/ad-tracker/video-aggregator-go/internal/scraper"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = errors.New("a scrape run is already in progress")

// Scraper fetches one channel listing.
type Scraper interface {
	Scrape(ctx context.Context, req scraper.Request) (*scraper.Result, error)
}

// Ingester persists scraped items.
type Ingester interface {
	Ingest(ctx context.Context, items []scraper.Item, channel *models.Channel, runCategorization bool) (*ingest.Result, error)
}

// Config holds the run parameters that are not user-editable at runtime.
type Config struct {
	IntervalHours    int
	Timezone         string
	BatchSize        int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	ChannelAttempts  int
	KnownStreakLimit int
	AutoClassify     bool
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Settings repository.SettingsRepository
	Channels repository.ChannelRepository
	Videos   repository.VideoRepository
	Scraper  Scraper
	Ingester Ingester
	Tracker  *jobs.Tracker
	Errors   errorlog.Recorder
	Metrics  *metrics.Metrics
}

// RunSummary describes a finished run.
type RunSummary struct {
	JobID       uuid.UUID        `json:"job_id"`
	Status      models.JobStatus `json:"status"`
	Channels    int              `json:"channels"`
	Failed      int              `json:"failed"`
	VideosAdded int              `json:"videos_added"`
}

// Status is the scheduler state exposed to the admin API.
type Status struct {
	Enabled       bool       `json:"enabled"`
	Running       bool       `json:"running"`
	IntervalHours int        `json:"interval_hours"`
	Timezone      string     `json:"timezone"`
	BatchSize     int        `json:"batch_size"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleep replaces the context-aware sleep used between channels and retries.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// WithRand replaces the uniform [0,1) source used for jitter.
func WithRand(r func() float64) Option {
	return func(s *Scheduler) { s.rand = r }
}

// Scheduler owns the cron entry and the single-run guard. Construct one per
// process with New and release it with Close.
type Scheduler struct {
	cfg  Config
	deps Deps

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	rand  func() float64
	log   *zap.Logger

	run atomic.Pointer[runGuard]

	mu       sync.Mutex
	cron     *cron.Cron
	interval Interval
	loc      *time.Location

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler. Nothing is scheduled until Start or Restore.
func New(cfg Config, deps Deps, opts ...Option) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ChannelAttempts <= 0 {
		cfg.ChannelAttempts = retry.ChannelPolicy().MaxAttempts
	}
	if deps.Errors == nil {
		deps.Errors = errorlog.Discard{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:      cfg,
		deps:     deps,
		now:      time.Now,
		sleep:    retry.Sleep,
		rand:     rand.Float64,
		log:      logger.Named("scheduler"),
		interval: Interval{Hours: cfg.IntervalHours}.Normalized(),
		loc:      time.UTC,
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start installs (or replaces) the cron entry and persists enabled=true
// together with the next fire time.
func (s *Scheduler) Start(ctx context.Context, intervalHours int, timezone string) (*time.Time, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	interval := Interval{Hours: intervalHours}.Normalized()
	if interval.Hours != intervalHours {
		s.log.Warn("unsupported interval, using default",
			zap.Int("requested_hours", intervalHours),
			zap.Int("hours", interval.Hours))
	}

	c := cron.New(cron.WithLocation(loc), cron.WithParser(parser))
	if _, err := c.AddFunc(interval.Spec(), s.runScheduled); err != nil {
		return nil, fmt.Errorf("install cron entry: %w", err)
	}

	next, err := interval.Next(s.now(), loc)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Settings.SetEnabled(ctx, true, &next); err != nil {
		return nil, fmt.Errorf("persist scheduler state: %w", err)
	}

	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron, s.interval, s.loc = c, interval, loc
	s.mu.Unlock()

	c.Start()

	s.log.Info("scheduler started",
		zap.String("spec", interval.Spec()),
		zap.String("timezone", loc.String()),
		zap.Time("next_run_at", next))

	return &next, nil
}

// Stop removes the cron entry and persists enabled=false. An in-flight run
// is not interrupted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.mu.Unlock()

	if err := s.deps.Settings.SetEnabled(ctx, false, nil); err != nil {
		return fmt.Errorf("persist scheduler state: %w", err)
	}
	s.log.Info("scheduler stopped")
	return nil
}

// Restore re-installs the schedule persisted before the last shutdown.
func (s *Scheduler) Restore(ctx context.Context) error {
	settings, err := s.deps.Settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load scheduler settings: %w", err)
	}
	if !settings.Enabled {
		s.log.Info("scheduler disabled in settings")
		return nil
	}
	_, err = s.Start(ctx, settings.IntervalHours, settings.Timezone)
	return err
}

// Configure saves the editable settings and applies the enabled flag.
func (s *Scheduler) Configure(ctx context.Context, in models.SchedulerSettings) (*models.SchedulerSettings, error) {
	if _, err := LoadLocation(in.Timezone); err != nil {
		return nil, err
	}
	in.IntervalHours = Interval{Hours: in.IntervalHours}.Normalized().Hours
	if err := s.deps.Settings.Save(ctx, &in); err != nil {
		return nil, fmt.Errorf("save scheduler settings: %w", err)
	}

	if in.Enabled {
		if _, err := s.Start(ctx, in.IntervalHours, in.Timezone); err != nil {
			return nil, err
		}
	} else if err := s.Stop(ctx); err != nil {
		return nil, err
	}

	return s.deps.Settings.Get(ctx)
}

// Status reports the persisted settings plus whether a run is in flight.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	settings, err := s.deps.Settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scheduler settings: %w", err)
	}
	return &Status{
		Enabled:       settings.Enabled,
		Running:       s.Running(),
		IntervalHours: settings.IntervalHours,
		Timezone:      settings.Timezone,
		BatchSize:     settings.BatchSize,
		NextRunAt:     settings.NextRunAt,
		LastRunAt:     settings.LastRunAt,
	}, nil
}

// RunOnce executes one run synchronously. A concurrent call returns
// ErrRunInProgress without side effects.
func (s *Scheduler) RunOnce(ctx context.Context, trigger models.JobType) (*RunSummary, error) {
	guard, ok := s.acquire()
	if !ok {
		s.log.Info("run skipped, another run is in progress", zap.String("trigger", string(trigger)))
		return nil, ErrRunInProgress
	}
	defer s.release(guard)

	jobID, settings, err := s.begin(ctx, trigger)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, jobID, settings), nil
}

// Trigger starts a run in the background and returns its job ID once the
// job is recorded. The run is bound to the scheduler's lifetime, not ctx.
func (s *Scheduler) Trigger(ctx context.Context, trigger models.JobType) (uuid.UUID, error) {
	guard, ok := s.acquire()
	if !ok {
		return uuid.Nil, ErrRunInProgress
	}

	jobID, settings, err := s.begin(ctx, trigger)
	if err != nil {
		s.release(guard)
		return uuid.Nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(guard)
		s.execute(s.baseCtx, jobID, settings)
	}()
	return jobID, nil
}

// Running reports whether a run currently holds the guard.
func (s *Scheduler) Running() bool {
	return s.run.Load() != nil
}

// ForceRelease clears the run guard. Only the watchdog calls it, for a run
// that is known to be stuck.
func (s *Scheduler) ForceRelease() {
	if s.run.Swap(nil) != nil {
		s.log.Warn("run guard force-released")
	}
}

// RecoverStale fails jobs running longer than olderThan and frees the guard
// if the local run has been holding it for that long.
func (s *Scheduler) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.deps.Tracker.RecoverStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if g := s.run.Load(); g != nil && s.now().Sub(g.startedAt) > olderThan {
		if s.run.CompareAndSwap(g, nil) {
			s.log.Warn("run guard force-released", zap.Time("started_at", g.startedAt))
		}
	}
	return n, nil
}

// Close stops the cron entry, cancels in-flight runs and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	s.cancel()
	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
}

// runGuard identifies one holder of the in-process run slot.
type runGuard struct {
	startedAt time.Time
}

func (s *Scheduler) acquire() (*runGuard, bool) {
	g := &runGuard{startedAt: s.now()}
	if !s.run.CompareAndSwap(nil, g) {
		return nil, false
	}
	return g, true
}

// release frees the slot only if g still holds it; a run whose guard was
// force-released must not clear the guard of the run that replaced it.
func (s *Scheduler) release(g *runGuard) {
	s.run.CompareAndSwap(g, nil)
}

func (s *Scheduler) runScheduled() {
	summary, err := s.RunOnce(s.baseCtx, models.JobTypeScheduled)
	if err != nil {
		if !errors.Is(err, ErrRunInProgress) {
			s.log.Error("scheduled run failed to start", zap.Error(err))
		}
		return
	}
	s.log.Info("scheduled run finished",
		zap.String("job_id", summary.JobID.String()),
		zap.String("status", string(summary.Status)),
		zap.Int("channels", summary.Channels),
		zap.Int("failed", summary.Failed),
		zap.Int("videos_added", summary.VideosAdded))
}

// begin records the job and claims the persistent single-running slot.
func (s *Scheduler) begin(ctx context.Context, trigger models.JobType) (uuid.UUID, *models.SchedulerSettings, error) {
	settings, err := s.deps.Settings.Get(ctx)
	if err != nil {
		s.log.Warn("failed to load scheduler settings, using config", zap.Error(err))
		settings = &models.SchedulerSettings{
			IntervalHours: s.cfg.IntervalHours,
			Timezone:      s.cfg.Timezone,
			BatchSize:     s.cfg.BatchSize,
		}
	}

	jobID, err := s.deps.Tracker.Create(ctx, trigger, true)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if err := s.deps.Tracker.Start(ctx, jobID); err != nil {
		summary := err.Error()
		s.deps.Tracker.Finish(ctx, jobID, models.JobStatusFailed, summary)
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			return uuid.Nil, nil, ErrRunInProgress
		}
		return uuid.Nil, nil, err
	}
	return jobID, settings, nil
}

// execute processes due channels sequentially and finishes the job.
func (s *Scheduler) execute(ctx context.Context, jobID uuid.UUID, settings *models.SchedulerSettings) *RunSummary {
	tr := s.deps.Tracker
	log := s.log.With(zap.String("job_id", jobID.String()))
	summary := &RunSummary{JobID: jobID}

	interval := Interval{Hours: settings.IntervalHours}.Normalized()
	batch := settings.BatchSize
	if batch <= 0 {
		batch = s.cfg.BatchSize
	}

	startedAt := s.now()
	due, err := s.deps.Channels.ListDue(ctx, startedAt.Add(-interval.Duration()), batch)
	if err != nil {
		log.Error("failed to select due channels", zap.Error(err))
		s.recordFailure(errorlog.TypeJob, "select due channels: "+err.Error(), map[string]any{"job_id": jobID.String()})
		return s.finish(ctx, summary, models.JobStatusFailed, "select due channels: "+err.Error())
	}

	summary.Channels = len(due)
	tr.UpdateProgress(ctx, jobID, 0, len(due), 0)
	tr.AppendLog(ctx, jobID, models.LogLevelInfo, "run started", map[string]any{
		"due_channels":   len(due),
		"interval_hours": interval.Hours,
		"batch_size":     batch,
	})
	log.Info("run started", zap.Int("due_channels", len(due)))

	for i, ch := range due {
		if ctx.Err() != nil {
			break
		}

		tr.SetCurrentChannel(ctx, jobID, ch.DisplayName())
		added, inspected, err := s.processChannel(ctx, jobID, ch)
		if ctx.Err() != nil {
			break
		}

		if err != nil {
			summary.Failed++
			s.deps.Metrics.ChannelScraped(false, inspected)
			log.Warn("channel failed", zap.Int64("channel_id", ch.ID), zap.String("url", ch.URL), zap.Error(err))
			tr.AppendLog(ctx, jobID, models.LogLevelError, "channel failed", map[string]any{
				"channel_id": ch.ID,
				"channel":    ch.DisplayName(),
				"error":      err.Error(),
			})
			s.recordFailure(errorlog.TypeScrape, err.Error(), map[string]any{
				"job_id":     jobID.String(),
				"channel_id": ch.ID,
				"url":        ch.URL,
			})
		} else {
			summary.VideosAdded += added
			s.deps.Metrics.ChannelScraped(true, inspected)
			tr.AddVideos(ctx, jobID, added)
			tr.AppendLog(ctx, jobID, models.LogLevelInfo, "channel done", map[string]any{
				"channel_id": ch.ID,
				"channel":    ch.DisplayName(),
				"added":      added,
				"inspected":  inspected,
			})
		}

		tr.UpdateProgress(ctx, jobID, i+1, len(due), summary.Failed)

		if i == len(due)-1 {
			break
		}
		delay := AdaptiveDelay(s.cfg.BaseDelay, s.cfg.MaxDelay, summary.Failed, i+1, Jitter(s.rand()))
		s.deps.Metrics.InterChannelDelay(delay.Seconds())
		if err := s.sleep(ctx, delay); err != nil {
			break
		}
	}

	switch {
	case ctx.Err() != nil:
		return s.finish(ctx, summary, models.JobStatusCancelled, "run cancelled: "+ctx.Err().Error())
	case summary.Channels > 0 && summary.Failed == summary.Channels:
		return s.finish(ctx, summary, models.JobStatusFailed, fmt.Sprintf("all %d channels failed", summary.Failed))
	case summary.Failed > 0:
		return s.finish(ctx, summary, models.JobStatusCompleted, fmt.Sprintf("%d of %d channels failed", summary.Failed, summary.Channels))
	default:
		return s.finish(ctx, summary, models.JobStatusCompleted, "")
	}
}

// processChannel scrapes and ingests one channel under the channel retry policy.
func (s *Scheduler) processChannel(ctx context.Context, jobID uuid.UUID, ch *models.Channel) (added, inspected int, err error) {
	policy := retry.ChannelPolicy()
	policy.MaxAttempts = s.cfg.ChannelAttempts

	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		known, err := s.deps.Videos.KnownExternalIDs(ctx, ch.ID)
		if err != nil {
			return fmt.Errorf("load known ids: %w", err)
		}

		res, err := s.deps.Scraper.Scrape(ctx, scraper.Request{
			URL:              ch.URL,
			Platform:         ch.Platform,
			KnownIDs:         known,
			KnownStreakLimit: s.cfg.KnownStreakLimit,
		})
		if err != nil {
			return err
		}
		inspected = res.Inspected

		s.refreshIdentity(ctx, ch, res.Channel)
		for _, w := range res.Warnings {
			s.deps.Tracker.AppendLog(ctx, jobID, models.LogLevelWarn, w, map[string]any{"channel_id": ch.ID})
		}

		out, err := s.deps.Ingester.Ingest(ctx, res.Items, ch, s.cfg.AutoClassify)
		if err != nil {
			return err
		}
		added = out.SavedCount
		if len(out.Errors) > 0 {
			s.deps.Tracker.AppendLog(ctx, jobID, models.LogLevelWarn, "some items failed to save", map[string]any{
				"channel_id": ch.ID,
				"failed":     len(out.Errors),
			})
		}
		return nil
	}, retry.WithSleep(s.sleep), retry.OnRetry(func(a retry.Attempt) {
		s.log.Info("retrying channel",
			zap.Int64("channel_id", ch.ID),
			zap.Int("attempt", a.Number),
			zap.Duration("wait", a.Wait),
			zap.Error(a.Err))
	}))
	return added, inspected, err
}

// refreshIdentity stores the channel name and external ID when the page
// reports values the record does not have yet.
func (s *Scheduler) refreshIdentity(ctx context.Context, ch *models.Channel, id scraper.ChannelIdentity) {
	name, externalID := "", ""
	if id.Name != "" && id.Name != ch.Name {
		name = id.Name
	}
	if id.ExternalID != "" && id.ExternalID != ch.ExternalID {
		externalID = id.ExternalID
	}
	if name == "" && externalID == "" {
		return
	}
	if err := s.deps.Channels.UpdateIdentity(ctx, ch.ID, name, externalID); err != nil {
		s.log.Warn("failed to update channel identity", zap.Int64("channel_id", ch.ID), zap.Error(err))
		return
	}
	if name != "" {
		ch.Name = name
	}
	if externalID != "" {
		ch.ExternalID = externalID
	}
}

func (s *Scheduler) finish(ctx context.Context, summary *RunSummary, status models.JobStatus, message string) *RunSummary {
	summary.Status = status
	s.deps.Tracker.Finish(ctx, summary.JobID, status, message)
	s.deps.Metrics.SchedulerRun(string(status))

	// Run bookkeeping must land even when the run itself was cancelled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var next *time.Time
	s.mu.Lock()
	if s.cron != nil {
		if t, err := s.interval.Next(s.now(), s.loc); err == nil {
			next = &t
		}
	}
	s.mu.Unlock()

	if err := s.deps.Settings.RecordRun(writeCtx, s.now(), next); err != nil {
		s.log.Warn("failed to record run", zap.Error(err))
	}
	return summary
}

func (s *Scheduler) recordFailure(kind, message string, data map[string]any) {
	s.deps.Errors.Record(errorlog.Entry{
		Level:   errorlog.LevelError,
		Type:    kind,
		Message: message,
		Module:  "scheduler",
		Context: data,
	})
}
