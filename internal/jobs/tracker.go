// Package jobs records the durable progress of scrape and classification runs.
//
// Progress writes are best-effort: a storage failure is logged and the run
// carries on. Only Create and Start report errors because they gate whether
// a run happens at all.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/db/repository"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

const writeTimeout = 5 * time.Second

// ErrAlreadyRunning is returned by Start when another scrape job holds the
// single-running slot.
var ErrAlreadyRunning = errors.New("another scrape job is running")

// Tracker wraps ScrapeJobRepository with log-and-continue semantics.
type Tracker struct {
	repo repository.ScrapeJobRepository
	now  func() time.Time
	log  *zap.Logger
}

// NewTracker creates a Tracker. A nil now uses time.Now.
func NewTracker(repo repository.ScrapeJobRepository, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{repo: repo, now: now, log: logger.Named("jobs")}
}

// Create inserts a pending job and returns its ID.
func (t *Tracker) Create(ctx context.Context, jobType models.JobType, isIncremental bool) (uuid.UUID, error) {
	job := models.NewScrapeJob(jobType, isIncremental)
	job.CreatedAt = t.now()
	job.UpdatedAt = job.CreatedAt
	if err := t.repo.Create(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}
	return job.ID, nil
}

// Start marks the job running.
func (t *Tracker) Start(ctx context.Context, id uuid.UUID) error {
	err := t.repo.Start(ctx, id, t.now())
	if db.IsConstraint(err, db.ConstraintSingleRunning) {
		return ErrAlreadyRunning
	}
	if err != nil {
		return fmt.Errorf("start job %s: %w", id, err)
	}
	return nil
}

// UpdateProgress stores counters and the derived percentage.
func (t *Tracker) UpdateProgress(ctx context.Context, id uuid.UUID, processed, total, failed int) {
	ctx, cancel := t.writeContext(ctx)
	defer cancel()

	percent := models.ProgressPercent(processed, total)
	if err := t.repo.UpdateProgress(ctx, id, processed, total, failed, percent); err != nil {
		t.warn("update progress", id, err)
	}
}

func (t *Tracker) SetCurrentChannel(ctx context.Context, id uuid.UUID, name string) {
	ctx, cancel := t.writeContext(ctx)
	defer cancel()

	if err := t.repo.SetCurrentChannel(ctx, id, name); err != nil {
		t.warn("set current channel", id, err)
	}
}

func (t *Tracker) AddVideos(ctx context.Context, id uuid.UUID, n int) {
	if n <= 0 {
		return
	}
	ctx, cancel := t.writeContext(ctx)
	defer cancel()

	if err := t.repo.AddVideos(ctx, id, n); err != nil {
		t.warn("add videos", id, err)
	}
}

// AppendLog appends one timestamped entry to the job log.
func (t *Tracker) AppendLog(ctx context.Context, id uuid.UUID, level, message string, data map[string]any) {
	ctx, cancel := t.writeContext(ctx)
	defer cancel()

	entry := models.JobLogEntry{
		Timestamp: t.now().UTC(),
		Level:     level,
		Message:   message,
		Data:      data,
	}
	if err := t.repo.AppendLog(ctx, id, entry); err != nil {
		t.warn("append log", id, err)
	}
}

// Finish moves the job to a terminal status.
func (t *Tracker) Finish(ctx context.Context, id uuid.UUID, status models.JobStatus, summary string) {
	ctx, cancel := t.writeContext(ctx)
	defer cancel()

	if err := t.repo.Finish(ctx, id, status, summary, t.now()); err != nil {
		t.warn("finish", id, err)
		return
	}
	t.log.Info("job finished",
		zap.String("job_id", id.String()),
		zap.String("status", string(status)))
}

func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	return t.repo.GetByID(ctx, id)
}

// Active returns the running scrape job, or nil when none is running.
func (t *Tracker) Active(ctx context.Context) (*models.ScrapeJob, error) {
	job, err := t.repo.GetActive(ctx)
	if db.IsNotFound(err) {
		return nil, nil
	}
	return job, err
}

func (t *Tracker) List(ctx context.Context, limit, offset int) ([]*models.ScrapeJob, error) {
	return t.repo.List(ctx, limit, offset)
}

// RecoverStale fails running jobs started more than olderThan ago. It is the
// watchdog for runs whose process died without finishing the job.
func (t *Tracker) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := t.now().Add(-olderThan)
	n, err := t.repo.FailStale(ctx, cutoff, fmt.Sprintf("marked failed by watchdog: running longer than %s", olderThan))
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	if n > 0 {
		t.log.Warn("recovered stale jobs", zap.Int64("count", n), zap.Duration("older_than", olderThan))
	}
	return n, nil
}

// writeContext detaches progress writes from a cancelled run context so a
// cancelled run can still record how it ended.
func (t *Tracker) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

func (t *Tracker) warn(op string, id uuid.UUID, err error) {
	t.log.Warn("job tracker write failed",
		zap.String("op", op),
		zap.String("job_id", id.String()),
		zap.Error(err))
}
