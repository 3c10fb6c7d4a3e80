package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
)

// ScrapeJobRepository defines operations for managing scrape job records.
type ScrapeJobRepository interface {
	// Create inserts a pending job.
	Create(ctx context.Context, job *models.ScrapeJob) error

	// Start moves a pending job to running. Returns ErrDuplicateKey when another
	// scrape job is already running.
	Start(ctx context.Context, id uuid.UUID, at time.Time) error

	// UpdateProgress stores counters. Counters never decrease.
	UpdateProgress(ctx context.Context, id uuid.UUID, processed, total, failed, percent int) error

	// SetCurrentChannel records which channel is being processed.
	SetCurrentChannel(ctx context.Context, id uuid.UUID, name string) error

	// AddVideos increments videos_added by n.
	AddVideos(ctx context.Context, id uuid.UUID, n int) error

	// AppendLog appends one entry to the job's log without touching prior entries.
	AppendLog(ctx context.Context, id uuid.UUID, entry models.JobLogEntry) error

	// Finish sets the terminal status. Already-terminal jobs are left untouched.
	Finish(ctx context.Context, id uuid.UUID, status models.JobStatus, summary string, at time.Time) error

	// GetByID retrieves a job including its log.
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error)

	// GetActive returns the running scrape job, or ErrNotFound.
	GetActive(ctx context.Context) (*models.ScrapeJob, error)

	// List returns jobs newest first.
	List(ctx context.Context, limit, offset int) ([]*models.ScrapeJob, error)

	// FailStale marks jobs still running since before cutoff as failed.
	FailStale(ctx context.Context, cutoff time.Time, summary string) (int64, error)
}

const scrapeJobColumns = `id, type, status, is_incremental, progress_percent, total_items, processed_items,
	failed_items, videos_added, current_channel_name, error_summary, started_at, completed_at, log_entries,
	created_at, updated_at`

type scrapeJobRepository struct {
	pool db.DBTX
}

// NewScrapeJobRepository creates a new ScrapeJobRepository.
func NewScrapeJobRepository(pool db.DBTX) ScrapeJobRepository {
	return &scrapeJobRepository{pool: pool}
}

func (r *scrapeJobRepository) Create(ctx context.Context, job *models.ScrapeJob) error {
	query := `
		INSERT INTO scrape_jobs (id, type, status, is_incremental, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Type,
		job.Status,
		job.IsIncremental,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return db.WrapError(err, "create scrape job")
	}

	return nil
}

func (r *scrapeJobRepository) Start(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'running', started_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return db.WrapError(err, "start scrape job")
	}
	if tag.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "start scrape job")
	}

	return nil
}

func (r *scrapeJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, processed, total, failed, percent int) error {
	query := `
		UPDATE scrape_jobs
		SET processed_items = GREATEST(processed_items, $2),
		    total_items = GREATEST(total_items, $3),
		    failed_items = GREATEST(failed_items, $4),
		    progress_percent = GREATEST(progress_percent, $5),
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, id, processed, total, failed, percent); err != nil {
		return db.WrapError(err, "update scrape job progress")
	}

	return nil
}

func (r *scrapeJobRepository) SetCurrentChannel(ctx context.Context, id uuid.UUID, name string) error {
	query := `UPDATE scrape_jobs SET current_channel_name = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, name); err != nil {
		return db.WrapError(err, "set scrape job channel")
	}

	return nil
}

func (r *scrapeJobRepository) AddVideos(ctx context.Context, id uuid.UUID, n int) error {
	query := `UPDATE scrape_jobs SET videos_added = videos_added + $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, n); err != nil {
		return db.WrapError(err, "add scrape job videos")
	}

	return nil
}

func (r *scrapeJobRepository) AppendLog(ctx context.Context, id uuid.UUID, entry models.JobLogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	query := `
		UPDATE scrape_jobs
		SET log_entries = log_entries || jsonb_build_array($2::jsonb), updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, id, string(payload)); err != nil {
		return db.WrapError(err, "append scrape job log")
	}

	return nil
}

func (r *scrapeJobRepository) Finish(ctx context.Context, id uuid.UUID, status models.JobStatus, summary string, at time.Time) error {
	query := `
		UPDATE scrape_jobs
		SET status = $2,
		    error_summary = $3,
		    completed_at = $4,
		    current_channel_name = '',
		    progress_percent = CASE WHEN $2 = 'completed' THEN 100 ELSE progress_percent END,
		    updated_at = $4
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`

	if _, err := r.pool.Exec(ctx, query, id, status, summary, at); err != nil {
		return db.WrapError(err, "finish scrape job")
	}

	return nil
}

func (r *scrapeJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	query := `SELECT ` + scrapeJobColumns + ` FROM scrape_jobs WHERE id = $1`

	job, err := scanScrapeJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, db.WrapError(err, "get scrape job")
	}

	return job, nil
}

func (r *scrapeJobRepository) GetActive(ctx context.Context) (*models.ScrapeJob, error) {
	query := `
		SELECT ` + scrapeJobColumns + `
		FROM scrape_jobs
		WHERE status = 'running' AND type IN ('scheduled', 'manual')
		ORDER BY started_at DESC
		LIMIT 1
	`

	job, err := scanScrapeJob(r.pool.QueryRow(ctx, query))
	if err != nil {
		return nil, db.WrapError(err, "get active scrape job")
	}

	return job, nil
}

func (r *scrapeJobRepository) List(ctx context.Context, limit, offset int) ([]*models.ScrapeJob, error) {
	query := `SELECT ` + scrapeJobColumns + ` FROM scrape_jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, db.WrapError(err, "list scrape jobs")
	}
	defer rows.Close()

	var jobs []*models.ScrapeJob
	for rows.Next() {
		job, err := scanScrapeJob(rows)
		if err != nil {
			return nil, db.WrapError(err, "scan scrape job")
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate scrape jobs")
	}

	return jobs, nil
}

func (r *scrapeJobRepository) FailStale(ctx context.Context, cutoff time.Time, summary string) (int64, error) {
	query := `
		UPDATE scrape_jobs
		SET status = 'failed', error_summary = $2, completed_at = NOW(), current_channel_name = '', updated_at = NOW()
		WHERE status IN ('running', 'pending') AND created_at < $1
	`

	tag, err := r.pool.Exec(ctx, query, cutoff, summary)
	if err != nil {
		return 0, db.WrapError(err, "fail stale scrape jobs")
	}

	return tag.RowsAffected(), nil
}

func scanScrapeJob(row pgx.Row) (*models.ScrapeJob, error) {
	job := &models.ScrapeJob{}
	var rawLog []byte

	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&job.IsIncremental,
		&job.ProgressPercent,
		&job.TotalItems,
		&job.ProcessedItems,
		&job.FailedItems,
		&job.VideosAdded,
		&job.CurrentChannelName,
		&job.ErrorSummary,
		&job.StartedAt,
		&job.CompletedAt,
		&rawLog,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.LogEntries = []models.JobLogEntry{}
	if len(rawLog) > 0 {
		if err := json.Unmarshal(rawLog, &job.LogEntries); err != nil {
			return nil, fmt.Errorf("decode log entries: %w", err)
		}
	}

	return job, nil
}
