package repository

import (
	"context"
	"time"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
)

// SettingsRepository reads and writes the single scheduler settings row.
type SettingsRepository interface {
	// Get returns the current settings.
	Get(ctx context.Context) (*models.SchedulerSettings, error)

	// Save stores the user-editable fields (interval, timezone, batch size, cache TTL).
	Save(ctx context.Context, settings *models.SchedulerSettings) error

	// SetEnabled persists the enabled flag and the next fire time.
	SetEnabled(ctx context.Context, enabled bool, nextRunAt *time.Time) error

	// RecordRun persists the last run time and the recomputed next fire time.
	RecordRun(ctx context.Context, lastRunAt time.Time, nextRunAt *time.Time) error
}

type settingsRepository struct {
	pool db.DBTX
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(pool db.DBTX) SettingsRepository {
	return &settingsRepository{pool: pool}
}

func (r *settingsRepository) Get(ctx context.Context) (*models.SchedulerSettings, error) {
	query := `
		SELECT enabled, interval_hours, timezone, batch_size, cache_ttl_seconds, next_run_at, last_run_at, updated_at
		FROM scheduler_settings
		WHERE id = 1
	`

	s := &models.SchedulerSettings{}
	err := r.pool.QueryRow(ctx, query).Scan(
		&s.Enabled,
		&s.IntervalHours,
		&s.Timezone,
		&s.BatchSize,
		&s.CacheTTLSeconds,
		&s.NextRunAt,
		&s.LastRunAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, db.WrapError(err, "get scheduler settings")
	}

	return s, nil
}

func (r *settingsRepository) Save(ctx context.Context, settings *models.SchedulerSettings) error {
	query := `
		INSERT INTO scheduler_settings (id, interval_hours, timezone, batch_size, cache_ttl_seconds, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET interval_hours = EXCLUDED.interval_hours,
		    timezone = EXCLUDED.timezone,
		    batch_size = EXCLUDED.batch_size,
		    cache_ttl_seconds = EXCLUDED.cache_ttl_seconds,
		    updated_at = EXCLUDED.updated_at
		RETURNING updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		settings.IntervalHours,
		settings.Timezone,
		settings.BatchSize,
		settings.CacheTTLSeconds,
	).Scan(&settings.UpdatedAt)
	if err != nil {
		return db.WrapError(err, "save scheduler settings")
	}

	return nil
}

func (r *settingsRepository) SetEnabled(ctx context.Context, enabled bool, nextRunAt *time.Time) error {
	query := `UPDATE scheduler_settings SET enabled = $1, next_run_at = $2, updated_at = NOW() WHERE id = 1`

	if _, err := r.pool.Exec(ctx, query, enabled, nextRunAt); err != nil {
		return db.WrapError(err, "set scheduler enabled")
	}

	return nil
}

func (r *settingsRepository) RecordRun(ctx context.Context, lastRunAt time.Time, nextRunAt *time.Time) error {
	query := `UPDATE scheduler_settings SET last_run_at = $1, next_run_at = $2, updated_at = NOW() WHERE id = 1`

	if _, err := r.pool.Exec(ctx, query, lastRunAt, nextRunAt); err != nil {
		return db.WrapError(err, "record scheduler run")
	}

	return nil
}
