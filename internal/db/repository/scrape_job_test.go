package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
)

var scrapeJobCols = []string{"id", "type", "status", "is_incremental", "progress_percent", "total_items", "processed_items",
	"failed_items", "videos_added", "current_channel_name", "error_summary", "started_at", "completed_at", "log_entries",
	"created_at", "updated_at"}

func TestScrapeJobRepository_Start(t *testing.T) {
	id := uuid.New()
	at := time.Now()

	t.Run("pending job starts", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("SET status = 'running'").
			WithArgs(id, at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewScrapeJobRepository(mock).Start(context.Background(), id, at))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second running job violates the single running index", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("SET status = 'running'").
			WithArgs(id, at).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: db.ConstraintSingleRunning})

		err = NewScrapeJobRepository(mock).Start(context.Background(), id, at)
		assert.True(t, db.IsConstraint(err, db.ConstraintSingleRunning))
	})
}

func TestScrapeJobRepository_AppendLog(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	entry := models.JobLogEntry{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Level:     models.LogLevelInfo,
		Message:   "channel done",
		Data:      map[string]any{"saved": 3},
	}
	payload, err := json.Marshal(entry)
	require.NoError(t, err)

	mock.ExpectExec("log_entries = log_entries \\|\\| jsonb_build_array\\(\\$2::jsonb\\)").
		WithArgs(id, string(payload)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewScrapeJobRepository(mock).AppendLog(context.Background(), id, entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScrapeJobRepository_GetByID_DecodesLog(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	now := time.Now()
	started := now.Add(-time.Minute)
	rawLog := []byte(`[{"timestamp":"2026-01-01T00:00:00Z","level":"info","message":"first"},{"timestamp":"2026-01-01T00:00:01Z","level":"warn","message":"second"}]`)

	mock.ExpectQuery("FROM scrape_jobs WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(scrapeJobCols).AddRow(
			id, models.JobTypeManual, models.JobStatusRunning, true, 50, 4, 2, 1, 7, "Demo", "",
			&started, (*time.Time)(nil), rawLog, now, now,
		))

	job, err := NewScrapeJobRepository(mock).GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	require.Len(t, job.LogEntries, 2)
	assert.Equal(t, "first", job.LogEntries[0].Message)
	assert.Equal(t, "second", job.LogEntries[1].Message)
}

func TestScrapeJobRepository_FailStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Now().Add(-2 * time.Hour)
	mock.ExpectExec("SET status = 'failed'").
		WithArgs(cutoff, "recovered").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := NewScrapeJobRepository(mock).FailStale(context.Background(), cutoff, "recovered")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSettingsRepository_SetEnabled(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	next := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE scheduler_settings SET enabled").
		WithArgs(true, &next).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewSettingsRepository(mock).SetEnabled(context.Background(), true, &next))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorLogRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO error_logs").
		WithArgs("error", "ai_output", "bad json", "classify", `{"title":"x"}`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))

	entry := &models.ErrorLog{Level: "error", Type: "ai_output", Message: "bad json", Module: "classify", Context: map[string]any{"title": "x"}}
	require.NoError(t, NewErrorLogRepository(mock).Create(context.Background(), entry))
	assert.Equal(t, int64(1), entry.ID)
}
