// Package testutil starts a migrated PostgreSQL container for integration tests.
package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
)

// TestDatabase is a migrated database owned by one test.
type TestDatabase struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// SetupTestDatabase starts PostgreSQL, applies every migration and returns a
// pool. The container and pool are released through t.Cleanup.
func SetupTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("aggregator_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrateUp(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	return &TestDatabase{Pool: pool, ConnStr: connStr}
}

// Reset empties every data table and restores the default settings row.
func (td *TestDatabase) Reset(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := td.Pool.Exec(ctx, `TRUNCATE TABLE videos, channels, scrape_jobs, error_logs RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	_, err = td.Pool.Exec(ctx, `
		UPDATE scheduler_settings
		SET enabled = FALSE, interval_hours = 6, timezone = 'UTC', batch_size = 50,
		    cache_ttl_seconds = 300, next_run_at = NULL, last_run_at = NULL
		WHERE id = 1`)
	require.NoError(t, err)
}

// SeedChannel inserts a channel directly and returns its ID.
func (td *TestDatabase) SeedChannel(t *testing.T, name, url string, platform models.Platform, lastScraped *time.Time) int64 {
	t.Helper()

	var id int64
	err := td.Pool.QueryRow(context.Background(), `
		INSERT INTO channels (name, url, platform, last_scraped_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, name, url, platform, lastScraped).Scan(&id)
	require.NoError(t, err)
	return id
}

func migrateUp(t *testing.T, connStr string) {
	t.Helper()

	_, file, _, _ := runtime.Caller(0)
	dir, err := filepath.Abs(filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations"))
	require.NoError(t, err)

	m, err := migrate.New("file://"+dir, connStr)
	require.NoError(t, err)
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}
}
