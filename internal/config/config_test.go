package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "load with defaults (no config file)",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 6, cfg.Scheduler.IntervalHours)
				assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
				assert.Equal(t, 12, cfg.Scraper.KnownStreakLimit)
				assert.Equal(t, 20*time.Second, cfg.Scraper.Timeout)
				assert.Equal(t, 1, cfg.AI.Concurrency)
				assert.Equal(t, 2, cfg.AI.BatchConcurrency)
				assert.Equal(t, 60*time.Second, cfg.AI.Timeout)
				assert.True(t, cfg.Cache.Enabled)
				assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
			},
		},
		{
			name: "environment variables override defaults",
			env: map[string]string{
				"APP_SERVER_PORT":              "9090",
				"APP_SCHEDULER_INTERVALHOURS":  "12",
				"APP_SCHEDULER_BATCHSIZE":      "5",
				"APP_SCRAPER_KNOWNSTREAKLIMIT": "20",
				"APP_CACHE_ENABLED":            "false",
				"APP_SCHEDULER_TIMEZONE":       "Europe/Berlin",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 12, cfg.Scheduler.IntervalHours)
				assert.Equal(t, 5, cfg.Scheduler.BatchSize)
				assert.Equal(t, 20, cfg.Scraper.KnownStreakLimit)
				assert.False(t, cfg.Cache.Enabled)
				assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Timezone)
			},
		},
		{
			name:    "invalid timezone is rejected",
			env:     map[string]string{"APP_SCHEDULER_TIMEZONE": "Mars/Olympus"},
			wantErr: true,
		},
		{
			name:    "max delay below base delay is rejected",
			env:     map[string]string{"APP_SCHEDULER_BASEDELAY": "10s", "APP_SCHEDULER_MAXDELAY": "1s"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	content := []byte("scheduler:\n  intervalhours: 24\n  batchsize: 3\nauth:\n  apikeys:\n    - key-one\n    - key-two\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.Scheduler.IntervalHours)
	assert.Equal(t, 3, cfg.Scheduler.BatchSize)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.Auth.APIKeys)
}

func TestDatabaseConfig_Pool(t *testing.T) {
	d := DatabaseConfig{
		Host:           "db",
		Port:           5433,
		Name:           "agg",
		User:           "u",
		Password:       "p",
		SSLMode:        "disable",
		MaxConnections: 7,
		MinConnections: 1,
		MaxIdleTime:    time.Minute,
		MaxLifetime:    time.Hour,
	}

	pc := d.Pool()
	assert.Equal(t, "db", pc.Host)
	assert.Equal(t, "agg", pc.Database)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, "postgres://u:p@db:5433/agg?sslmode=disable", pc.URL())
}
