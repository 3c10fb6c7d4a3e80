package models

import "time"

// SchedulerSettings is the single persisted row of scheduler and cache settings.
type SchedulerSettings struct {
	Enabled         bool       `db:"enabled" json:"enabled"`
	IntervalHours   int        `db:"interval_hours" json:"interval_hours"`
	Timezone        string     `db:"timezone" json:"timezone"`
	BatchSize       int        `db:"batch_size" json:"batch_size"`
	CacheTTLSeconds int        `db:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	NextRunAt       *time.Time `db:"next_run_at" json:"next_run_at,omitempty"`
	LastRunAt       *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// CacheTTL returns the configured cache TTL, or fallback when unset.
func (s *SchedulerSettings) CacheTTL(fallback time.Duration) time.Duration {
	if s == nil || s.CacheTTLSeconds <= 0 {
		return fallback
	}
	return time.Duration(s.CacheTTLSeconds) * time.Second
}
