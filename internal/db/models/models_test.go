package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		processed, total, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 10, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{10, 10, 100},
		{12, 10, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProgressPercent(tt.processed, tt.total), "processed=%d total=%d", tt.processed, tt.total)
	}
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, ContentRegular, ContentTypeFor(PlatformYouTube, false))
	assert.Equal(t, ContentYouTubeShort, ContentTypeFor(PlatformYouTube, true))
	assert.Equal(t, ContentTikTok, ContentTypeFor(PlatformTikTok, false))
	assert.Equal(t, ContentTikTok, ContentTypeFor(PlatformTikTok, true))
}

func TestChannel_IsDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	interval := 6 * time.Hour

	c := NewChannel("demo", "https://www.youtube.com/@demo", PlatformYouTube)
	assert.True(t, c.IsDue(now, interval), "never scraped is due")

	recent := now.Add(-time.Hour)
	c.LastScrapedAt = &recent
	assert.False(t, c.IsDue(now, interval))

	old := now.Add(-7 * time.Hour)
	c.LastScrapedAt = &old
	assert.True(t, c.IsDue(now, interval))

	exact := now.Add(-interval)
	c.LastScrapedAt = &exact
	assert.False(t, c.IsDue(now, interval), "due only when strictly older than the interval")
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
}

func TestSchedulerSettings_CacheTTL(t *testing.T) {
	var s *SchedulerSettings
	assert.Equal(t, time.Minute, s.CacheTTL(time.Minute))
	assert.Equal(t, 30*time.Second, (&SchedulerSettings{CacheTTLSeconds: 30}).CacheTTL(time.Minute))
}
