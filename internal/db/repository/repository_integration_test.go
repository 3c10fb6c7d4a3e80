//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/db/testutil"
)

func TestRepositories_Integration(t *testing.T) {
	td := testutil.SetupTestDatabase(t)

	ctx := context.Background()
	channels := NewChannelRepository(td.Pool)
	videos := NewVideoRepository(td.Pool)
	jobs := NewScrapeJobRepository(td.Pool)
	settings := NewSettingsRepository(td.Pool)

	t.Run("last_scraped_at never moves backwards", func(t *testing.T) {
		td.Reset(t)

		ch := models.NewChannel("Demo", "https://www.youtube.com/@demo", models.PlatformYouTube)
		require.NoError(t, channels.Create(ctx, ch))

		later := time.Now().UTC().Truncate(time.Second)
		earlier := later.Add(-time.Hour)

		require.NoError(t, channels.MarkScraped(ctx, ch.ID, 3, later))
		require.NoError(t, channels.MarkScraped(ctx, ch.ID, 2, earlier))

		got, err := channels.GetByID(ctx, ch.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastScrapedAt)
		assert.True(t, got.LastScrapedAt.Equal(later))
		assert.Equal(t, 5, got.VideoCount)
	})

	t.Run("due channels are oldest first with never-scraped leading", func(t *testing.T) {
		td.Reset(t)

		now := time.Now().UTC()
		tenAgo, twentyAgo, hourAgo := now.Add(-10*time.Hour), now.Add(-20*time.Hour), now.Add(-time.Hour)
		td.SeedChannel(t, "a", "https://a.example", models.PlatformYouTube, &tenAgo)
		td.SeedChannel(t, "b", "https://b.example", models.PlatformYouTube, &twentyAgo)
		td.SeedChannel(t, "c", "https://c.example", models.PlatformTikTok, nil)
		td.SeedChannel(t, "fresh", "https://fresh.example", models.PlatformYouTube, &hourAgo)

		due, err := channels.ListDue(ctx, now.Add(-6*time.Hour), 10)
		require.NoError(t, err)

		var names []string
		for _, ch := range due {
			names = append(names, ch.Name)
		}
		assert.Equal(t, []string{"c", "b", "a"}, names)
	})

	t.Run("external id is unique per platform", func(t *testing.T) {
		td.Reset(t)

		ch := models.NewChannel("Demo", "https://www.youtube.com/@demo", models.PlatformYouTube)
		require.NoError(t, channels.Create(ctx, ch))

		v := &models.Video{ChannelID: ch.ID, Platform: models.PlatformYouTube, ExternalVideoID: "x1", Slug: "one", Title: "One", ContentType: models.ContentRegular}
		require.NoError(t, videos.Create(ctx, v))

		dup := &models.Video{ChannelID: ch.ID, Platform: models.PlatformYouTube, ExternalVideoID: "x1", Slug: "two", Title: "Two", ContentType: models.ContentRegular}
		err := videos.Create(ctx, dup)
		assert.True(t, db.IsConstraint(err, db.ConstraintVideoExternalID))

		exists, err := videos.ExistsByExternalID(ctx, models.PlatformYouTube, "x1")
		require.NoError(t, err)
		assert.True(t, exists)

		taken, err := videos.SlugExists(ctx, "one")
		require.NoError(t, err)
		assert.True(t, taken)
	})

	t.Run("only one scrape job may run", func(t *testing.T) {
		td.Reset(t)

		first := models.NewScrapeJob(models.JobTypeScheduled, true)
		second := models.NewScrapeJob(models.JobTypeManual, true)
		require.NoError(t, jobs.Create(ctx, first))
		require.NoError(t, jobs.Create(ctx, second))

		require.NoError(t, jobs.Start(ctx, first.ID, time.Now()))
		err := jobs.Start(ctx, second.ID, time.Now())
		assert.True(t, db.IsConstraint(err, db.ConstraintSingleRunning))

		require.NoError(t, jobs.AppendLog(ctx, first.ID, models.JobLogEntry{Timestamp: time.Now(), Level: "info", Message: "a"}))
		require.NoError(t, jobs.AppendLog(ctx, first.ID, models.JobLogEntry{Timestamp: time.Now(), Level: "info", Message: "b"}))
		require.NoError(t, jobs.Finish(ctx, first.ID, models.JobStatusCompleted, "", time.Now()))
		require.NoError(t, jobs.Finish(ctx, first.ID, models.JobStatusFailed, "late", time.Now()))

		got, err := jobs.GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, got.Status, "terminal status is sticky")
		assert.Equal(t, 100, got.ProgressPercent)
		require.Len(t, got.LogEntries, 2)
		assert.Equal(t, "a", got.LogEntries[0].Message)

		require.NoError(t, jobs.Start(ctx, second.ID, time.Now()))
	})

	t.Run("settings round trip", func(t *testing.T) {
		td.Reset(t)

		s, err := settings.Get(ctx)
		require.NoError(t, err)
		assert.False(t, s.Enabled)

		s.IntervalHours = 12
		s.Timezone = "Europe/Berlin"
		require.NoError(t, settings.Save(ctx, s))

		next := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		require.NoError(t, settings.SetEnabled(ctx, true, &next))

		got, err := settings.Get(ctx)
		require.NoError(t, err)
		assert.True(t, got.Enabled)
		assert.Equal(t, 12, got.IntervalHours)
		require.NotNil(t, got.NextRunAt)
		assert.True(t, got.NextRunAt.Equal(next))
	})
}
