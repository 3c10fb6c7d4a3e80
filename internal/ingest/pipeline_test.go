package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/video-aggregator-go/internal/cache"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/db/repository/repotest"
	"github.com/ad-tracker/video-aggregator-go/internal/errorlog"
	"github.com/ad-tracker/video-aggregator-go/internal/events"
	"github.com/ad-tracker/video-aggregator-go/internal/scraper"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishVideosIngested(ctx context.Context, event *events.VideosIngested) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockCategorizer struct {
	mock.Mock
}

func (m *MockCategorizer) Categorize(ctx context.Context, ids []int64) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

type recorder struct {
	mu      sync.Mutex
	entries []errorlog.Entry
}

func (r *recorder) Record(e errorlog.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	videos   *repotest.Videos
	channels *repotest.Channels
	cache    *cache.Cache
	channel  *models.Channel
	errors   *recorder
}

func newFixture(t *testing.T, platform models.Platform) *fixture {
	t.Helper()
	f := &fixture{
		videos:   repotest.NewVideos(),
		channels: repotest.NewChannels(),
		cache:    cache.New(time.Minute),
		errors:   &recorder{},
	}
	f.channel = models.NewChannel("Demo", "https://www.youtube.com/@demo", platform)
	require.NoError(t, f.channels.Create(context.Background(), f.channel))
	return f
}

func (f *fixture) pipeline(opts ...Option) *Pipeline {
	opts = append([]Option{
		WithCache(f.cache),
		WithRecorder(f.errors),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return NewPipeline(f.videos, f.channels, opts...)
}

func TestIngest_SavesNewItemsAndSkipsExisting(t *testing.T) {
	f := newFixture(t, models.PlatformYouTube)
	f.videos.Insert(&models.Video{ChannelID: f.channel.ID, Platform: models.PlatformYouTube, ExternalVideoID: "old1", Slug: "old-video"})

	f.cache.Set(cache.VideosAllKey(models.VideoFilters{Limit: 50}), []string{"stale"}, 0)
	f.cache.Set(cache.ChannelsAllKey(50, 0), []string{"stale"}, 0)
	f.cache.Set("unrelated", 1, 0)

	pub := new(MockPublisher)
	pub.On("PublishVideosIngested", mock.Anything, mock.MatchedBy(func(e *events.VideosIngested) bool {
		return e.ChannelID == f.channel.ID && len(e.VideoIDs) == 3
	})).Return(nil).Once()

	items := []scraper.Item{
		{ExternalID: "new1", Title: "First Video", Duration: "10:01"},
		{ExternalID: "old1", Title: "Old Video"},
		{ExternalID: "new2", Title: "First Video!"},
		{ExternalID: "new3", Title: "A short", IsShort: true},
	}

	res, err := f.pipeline(WithPublisher(pub)).Ingest(context.Background(), items, f.channel, false)
	require.NoError(t, err)

	assert.Equal(t, 3, res.SavedCount)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.NewRecordIDs, 3)
	assert.Empty(t, res.Errors)

	bySlug := map[string]*models.Video{}
	for _, v := range f.videos.All() {
		bySlug[v.Slug] = v
	}
	require.Contains(t, bySlug, "first-video")
	require.Contains(t, bySlug, "first-video-1")
	require.Contains(t, bySlug, "a-short")
	assert.Equal(t, "new1", bySlug["first-video"].ExternalVideoID)
	assert.Equal(t, "10:01", bySlug["first-video"].Duration)
	assert.Equal(t, models.ContentRegular, bySlug["first-video"].ContentType)
	assert.Equal(t, models.ContentYouTubeShort, bySlug["a-short"].ContentType)
	assert.Empty(t, bySlug["a-short"].Categories)

	ch, err := f.channels.GetByID(context.Background(), f.channel.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, ch.VideoCount)
	require.NotNil(t, ch.LastScrapedAt)
	assert.True(t, fixedNow.Equal(*ch.LastScrapedAt))

	_, ok := f.cache.Get(cache.VideosAllKey(models.VideoFilters{Limit: 50}))
	assert.False(t, ok, "video listings are invalidated")
	_, ok = f.cache.Get(cache.ChannelsAllKey(50, 0))
	assert.False(t, ok, "channel listings are invalidated")
	_, ok = f.cache.Get("unrelated")
	assert.True(t, ok)

	pub.AssertExpectations(t)
}

func TestIngest_TikTokIsAlwaysTikTokContent(t *testing.T) {
	f := newFixture(t, models.PlatformTikTok)

	items := []scraper.Item{
		{ExternalID: "7301", Title: "dance", IsShort: true},
		{ExternalID: "7302", Title: "long form"},
	}
	res, err := f.pipeline().Ingest(context.Background(), items, f.channel, false)
	require.NoError(t, err)
	require.Equal(t, 2, res.SavedCount)

	for _, v := range f.videos.All() {
		assert.Equal(t, models.ContentTikTok, v.ContentType)
		assert.Equal(t, models.PlatformTikTok, v.Platform)
	}
}

func TestIngest_SlugRaceRetries(t *testing.T) {
	f := newFixture(t, models.PlatformYouTube)

	raced := false
	f.videos.BeforeCreate = func(v *models.Video) {
		if raced {
			return
		}
		raced = true
		// Another writer claims the probed slug between probe and insert.
		f.videos.Insert(&models.Video{Platform: models.PlatformYouTube, ExternalVideoID: "other", Slug: v.Slug})
	}

	res, err := f.pipeline().Ingest(context.Background(), []scraper.Item{{ExternalID: "x1", Title: "Racy Title"}}, f.channel, false)
	require.NoError(t, err)
	require.Equal(t, 1, res.SavedCount)

	saved, err := f.videos.GetByID(context.Background(), res.NewRecordIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "racy-title-1", saved.Slug)
}

func TestIngest_ExternalIDRaceIsSkipped(t *testing.T) {
	f := newFixture(t, models.PlatformYouTube)

	f.videos.BeforeCreate = func(v *models.Video) {
		if v.ExternalVideoID == "dup" {
			f.videos.BeforeCreate = nil
			f.videos.Insert(&models.Video{Platform: models.PlatformYouTube, ExternalVideoID: "dup", Slug: "someone-else"})
		}
	}

	res, err := f.pipeline().Ingest(context.Background(), []scraper.Item{{ExternalID: "dup", Title: "Dup"}}, f.channel, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SavedCount)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Errors)
}

func TestIngest_ItemErrorsAreCollected(t *testing.T) {
	f := newFixture(t, models.PlatformYouTube)

	items := []scraper.Item{
		{ExternalID: "  ", Title: "no id"},
		{ExternalID: "ok1", Title: "fine"},
	}
	res, err := f.pipeline().Ingest(context.Background(), items, f.channel, false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.SavedCount)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "missing external id")

	f.errors.mu.Lock()
	defer f.errors.mu.Unlock()
	require.Len(t, f.errors.entries, 1)
	assert.Equal(t, errorlog.TypeIngest, f.errors.entries[0].Type)
	assert.Equal(t, "no id", f.errors.entries[0].Context["title"])
}

func TestIngest_CategorizationHandOff(t *testing.T) {
	f := newFixture(t, models.PlatformYouTube)

	cat := new(MockCategorizer)
	cat.On("Categorize", mock.Anything, mock.MatchedBy(func(ids []int64) bool { return len(ids) == 2 })).
		Return(assert.AnError).Once()

	items := []scraper.Item{{ExternalID: "a", Title: "A"}, {ExternalID: "b", Title: "B"}}
	res, err := f.pipeline(WithCategorizer(cat)).Ingest(context.Background(), items, f.channel, true)

	require.NoError(t, err, "categorization failures never fail ingestion")
	assert.Equal(t, 2, res.SavedCount)
	cat.AssertExpectations(t)
}

func TestIngest_NoSideEffectsWithoutNewVideos(t *testing.T) {
	f := newFixture(t, models.PlatformYouTube)
	f.videos.Insert(&models.Video{ChannelID: f.channel.ID, Platform: models.PlatformYouTube, ExternalVideoID: "known", Slug: "known"})

	pub := new(MockPublisher)
	cat := new(MockCategorizer)

	res, err := f.pipeline(WithPublisher(pub), WithCategorizer(cat)).
		Ingest(context.Background(), []scraper.Item{{ExternalID: "known", Title: "Known"}}, f.channel, true)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SavedCount)

	pub.AssertNotCalled(t, "PublishVideosIngested", mock.Anything, mock.Anything)
	cat.AssertNotCalled(t, "Categorize", mock.Anything, mock.Anything)

	ch, err := f.channels.GetByID(context.Background(), f.channel.ID)
	require.NoError(t, err)
	require.NotNil(t, ch.LastScrapedAt, "the channel is marked scraped even with nothing new")
}

func TestIngest_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, models.PlatformYouTube)

	pub := new(MockPublisher)
	pub.On("PublishVideosIngested", mock.Anything, mock.Anything).Return(assert.AnError)

	res, err := f.pipeline(WithPublisher(pub)).
		Ingest(context.Background(), []scraper.Item{{ExternalID: "a", Title: "A"}}, f.channel, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SavedCount)
}

func TestIngest_CancelledContext(t *testing.T) {
	f := newFixture(t, models.PlatformYouTube)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.pipeline().Ingest(ctx, []scraper.Item{{ExternalID: "a", Title: "A"}}, f.channel, false)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.SavedCount)
	assert.Empty(t, f.videos.All())
}
