package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/video-aggregator-go/internal/cache"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/db/repository/repotest"
)

type countingVideos struct {
	*repotest.Videos
	lists atomic.Int32
	slugs atomic.Int32
	err   error
}

func (c *countingVideos) List(ctx context.Context, f models.VideoFilters) ([]*models.Video, error) {
	c.lists.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.Videos.List(ctx, f)
}

func (c *countingVideos) GetBySlug(ctx context.Context, slug string) (*models.Video, error) {
	c.slugs.Add(1)
	return c.Videos.GetBySlug(ctx, slug)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*Service, *countingVideos, *cache.Cache, *clock) {
	t.Helper()
	videos := &countingVideos{Videos: repotest.NewVideos()}
	for _, slug := range []string{"first", "second"} {
		require.NoError(t, videos.Create(context.Background(), &models.Video{
			Platform:        models.PlatformYouTube,
			ExternalVideoID: slug,
			Slug:            slug,
			Title:           slug,
			ContentType:     models.ContentRegular,
		}))
	}

	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := cache.New(time.Minute, cache.WithClock(clk.now))
	return NewService(videos, repotest.NewChannels(), c), videos, c, clk
}

func TestListVideos_ReadsThroughCache(t *testing.T) {
	svc, videos, c, _ := setup(t)
	ctx := context.Background()

	first, err := svc.ListVideos(ctx, models.VideoFilters{})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "second", first[0].Slug, "newest first")

	_, err = svc.ListVideos(ctx, models.VideoFilters{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), videos.lists.Load())

	_, err = svc.ListVideos(ctx, models.VideoFilters{ContentType: models.ContentYouTubeShort})
	require.NoError(t, err)
	assert.Equal(t, int32(2), videos.lists.Load(), "different filters use a different key")

	c.InvalidatePattern(cache.PrefixVideos)
	_, err = svc.ListVideos(ctx, models.VideoFilters{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), videos.lists.Load())
}

func TestListVideos_TTLExpiry(t *testing.T) {
	svc, videos, _, clk := setup(t)
	ctx := context.Background()

	svc.SetTTL(10 * time.Second)
	_, err := svc.ListVideos(ctx, models.VideoFilters{})
	require.NoError(t, err)

	clk.t = clk.t.Add(9 * time.Second)
	_, err = svc.ListVideos(ctx, models.VideoFilters{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), videos.lists.Load())

	clk.t = clk.t.Add(2 * time.Second)
	_, err = svc.ListVideos(ctx, models.VideoFilters{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), videos.lists.Load())
}

func TestListVideos_ErrorsAreNotCached(t *testing.T) {
	svc, videos, _, _ := setup(t)
	videos.err = errors.New("pool exhausted")

	_, err := svc.ListVideos(context.Background(), models.VideoFilters{})
	assert.ErrorContains(t, err, "pool exhausted")

	videos.err = nil
	got, err := svc.ListVideos(context.Background(), models.VideoFilters{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestGetVideoBySlug(t *testing.T) {
	svc, videos, _, _ := setup(t)
	ctx := context.Background()

	v, err := svc.GetVideoBySlug(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, "first", v.Title)

	_, err = svc.GetVideoBySlug(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, int32(1), videos.slugs.Load())

	_, err = svc.GetVideoBySlug(ctx, "missing")
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestListChannels_DisabledCache(t *testing.T) {
	svc, _, c, _ := setup(t)
	c.SetEnabled(false)

	channels, err := svc.ListChannels(context.Background(), 0, -5)
	require.NoError(t, err)
	assert.NotNil(t, channels)
	assert.Empty(t, channels)
	assert.Zero(t, c.Stats().Keys)
}

func TestSetTTL_Default(t *testing.T) {
	svc := NewService(repotest.NewVideos(), repotest.NewChannels(), nil)
	assert.Equal(t, DefaultTTL, svc.TTL())

	svc.SetTTL(30 * time.Second)
	assert.Equal(t, 30*time.Second, svc.TTL())

	svc.SetTTL(0)
	assert.Equal(t, DefaultTTL, svc.TTL())
}

func TestPage(t *testing.T) {
	l, o := page(0, -1)
	assert.Equal(t, DefaultLimit, l)
	assert.Zero(t, o)

	l, _ = page(10_000, 0)
	assert.Equal(t, MaxLimit, l)
}
