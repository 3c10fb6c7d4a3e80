// Package catalog serves the read side of the aggregated video catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ad-tracker/video-aggregator-go/internal/cache"
	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/db/repository"
)

const (
	DefaultTTL   = 300 * time.Second
	DefaultLimit = 50
	MaxLimit     = 200
)

// ErrVideoNotFound is returned when no video has the requested slug.
var ErrVideoNotFound = errors.New("video not found")

// Service reads videos and channels through the response cache.
type Service struct {
	videos   repository.VideoRepository
	channels repository.ChannelRepository
	cache    *cache.Cache
	ttl      atomic.Int64
}

// NewService creates a catalog service. A nil cache reads straight from storage.
func NewService(videos repository.VideoRepository, channels repository.ChannelRepository, c *cache.Cache) *Service {
	s := &Service{videos: videos, channels: channels, cache: c}
	s.ttl.Store(int64(DefaultTTL))
	return s
}

// SetTTL changes the lifetime of entries cached from now on. Non-positive
// values restore the default.
func (s *Service) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.ttl.Store(int64(ttl))
}

// TTL returns the current cache lifetime.
func (s *Service) TTL() time.Duration {
	return time.Duration(s.ttl.Load())
}

// ListVideos returns newest-first videos matching filters.
func (s *Service) ListVideos(ctx context.Context, filters models.VideoFilters) ([]*models.Video, error) {
	filters.Limit, filters.Offset = page(filters.Limit, filters.Offset)

	load := func(ctx context.Context) ([]*models.Video, error) {
		videos, err := s.videos.List(ctx, filters)
		if err != nil {
			return nil, fmt.Errorf("list videos: %w", err)
		}
		if videos == nil {
			videos = []*models.Video{}
		}
		return videos, nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	return cache.GetOrLoad(ctx, s.cache, cache.VideosAllKey(filters), s.TTL(), load)
}

// GetVideoBySlug returns one video or ErrVideoNotFound.
func (s *Service) GetVideoBySlug(ctx context.Context, slug string) (*models.Video, error) {
	load := func(ctx context.Context) (*models.Video, error) {
		v, err := s.videos.GetBySlug(ctx, slug)
		if db.IsNotFound(err) {
			return nil, ErrVideoNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("get video %q: %w", slug, err)
		}
		return v, nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	return cache.GetOrLoad(ctx, s.cache, cache.VideoSlugKey(slug), s.TTL(), load)
}

// ListChannels returns channels ordered by name.
func (s *Service) ListChannels(ctx context.Context, limit, offset int) ([]*models.Channel, error) {
	limit, offset = page(limit, offset)

	load := func(ctx context.Context) ([]*models.Channel, error) {
		channels, err := s.channels.List(ctx, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		if channels == nil {
			channels = []*models.Channel{}
		}
		return channels, nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	return cache.GetOrLoad(ctx, s.cache, cache.ChannelsAllKey(limit, offset), s.TTL(), load)
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
