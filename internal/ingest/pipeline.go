// Package ingest persists scraped listing items as video records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/cache"
	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/db/repository"
	"github.com/ad-tracker/video-aggregator-go/internal/errorlog"
	"github.com/ad-tracker/video-aggregator-go/internal/events"
	"github.com/ad-tracker/video-aggregator-go/internal/metrics"
	"github.com/ad-tracker/video-aggregator-go/internal/scraper"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

const (
	// maxSlugProbes bounds the -1, -2, ... search for a free slug.
	maxSlugProbes = 1000
	// maxSlugRaces bounds retries after losing an insert race on the slug.
	maxSlugRaces = 3

	publishTimeout = 10 * time.Second
)

// ErrSlugExhausted means no free slug was found for a title.
var ErrSlugExhausted = errors.New("no free slug")

// Categorizer receives the IDs of newly saved videos for AI classification.
type Categorizer interface {
	Categorize(ctx context.Context, ids []int64) error
}

// ItemError is a per-item failure. It never aborts the batch.
type ItemError struct {
	ExternalID string `json:"external_id"`
	Err        error  `json:"-"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %s: %v", e.ExternalID, e.Err)
}

// Result summarises one ingested batch.
type Result struct {
	SavedCount   int         `json:"saved_count"`
	NewRecordIDs []int64     `json:"new_record_ids"`
	Skipped      int         `json:"skipped"`
	Errors       []ItemError `json:"errors,omitempty"`
}

// Pipeline turns scraped items into persisted videos.
type Pipeline struct {
	videos      repository.VideoRepository
	channels    repository.ChannelRepository
	cache       cache.Store
	publisher   events.Publisher
	categorizer Categorizer
	errors      errorlog.Recorder
	metrics     *metrics.Metrics
	now         func() time.Time
	log         *zap.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithCache invalidates derived views in c after each batch.
func WithCache(c cache.Store) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithPublisher emits a videos.ingested event per batch that saved anything.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithCategorizer enables post-ingest classification when requested per call.
func WithCategorizer(c Categorizer) Option {
	return func(p *Pipeline) { p.categorizer = c }
}

// WithRecorder reports per-item failures to r.
func WithRecorder(r errorlog.Recorder) Option {
	return func(p *Pipeline) { p.errors = r }
}

// WithMetrics counts ingested videos on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a Pipeline over the given repositories.
func NewPipeline(videos repository.VideoRepository, channels repository.ChannelRepository, opts ...Option) *Pipeline {
	p := &Pipeline{
		videos:   videos,
		channels: channels,
		errors:   errorlog.Discard{},
		now:      time.Now,
		log:      logger.Named("ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest saves every item not already stored for the channel's platform.
// Per-item failures are collected in the result and never returned as an
// error; the returned error is non-nil only when ctx ends mid-batch.
func (p *Pipeline) Ingest(ctx context.Context, items []scraper.Item, channel *models.Channel, runCategorization bool) (*Result, error) {
	res := &Result{NewRecordIDs: []int64{}}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			p.finish(channel, res, false)
			return res, err
		}

		id, saved, err := p.ingestItem(ctx, item, channel)
		switch {
		case err != nil:
			p.log.Warn("failed to ingest item",
				zap.Int64("channel_id", channel.ID),
				zap.String("external_id", item.ExternalID),
				zap.Error(err))
			p.errors.Record(errorlog.Entry{
				Type:    errorlog.TypeIngest,
				Message: err.Error(),
				Module:  "ingest",
				Context: map[string]any{
					"channel_id":  channel.ID,
					"external_id": item.ExternalID,
					"title":       item.Title,
				},
			})
			res.Errors = append(res.Errors, ItemError{ExternalID: item.ExternalID, Err: err})
		case saved:
			res.SavedCount++
			res.NewRecordIDs = append(res.NewRecordIDs, id)
		default:
			res.Skipped++
		}
	}

	p.finish(channel, res, runCategorization)
	return res, nil
}

// finish runs the batch side effects. Failures here are logged only.
func (p *Pipeline) finish(channel *models.Channel, res *Result, runCategorization bool) {
	// Side effects use a fresh context so a cancelled run still records what
	// it already saved.
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.channels.MarkScraped(ctx, channel.ID, res.SavedCount, p.now()); err != nil {
		p.log.Error("failed to update channel after ingest",
			zap.Int64("channel_id", channel.ID),
			zap.Error(err))
	}

	p.metrics.Ingested(res.SavedCount)

	if p.cache != nil {
		videos := p.cache.InvalidatePattern(cache.PrefixVideos)
		channels := p.cache.InvalidatePattern(cache.PrefixChannels)
		p.log.Debug("invalidated cached views",
			zap.Int("videos", videos),
			zap.Int("channels", channels))
	}

	if res.SavedCount == 0 {
		return
	}

	if p.publisher != nil {
		event := events.NewVideosIngested(channel.ID, channel.Platform, res.NewRecordIDs)
		if err := p.publisher.PublishVideosIngested(ctx, event); err != nil {
			p.log.Warn("failed to publish ingest event",
				zap.Int64("channel_id", channel.ID),
				zap.Error(err))
		}
	}

	if runCategorization && p.categorizer != nil {
		if err := p.categorizer.Categorize(ctx, res.NewRecordIDs); err != nil {
			p.log.Warn("categorization dispatch failed",
				zap.Int64("channel_id", channel.ID),
				zap.Int("videos", len(res.NewRecordIDs)),
				zap.Error(err))
		}
	}
}

// ingestItem stores one item. saved is false when the item already exists.
func (p *Pipeline) ingestItem(ctx context.Context, item scraper.Item, channel *models.Channel) (int64, bool, error) {
	externalID := strings.TrimSpace(item.ExternalID)
	if externalID == "" {
		return 0, false, errors.New("missing external id")
	}

	exists, err := p.videos.ExistsByExternalID(ctx, channel.Platform, externalID)
	if err != nil {
		return 0, false, fmt.Errorf("check existing: %w", err)
	}
	if exists {
		return 0, false, nil
	}

	base := Slugify(item.Title)
	for race := 0; race < maxSlugRaces; race++ {
		slug, err := p.uniqueSlug(ctx, base)
		if err != nil {
			return 0, false, err
		}

		video := &models.Video{
			ChannelID:       channel.ID,
			Platform:        channel.Platform,
			ExternalVideoID: externalID,
			Slug:            slug,
			Title:           item.Title,
			Description:     item.Description,
			ThumbnailURL:    item.ThumbnailURL,
			Duration:        item.Duration,
			PublishDate:     item.PublishedText,
			ViewCountText:   item.ViewCountText,
			ContentType:     models.ContentTypeFor(channel.Platform, item.IsShort),
			Categories:      []string{},
			Tags:            []string{},
		}

		err = p.videos.Create(ctx, video)
		switch {
		case err == nil:
			return video.ID, true, nil
		case db.IsConstraint(err, db.ConstraintVideoExternalID):
			// Another writer stored the same video first.
			return 0, false, nil
		case db.IsConstraint(err, db.ConstraintVideoSlug):
			p.log.Debug("slug taken concurrently, probing again", zap.String("slug", slug))
			continue
		default:
			return 0, false, fmt.Errorf("create video: %w", err)
		}
	}
	return 0, false, fmt.Errorf("%w for %q after %d attempts", ErrSlugExhausted, base, maxSlugRaces)
}

// uniqueSlug returns base, or base-1, base-2, ... whichever is free first.
func (p *Pipeline) uniqueSlug(ctx context.Context, base string) (string, error) {
	candidate := base
	for n := 1; n <= maxSlugProbes; n++ {
		taken, err := p.videos.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = withSuffix(base, n)
	}
	return "", fmt.Errorf("%w for %q", ErrSlugExhausted, base)
}
