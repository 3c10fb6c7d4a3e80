// Package classify runs the AI categorisation pass over stored videos.
package classify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ad-tracker/video-aggregator-go/internal/ai"
	"github.com/ad-tracker/video-aggregator-go/internal/cache"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/db/repository"
	"github.com/ad-tracker/video-aggregator-go/internal/jobs"
	"github.com/ad-tracker/video-aggregator-go/internal/metrics"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

// DefaultConcurrency is the number of videos classified at once.
const DefaultConcurrency = 2

// Classifier assigns categories and tags to one video.
type Classifier interface {
	Classify(ctx context.Context, req ai.ClassifyRequest) (*ai.Classification, error)
}

// Result summarises one classification pass.
type Result struct {
	JobID      uuid.UUID `json:"job_id,omitempty"`
	Requested  int       `json:"requested"`
	Classified int       `json:"classified"`
	Failed     int       `json:"failed"`
	Errors     []error   `json:"-"`
}

// Service classifies videos and persists the result.
type Service struct {
	videos      repository.VideoRepository
	classifier  Classifier
	cache       cache.Store
	tracker     *jobs.Tracker
	metrics     *metrics.Metrics
	concurrency int
	now         func() time.Time
	log         *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customises a Service.
type Option func(*Service)

// WithCache invalidates video views after each pass.
func WithCache(c cache.Store) Option {
	return func(s *Service) { s.cache = c }
}

// WithTracker records each pass as a classification job.
func WithTracker(t *jobs.Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

// WithMetrics times each classification call on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithConcurrency caps how many videos are classified at once. Values below 1 keep the default.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock overrides the time stamped on classified videos.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(videos repository.VideoRepository, classifier Classifier, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		videos:      videos,
		classifier:  classifier,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		log:         logger.Named("classify"),
		baseCtx:     ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ClassifyVideos classifies the given videos with bounded concurrency. A
// failure on one video never stops the others.
func (s *Service) ClassifyVideos(ctx context.Context, ids []int64) (*Result, error) {
	res := &Result{Requested: len(ids)}
	if len(ids) == 0 {
		return res, nil
	}

	videos, err := s.videos.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load videos: %w", err)
	}

	if s.tracker != nil {
		id, err := s.tracker.Create(ctx, models.JobTypeClassification, false)
		if err != nil {
			s.log.Warn("failed to record classification job", zap.Error(err))
		} else if err := s.tracker.Start(ctx, id); err != nil {
			s.log.Warn("failed to start classification job", zap.Error(err))
		} else {
			res.JobID = id
			s.tracker.UpdateProgress(ctx, id, 0, len(videos), 0)
		}
	}

	var (
		mu        sync.Mutex
		processed int
	)
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for _, v := range videos {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := s.classifyOne(ctx, v)

			mu.Lock()
			defer mu.Unlock()
			processed++
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Errorf("video %d: %w", v.ID, err))
			} else {
				res.Classified++
			}
			if res.JobID != uuid.Nil {
				s.tracker.UpdateProgress(ctx, res.JobID, processed, len(videos), res.Failed)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Requested IDs that no longer exist count as failures.
	if missing := len(ids) - len(videos); missing > 0 {
		res.Failed += missing
	}

	if res.Classified > 0 && s.cache != nil {
		s.cache.InvalidatePattern(cache.PrefixVideos)
	}

	s.finishJob(ctx, res)

	s.log.Info("classification pass finished",
		zap.Int("requested", res.Requested),
		zap.Int("classified", res.Classified),
		zap.Int("failed", res.Failed))

	return res, ctx.Err()
}

// ClassifyPending classifies up to limit videos that have never been classified.
func (s *Service) ClassifyPending(ctx context.Context, limit int) (*Result, error) {
	ids, err := s.videos.ListUnclassifiedIDs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list unclassified videos: %w", err)
	}
	return s.ClassifyVideos(ctx, ids)
}

// Categorize starts a background pass over ids and returns at once. It lets
// the ingestion pipeline hand off classification in-process.
func (s *Service) Categorize(_ context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ids = append([]int64(nil), ids...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.ClassifyVideos(s.baseCtx, ids); err != nil {
			s.log.Warn("background classification ended early", zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until background passes finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels background passes and waits for them.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) classifyOne(ctx context.Context, v *models.Video) error {
	done := s.metrics.TrackClassify()
	defer done()

	out, err := s.classifier.Classify(ctx, ai.ClassifyRequest{
		Title:       v.Title,
		Description: v.Description,
		Module:      "classify",
		Fallback:    ai.EmptyClassification(),
	})
	if err != nil {
		return err
	}

	if err := s.videos.UpdateClassification(ctx, v.ID, out.Categories, out.Tags, s.now()); err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return nil
}

func (s *Service) finishJob(ctx context.Context, res *Result) {
	if res.JobID == uuid.Nil {
		return
	}

	status, summary := models.JobStatusCompleted, ""
	switch {
	case ctx.Err() != nil:
		status, summary = models.JobStatusCancelled, ctx.Err().Error()
	case res.Classified == 0 && res.Failed > 0:
		status, summary = models.JobStatusFailed, fmt.Sprintf("all %d videos failed", res.Failed)
	case res.Failed > 0:
		summary = fmt.Sprintf("%d of %d videos failed", res.Failed, res.Requested)
	}

	if len(res.Errors) > 0 {
		first := res.Errors[0].Error()
		s.tracker.AppendLog(ctx, res.JobID, models.LogLevelWarn, "classification failures", map[string]any{
			"failed":      res.Failed,
			"first_error": first,
		})
	}
	s.tracker.Finish(ctx, res.JobID, status, summary)
}
