// Package errorlog records terminal failures to the error_logs table without
// blocking the caller.
package errorlog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/db/repository"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

const (
	LevelWarn  = "warn"
	LevelError = "error"
)

// Entry types written by the pipeline.
const (
	TypeScrape   = "scrape"
	TypeIngest   = "ingest"
	TypeAI       = "ai"
	TypeAIOutput = "ai_output"
	TypeJob      = "job"
)

const defaultWriteTimeout = 5 * time.Second

// Entry is one failure report.
type Entry struct {
	Level   string
	Type    string
	Message string
	Module  string
	Context map[string]any
}

// Recorder accepts failure reports.
type Recorder interface {
	Record(e Entry)
}

// Sink writes entries asynchronously. A nil *Sink discards everything.
type Sink struct {
	repo    repository.ErrorLogRepository
	timeout time.Duration
	wg      sync.WaitGroup
	log     *zap.Logger
}

// NewSink creates a Sink writing through repo. Each write gets its own
// timeout, detached from the caller's context.
func NewSink(repo repository.ErrorLogRepository, timeout time.Duration) *Sink {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Sink{
		repo:    repo,
		timeout: timeout,
		log:     logger.Named("errorlog"),
	}
}

// Record schedules e for persistence and returns immediately. Write failures
// are logged and otherwise ignored.
func (s *Sink) Record(e Entry) {
	if s == nil || s.repo == nil {
		return
	}
	if e.Level == "" {
		e.Level = LevelError
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		err := s.repo.Create(ctx, &models.ErrorLog{
			Level:   e.Level,
			Type:    e.Type,
			Message: e.Message,
			Module:  e.Module,
			Context: e.Context,
		})
		if err != nil {
			s.log.Warn("failed to persist error log",
				zap.String("type", e.Type),
				zap.String("module", e.Module),
				zap.String("message", e.Message),
				zap.Error(err))
		}
	}()
}

// Close waits for pending writes.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

// Discard is a Recorder that drops every entry.
type Discard struct{}

func (Discard) Record(Entry) {}
