package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/classify"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

// Classifier is the work a classification task performs.
type Classifier interface {
	ClassifyVideos(ctx context.Context, ids []int64) (*classify.Result, error)
}

// ClassificationHandler handles classification tasks
type ClassificationHandler struct {
	classifier Classifier
	log        *zap.Logger
}

// NewClassificationHandler creates a new classification task handler
func NewClassificationHandler(classifier Classifier) *ClassificationHandler {
	return &ClassificationHandler{
		classifier: classifier,
		log:        logger.Named("queue.handler"),
	}
}

// ProcessTask implements asynq.Handler. A task is retried only when every
// video in it failed; partial failures stay pending for the next sweep.
func (h *ClassificationHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := UnmarshalClassifyVideosPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	h.log.Info("processing classification task",
		zap.Int("videos", len(payload.VideoIDs)),
		zap.String("source", payload.Source))

	res, err := h.classifier.ClassifyVideos(ctx, payload.VideoIDs)
	if err != nil {
		return fmt.Errorf("classification pass: %w", err)
	}
	if res.Classified == 0 && res.Failed > 0 {
		return fmt.Errorf("all %d videos failed classification", res.Failed)
	}

	h.log.Info("classification task done",
		zap.Int("classified", res.Classified),
		zap.Int("failed", res.Failed))
	return nil
}

// Server wraps asynq server for processing tasks
type Server struct {
	asynqServer *asynq.Server
	mux         *asynq.ServeMux
	log         *zap.Logger
}

// NewServer creates a new task processing server
func NewServer(redisURL string, concurrency int, handler *ClassificationHandler) (*Server, error) {
	redisOpt, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	log := logger.Named("queue.server")
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueClassification: 10,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Warn("task failed", zap.String("type", task.Type()), zap.Error(err))
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(TypeClassifyVideos, handler)

	return &Server{
		asynqServer: srv,
		mux:         mux,
		log:         log,
	}, nil
}

// Start starts the server
func (s *Server) Start() error {
	s.log.Info("starting task processing server")
	return s.asynqServer.Start(s.mux)
}

// Stop gracefully stops the server
func (s *Server) Stop() {
	s.log.Info("shutting down task processing server")
	s.asynqServer.Shutdown()
}
