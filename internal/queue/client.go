package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

const (
	taskMaxRetry = 3
	taskTimeout  = 10 * time.Minute
)

// Client wraps asynq client for enqueueing tasks
type Client struct {
	asynqClient *asynq.Client
	source      string
	log         *zap.Logger
}

// NewClient creates a new queue client. source is stamped on every payload.
func NewClient(redisURL, source string) (*Client, error) {
	redisOpt, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &Client{
		asynqClient: asynq.NewClient(redisOpt),
		source:      source,
		log:         logger.Named("queue"),
	}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	return c.asynqClient.Close()
}

// EnqueueClassification enqueues one classification task for up to
// MaxVideosPerTask videos.
func (c *Client) EnqueueClassification(ctx context.Context, videoIDs []int64) (*asynq.TaskInfo, error) {
	payload, err := NewClassifyVideosPayload(videoIDs, c.source)
	if err != nil {
		return nil, fmt.Errorf("failed to create task payload: %w", err)
	}

	payloadBytes, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TypeClassifyVideos, payloadBytes)

	info, err := c.asynqClient.EnqueueContext(ctx, task,
		asynq.MaxRetry(taskMaxRetry),
		asynq.Timeout(taskTimeout),
		asynq.Queue(QueueClassification),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.log.Info("enqueued classification",
		zap.String("task_id", info.ID),
		zap.Int("videos", len(videoIDs)))

	return info, nil
}

// Categorize enqueues ids in MaxVideosPerTask-sized tasks. It makes the
// queue a drop-in categorizer for the ingestion pipeline.
func (c *Client) Categorize(ctx context.Context, ids []int64) error {
	var errs []error
	for _, batch := range chunk(ids, MaxVideosPerTask) {
		if _, err := c.EnqueueClassification(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
