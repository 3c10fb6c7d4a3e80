// Package events publishes pipeline events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/config"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

const confirmTimeout = 5 * time.Second

// VideosIngested is emitted after a channel batch persisted new videos.
type VideosIngested struct {
	EventID    uuid.UUID       `json:"event_id"`
	ChannelID  int64           `json:"channel_id"`
	Platform   models.Platform `json:"platform"`
	VideoIDs   []int64         `json:"video_ids"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewVideosIngested stamps a new event with a fresh ID and the current time.
func NewVideosIngested(channelID int64, platform models.Platform, videoIDs []int64) *VideosIngested {
	return &VideosIngested{
		EventID:    uuid.New(),
		ChannelID:  channelID,
		Platform:   platform,
		VideoIDs:   videoIDs,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher is the surface the ingestion pipeline depends on.
type Publisher interface {
	PublishVideosIngested(ctx context.Context, event *VideosIngested) error
}

// MessagePublisher publishes events with publisher confirms on a durable topic exchange.
type MessagePublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	config   *config.RabbitMQConfig
	mu       sync.Mutex
}

func NewMessagePublisher(cfg *config.RabbitMQConfig) (*MessagePublisher, error) {
	mp := &MessagePublisher{
		config: cfg,
	}

	if err := mp.connect(); err != nil {
		return nil, err
	}

	return mp, nil
}

func (mp *MessagePublisher) connect() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	connURL := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		mp.config.User, mp.config.Password, mp.config.Host, mp.config.Port)

	conn, err := amqp.Dial(connURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(
		mp.config.Exchange, // name
		"topic",            // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if mp.config.Queue != "" {
		if _, err := ch.QueueDeclare(
			mp.config.Queue, // name
			true,            // durable
			false,           // delete when unused
			false,           // exclusive
			false,           // no-wait
			amqp.Table{
				"x-message-ttl": 86400000, // 24 hours
				"x-max-length":  100000,
			},
		); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("failed to declare queue: %w", err)
		}

		if err := ch.QueueBind(mp.config.Queue, mp.config.RoutingKey, mp.config.Exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("failed to bind queue: %w", err)
		}
	}

	mp.conn = conn
	mp.channel = ch
	mp.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	logger.Log.Info("Connected to RabbitMQ",
		zap.String("exchange", mp.config.Exchange),
		zap.String("queue", mp.config.Queue),
	)

	return nil
}

// PublishVideosIngested publishes the event and waits for the broker ack.
// Publishes are serialised so each confirmation matches its message.
func (mp *MessagePublisher) PublishVideosIngested(ctx context.Context, event *VideosIngested) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.channel == nil || mp.channel.IsClosed() {
		return errors.New("channel is not initialized")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = mp.channel.PublishWithContext(
		ctx,
		mp.config.Exchange,
		mp.config.RoutingKey,
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
			MessageId:    event.EventID.String(),
			Type:         "videos.ingested",
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-mp.confirms:
		if !ok {
			return errors.New("channel closed before confirmation")
		}
		if !confirm.Ack {
			return errors.New("message was not acknowledged by broker")
		}
	case <-timer.C:
		return errors.New("timeout waiting for publish confirmation")
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.Log.Debug("Published event to RabbitMQ",
		zap.String("eventId", event.EventID.String()),
		zap.Int64("channelId", event.ChannelID),
		zap.Int("videos", len(event.VideoIDs)),
	)

	return nil
}

func (mp *MessagePublisher) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var errs []error
	if mp.channel != nil && !mp.channel.IsClosed() {
		if err := mp.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if mp.conn != nil && !mp.conn.IsClosed() {
		if err := mp.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing publisher: %w", errors.Join(errs...))
	}

	logger.Log.Info("RabbitMQ publisher closed")
	return nil
}

// IsHealthy reports whether the connection and channel are open.
func (mp *MessagePublisher) IsHealthy() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	return mp.conn != nil && !mp.conn.IsClosed() && mp.channel != nil && !mp.channel.IsClosed()
}
