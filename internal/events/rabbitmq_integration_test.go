//go:build integration
// +build integration

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ad-tracker/video-aggregator-go/internal/config"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
)

func setupTestRabbitMQ(t *testing.T) *config.RabbitMQConfig {
	t.Helper()
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx,
		"rabbitmq:3.13-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)

	return &config.RabbitMQConfig{
		Enabled:    true,
		Host:       host,
		Port:       port.Int(),
		User:       "guest",
		Password:   "guest",
		Exchange:   "test.events",
		Queue:      "test.videos",
		RoutingKey: "videos.ingested",
	}
}

func TestMessagePublisher_PublishVideosIngested(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg := setupTestRabbitMQ(t)

	mp, err := NewMessagePublisher(cfg)
	require.NoError(t, err)
	defer mp.Close()
	assert.True(t, mp.IsHealthy())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	event := NewVideosIngested(7, models.PlatformYouTube, []int64{11, 12})
	require.NoError(t, mp.PublishVideosIngested(ctx, event))
	require.NoError(t, mp.PublishVideosIngested(ctx, NewVideosIngested(8, models.PlatformTikTok, []int64{13})))

	conn, err := amqp.Dial(fmt.Sprintf("amqp://guest:guest@%s:%d/", cfg.Host, cfg.Port))
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	msg, ok, err := ch.Get(cfg.Queue, true)
	require.NoError(t, err)
	require.True(t, ok, "expected a message on the bound queue")
	assert.Equal(t, event.EventID.String(), msg.MessageId)

	var got VideosIngested
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, int64(7), got.ChannelID)
	assert.Equal(t, []int64{11, 12}, got.VideoIDs)
}

func TestMessagePublisher_Close(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg := setupTestRabbitMQ(t)

	mp, err := NewMessagePublisher(cfg)
	require.NoError(t, err)

	require.NoError(t, mp.Close())
	assert.False(t, mp.IsHealthy())

	err = mp.PublishVideosIngested(context.Background(), NewVideosIngested(1, models.PlatformYouTube, []int64{1}))
	assert.Error(t, err)
}
