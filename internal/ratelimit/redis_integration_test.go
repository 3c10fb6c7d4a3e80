//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisWindow_Integration(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	a := NewRedisWindow(client, "ratelimit:", 500*time.Millisecond, 3)
	b := NewRedisWindow(client, "ratelimit:", 500*time.Millisecond, 3)

	for i := 0; i < 2; i++ {
		ok, err := a.Allow(ctx, "ollama")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := b.Allow(ctx, "ollama")
	require.NoError(t, err)
	assert.True(t, ok, "windows are shared between limiter instances")

	ok, err = a.Allow(ctx, "ollama")
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.PTTL(ctx, "ratelimit:ollama").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 500*time.Millisecond)

	assert.Eventually(t, func() bool {
		ok, err := a.Allow(ctx, "ollama")
		return err == nil && ok
	}, 3*time.Second, 100*time.Millisecond)
}
