package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindow_Allow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewMemoryWindow(time.Minute, 2).WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := w.Allow(ctx, "ollama")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = w.Allow(ctx, "ollama")
	assert.True(t, ok)
	ok, _ = w.Allow(ctx, "ollama")
	assert.False(t, ok, "third request in window denied")
	assert.Equal(t, 0, w.Remaining("ollama"))

	ok, _ = w.Allow(ctx, "other")
	assert.True(t, ok, "identifiers have independent windows")

	now = now.Add(time.Minute)
	ok, _ = w.Allow(ctx, "ollama")
	assert.False(t, ok, "window resets only after strictly more than its size")

	now = now.Add(time.Nanosecond)
	ok, _ = w.Allow(ctx, "ollama")
	assert.True(t, ok)
	assert.Equal(t, 1, w.Remaining("ollama"))
}

func TestMemoryWindow_ConcurrentNeverExceedsLimit(t *testing.T) {
	w := NewMemoryWindow(time.Hour, 25)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := w.Allow(context.Background(), "ai"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(25), allowed.Load())
}

// scriptedRedis answers pipelined commands in place of a server.
type scriptedRedis struct {
	mu       sync.Mutex
	counts   map[string]int64
	commands [][]any
	err      error
}

func (s *scriptedRedis) DialHook(next redis.DialHook) redis.DialHook { return next }

func (s *scriptedRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (s *scriptedRedis) ProcessPipelineHook(_ redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(_ context.Context, cmds []redis.Cmder) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return s.err
		}
		for _, cmd := range cmds {
			s.commands = append(s.commands, cmd.Args())
			if incr, ok := cmd.(*redis.IntCmd); ok && cmd.Name() == "incr" {
				key, _ := cmd.Args()[1].(string)
				s.counts[key]++
				incr.SetVal(s.counts[key])
			}
		}
		return nil
	}
}

func newScriptedWindow(t *testing.T, limit int) (*RedisWindow, *scriptedRedis) {
	t.Helper()
	script := &scriptedRedis{counts: make(map[string]int64)}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(script)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWindow(client, "ratelimit:ai:", time.Minute, limit), script
}

func TestRedisWindow_Allow(t *testing.T) {
	w, script := newScriptedWindow(t, 2)
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := w.Allow(ctx, "ollama")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i+1)
	}

	ok, err := w.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok, "identifiers have independent windows")

	script.mu.Lock()
	defer script.mu.Unlock()
	assert.Contains(t, script.commands, []any{"incr", "ratelimit:ai:ollama"})
	assert.Contains(t, script.commands, []any{"pexpire", "ratelimit:ai:ollama", int64(60000), "nx"},
		"expiry is set in milliseconds and only on the first request of a window")
}

func TestRedisWindow_AllowError(t *testing.T) {
	w, script := newScriptedWindow(t, 2)
	script.err = errors.New("connection refused")

	ok, err := w.Allow(context.Background(), "ollama")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "ratelimit:ai:ollama")
}
