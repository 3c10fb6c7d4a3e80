// Package ratelimit implements fixed request windows per identifier, either
// in process memory or shared across processes through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request for identifier fits its window.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}

type window struct {
	start time.Time
	count int
}

// MemoryWindow is a fixed window counter kept in process memory. A window
// resets once more than size has elapsed since its first request.
type MemoryWindow struct {
	mu      sync.Mutex
	size    time.Duration
	limit   int
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryWindow allows limit requests per size per identifier.
func NewMemoryWindow(size time.Duration, limit int) *MemoryWindow {
	return &MemoryWindow{
		size:    size,
		limit:   limit,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// WithClock overrides the time source.
func (m *MemoryWindow) WithClock(now func() time.Time) *MemoryWindow {
	m.now = now
	return m
}

// Allow checks and increments the counter in one critical section.
func (m *MemoryWindow) Allow(_ context.Context, identifier string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[identifier]
	if !ok || now.Sub(w.start) > m.size {
		w = &window{start: now}
		m.windows[identifier] = w
	}

	if w.count >= m.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// Remaining reports how many requests are left in the current window.
func (m *MemoryWindow) Remaining(identifier string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[identifier]
	if !ok || m.now().Sub(w.start) > m.size {
		return m.limit
	}
	return m.limit - w.count
}

// RedisWindow shares a fixed window between processes. The first INCR of a
// window sets its expiry; later ones leave it untouched.
type RedisWindow struct {
	client *redis.Client
	prefix string
	size   time.Duration
	limit  int
}

// NewRedisWindow allows limit requests per size per identifier across every
// process using the same Redis.
func NewRedisWindow(client *redis.Client, prefix string, size time.Duration, limit int) *RedisWindow {
	return &RedisWindow{
		client: client,
		prefix: prefix,
		size:   size,
		limit:  limit,
	}
}

// Allow increments the shared counter and reports whether it is within the limit.
func (r *RedisWindow) Allow(ctx context.Context, identifier string) (bool, error) {
	key := r.prefix + identifier

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Do(ctx, "pexpire", key, r.size.Milliseconds(), "nx")
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to increment rate window %s: %w", key, err)
	}

	return incr.Val() <= int64(r.limit), nil
}
