// Package cache provides the in-process read cache with per-entry TTL and
// prefix invalidation used by every catalog read path.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/metrics"
	"github.com/ad-tracker/video-aggregator-go/pkg/logger"
)

// Store is the cache surface consumed by writers and readers elsewhere.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Invalidate(key string)
	InvalidatePattern(prefix string) int
	Clear()
}

// unknownSize is charged for values that cannot be JSON-encoded.
const unknownSize = 64

type entry struct {
	value     any
	expiresAt time.Time
	size      int
}

// Cache is a TTL map guarded by a RWMutex. Expired entries are treated as
// misses and removed on read; an optional sweeper reclaims the rest.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	enabled    atomic.Bool
	hits       atomic.Int64
	misses     atomic.Int64
	generation atomic.Uint64 // bumped under mu by every invalidation

	defaultTTL time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics records hits and misses on the given collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an enabled cache. defaultTTL applies when Set is called with ttl <= 0.
func New(defaultTTL time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
		log:        logger.Named("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.enabled.Store(true)
	return c
}

// Get returns the cached value for key. A disabled cache always misses and
// does not count the lookup.
func (c *Cache) Get(key string) (any, bool) {
	if !c.enabled.Load() {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, still := c.entries[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		ok = false
	}

	if !ok {
		c.misses.Add(1)
		c.metrics.CacheMiss()
		return nil, false
	}

	c.hits.Add(1)
	c.metrics.CacheHit()
	return e.value, true
}

// Set stores value under key for ttl. Writes to a disabled cache are dropped.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if !c.enabled.Load() {
		return
	}
	e := c.newEntry(key, value, ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled.Load() {
		c.entries[key] = e
	}
}

// setIfGeneration stores value only if nothing was invalidated since gen was
// read. The check and the write share one critical section.
func (c *Cache) setIfGeneration(key string, value any, ttl time.Duration, gen uint64) bool {
	if !c.enabled.Load() {
		return false
	}
	e := c.newEntry(key, value, ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled.Load() || c.generation.Load() != gen {
		return false
	}
	c.entries[key] = e
	return true
}

func (c *Cache) newEntry(key string, value any, ttl time.Duration) entry {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return entry{
		value:     value,
		expiresAt: c.now().Add(ttl),
		size:      len(key) + sizeOf(value),
	}
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.generation.Add(1)
	c.mu.Unlock()
}

// InvalidatePattern removes every key that starts with prefix and returns how
// many were removed.
func (c *Cache) InvalidatePattern(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	c.generation.Add(1)

	if removed > 0 {
		c.log.Debug("invalidated cache prefix", zap.String("prefix", prefix), zap.Int("removed", removed))
	}
	return removed
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.generation.Add(1)
	c.mu.Unlock()
}

// SetEnabled toggles the cache. Disabling also clears it so nothing written
// before the switch can be served after re-enabling.
func (c *Cache) SetEnabled(enabled bool) {
	if !enabled {
		c.enabled.Store(false)
		c.Clear()
		c.log.Info("cache disabled")
		return
	}
	c.enabled.Store(true)
	c.log.Info("cache enabled")
}

// Enabled reports the current toggle.
func (c *Cache) Enabled() bool {
	return c.enabled.Load()
}

// GetOrLoad returns the cached value or calls load and caches its result. A
// result is not cached if an invalidation happened while load was running.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	gen := c.generation.Load()
	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	c.setIfGeneration(key, value, ttl, gen)
	return value, nil
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Enabled     bool    `json:"enabled"`
	Keys        int     `json:"keys"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	ApproxBytes int     `json:"approx_bytes"`
	Memory      string  `json:"memory"`
}

// Stats reports the number of live keys, hit/miss counters and an approximate footprint.
func (c *Cache) Stats() Stats {
	now := c.now()

	c.mu.RLock()
	keys, bytes := 0, 0
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			keys++
			bytes += e.size
		}
	}
	c.mu.RUnlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	return Stats{
		Enabled:     c.enabled.Load(),
		Keys:        keys,
		Hits:        hits,
		Misses:      misses,
		HitRate:     rate,
		ApproxBytes: bytes,
		Memory:      humanize.Bytes(uint64(bytes)),
	}
}

// Sweep removes expired entries and returns how many were reclaimed.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper reclaims expired entries every interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.log.Debug("swept expired cache entries", zap.Int("removed", n))
				}
			}
		}
	}()
}

func sizeOf(v any) int {
	switch val := v.(type) {
	case string:
		return len(val)
	case []byte:
		return len(val)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return unknownSize
	}
	return len(b)
}
