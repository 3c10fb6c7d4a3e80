package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/video-aggregator-go/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(time.Minute, WithClock(clock.Now)), clock
}

func TestCache_TTL(t *testing.T) {
	c, clock := newTestCache(t)

	c.Set("videos:slug:a", "A", 10*time.Second)

	v, ok := c.Get("videos:slug:a")
	require.True(t, ok)
	assert.Equal(t, "A", v)

	clock.Advance(9 * time.Second)
	_, ok = c.Get("videos:slug:a")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("videos:slug:a")
	assert.False(t, ok, "entry at its expiry instant is a miss")

	stats := c.Stats()
	assert.Equal(t, 0, stats.Keys, "expired entry removed on read")
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCache_DefaultTTL(t *testing.T) {
	c, clock := newTestCache(t)

	c.Set("k", 1, 0)
	clock.Advance(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_InvalidatePattern(t *testing.T) {
	c, _ := newTestCache(t)

	c.Set(VideosAllKey(map[string]int{"limit": 10}), []int{1}, 0)
	c.Set(VideoSlugKey("intro"), "intro", 0)
	c.Set(ChannelsAllKey(50, 0), []int{2}, 0)

	removed := c.InvalidatePattern(PrefixVideos)
	assert.Equal(t, 2, removed)

	_, ok := c.Get(VideoSlugKey("intro"))
	assert.False(t, ok)
	_, ok = c.Get(ChannelsAllKey(50, 0))
	assert.True(t, ok)

	assert.Equal(t, 0, c.InvalidatePattern("nothing:"))
}

func TestCache_InvalidateAndClear(t *testing.T) {
	c, _ := newTestCache(t)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Stats().Keys)
}

func TestCache_DisabledIsPassThrough(t *testing.T) {
	c, _ := newTestCache(t)
	c.Set("a", 1, 0)

	c.SetEnabled(false)
	assert.False(t, c.Enabled())

	_, ok := c.Get("a")
	assert.False(t, ok)
	c.Set("b", 2, 0)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Keys)
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses, "disabled lookups are not counted")

	c.SetEnabled(true)
	_, ok = c.Get("a")
	assert.False(t, ok, "entries written before disabling are gone")

	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return 7, nil
	}
	c.SetEnabled(false)
	for i := 0; i < 3; i++ {
		v, err := GetOrLoad(context.Background(), c, "x", 0, load)
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	}
	assert.Equal(t, 3, calls, "disabled cache loads every time")
}

func TestGetOrLoad(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	}

	first, err := GetOrLoad(ctx, c, "videos:all:{}", 0, load)
	require.NoError(t, err)
	second, err := GetOrLoad(ctx, c, "videos:all:{}", 0, load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	_, err = GetOrLoad(ctx, c, "broken", 0, func(context.Context) (int, error) {
		return 0, errors.New("db down")
	})
	assert.EqualError(t, err, "db down")
	_, ok := c.Get("broken")
	assert.False(t, ok, "errors are not cached")
}

func TestGetOrLoad_InvalidationDuringLoad(t *testing.T) {
	c, _ := newTestCache(t)

	v, err := GetOrLoad(context.Background(), c, "videos:all:{}", 0, func(context.Context) (string, error) {
		c.InvalidatePattern(PrefixVideos)
		return "stale", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale", v)

	_, ok := c.Get("videos:all:{}")
	assert.False(t, ok, "a load racing an invalidation must not be cached")
}

// hookedClock runs hook once, on the first reading after it is set.
type hookedClock struct {
	now  time.Time
	hook func()
}

func (h *hookedClock) Now() time.Time {
	if fn := h.hook; fn != nil {
		h.hook = nil
		fn()
	}
	return h.now
}

func TestCache_DisableBetweenCheckAndWrite(t *testing.T) {
	clock := &hookedClock{now: time.Unix(0, 0)}
	c := New(time.Minute, WithClock(clock.Now))

	clock.hook = func() { c.SetEnabled(false) }
	c.Set("videos:slug:a", "v", 0)
	c.SetEnabled(true)

	_, ok := c.Get("videos:slug:a")
	assert.False(t, ok, "a write that overlaps a disable is dropped")
	assert.Zero(t, c.Stats().Keys)
}

func TestGetOrLoad_InvalidationBetweenCheckAndWrite(t *testing.T) {
	clock := &hookedClock{now: time.Unix(0, 0)}
	c := New(time.Minute, WithClock(clock.Now))

	_, err := GetOrLoad(context.Background(), c, "videos:all:{}", 0, func(context.Context) (string, error) {
		clock.hook = func() { c.InvalidatePattern(PrefixVideos) }
		return "stale", nil
	})
	require.NoError(t, err)

	_, ok := c.Get("videos:all:{}")
	assert.False(t, ok)

	gen := c.generation.Load()
	assert.True(t, c.setIfGeneration("videos:all:{}", "fresh", 0, gen))
	c.Invalidate("other")
	assert.False(t, c.setIfGeneration("videos:all:{}", "late", 0, gen))

	v, ok := c.Get("videos:all:{}")
	require.True(t, ok)
	assert.Equal(t, "fresh", v)
}

func TestCache_StatsAndSweep(t *testing.T) {
	m := metrics.New()
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := New(time.Minute, WithClock(clock.Now), WithMetrics(m))

	c.Set("short", "abc", time.Second)
	c.Set("long", "defgh", time.Hour)
	c.Get("long")
	c.Get("missing")

	stats := c.Stats()
	assert.True(t, stats.Enabled)
	assert.Equal(t, 2, stats.Keys)
	assert.Equal(t, len("short")+3+len("long")+5, stats.ApproxBytes)
	assert.Equal(t, "19 B", stats.Memory)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Stats().Keys)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(time.Minute)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("videos:%d:%d", w, i)
				c.Set(key, i, 0)
				c.Get(key)
				if i%50 == 0 {
					c.InvalidatePattern(PrefixVideos)
				}
			}
		}(w)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, int64(8*200), stats.Hits+stats.Misses)
}

func TestStartSweeper_StopsWithContext(t *testing.T) {
	c := New(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	c.Set("a", 1, time.Millisecond)
	c.StartSweeper(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return len(c.entries) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
}
