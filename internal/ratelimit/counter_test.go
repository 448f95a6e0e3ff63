package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quota/internal/clock"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type counterHarness struct {
	counter Counter
	clock   *clock.FakeClock
	advance func(d time.Duration)
}

func newMemoryHarness(t *testing.T) counterHarness {
	t.Helper()
	clk := clock.NewFakeClock(testEpoch)
	return counterHarness{
		counter: NewMemoryCounter(clk),
		clock:   clk,
		advance: clk.Advance,
	}
}

func newRedisHarness(t *testing.T) counterHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFakeClock(testEpoch)
	return counterHarness{
		counter: NewRedisCounter(client, clk),
		clock:   clk,
		advance: func(d time.Duration) {
			clk.Advance(d)
			mr.FastForward(d)
		},
	}
}

func eachCounter(t *testing.T, fn func(t *testing.T, h counterHarness)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryHarness(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisHarness(t)) })
}

func TestCounterFixedWindow(t *testing.T) {
	eachCounter(t, func(t *testing.T, h counterHarness) {
		ctx := context.Background()

		first, err := h.counter.Increment(ctx, "caller-1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), first.Count)
		assert.Equal(t, testEpoch.Add(time.Minute), first.ResetAt)

		h.advance(20 * time.Second)
		second, err := h.counter.Increment(ctx, "caller-1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), second.Count)
		assert.Equal(t, first.ResetAt, second.ResetAt, "reset time is kept inside the window")

		h.advance(40 * time.Second)
		fresh, err := h.counter.Increment(ctx, "caller-1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), fresh.Count, "window restarts at resetAt")
		assert.Equal(t, h.clock.Now().Add(time.Minute), fresh.ResetAt)
	})
}

func TestCounterKeysAreIndependent(t *testing.T) {
	eachCounter(t, func(t *testing.T, h counterHarness) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, err := h.counter.Increment(ctx, "a", time.Minute)
			require.NoError(t, err)
		}
		rec, err := h.counter.Increment(ctx, "b", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Count)
	})
}

func TestCounterConcurrentIncrementsAreLinearizable(t *testing.T) {
	eachCounter(t, func(t *testing.T, h counterHarness) {
		const n = 50
		ctx := context.Background()

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			counts []int64
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec, err := h.counter.Increment(ctx, "shared", time.Minute)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				counts = append(counts, rec.Count)
				mu.Unlock()
			}()
		}
		wg.Wait()

		require.Len(t, counts, n)
		sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
		for i, c := range counts {
			assert.Equal(t, int64(i+1), c, "every increment observes a distinct count")
		}
	})
}

func TestCounterRejectsInvalidInput(t *testing.T) {
	eachCounter(t, func(t *testing.T, h counterHarness) {
		_, err := h.counter.Increment(context.Background(), "  ", time.Minute)
		assert.ErrorIs(t, err, ErrInvalidKey)

		_, err = h.counter.Increment(context.Background(), "k", 0)
		assert.ErrorIs(t, err, ErrInvalidWindow)
	})
}

func TestCounterCancelledContextIsStoreUnavailable(t *testing.T) {
	eachCounter(t, func(t *testing.T, h counterHarness) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := h.counter.Increment(ctx, "k", time.Minute)
		assert.ErrorIs(t, err, failure.ErrStoreUnavailable)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRedisCounterStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedisCounter(client, clock.NewFakeClock(testEpoch)).Increment(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, failure.ErrStoreUnavailable)
}

func TestMemoryCounterSweep(t *testing.T) {
	clk := clock.NewFakeClock(testEpoch)
	counter := NewMemoryCounter(clk)
	ctx := context.Background()

	_, _ = counter.Increment(ctx, "short", time.Second)
	_, _ = counter.Increment(ctx, "long", time.Hour)
	require.Equal(t, 2, counter.Len())

	assert.Equal(t, 0, counter.Sweep(clk.Now()))

	clk.Advance(time.Second)
	sweeper := NewSweeper(counter, clk, nil, nil, time.Minute)
	assert.Equal(t, 1, sweeper.RunOnce())
	assert.Equal(t, 1, counter.Len())
}
