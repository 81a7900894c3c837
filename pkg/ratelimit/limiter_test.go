package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(5, 200*time.Millisecond)

	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow(), "token %d", i+1)
	}
	assert.False(t, tb.Allow())

	time.Sleep(250 * time.Millisecond)
	assert.True(t, tb.Allow())

	tb.tokens = 0
	tb.Reset()
	assert.Equal(t, tb.capacity, tb.tokens)
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestSlidingWindow(t *testing.T) {
	sw := NewSlidingWindow(3, 200*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, sw.Allow(), "request %d", i+1)
	}
	assert.False(t, sw.Allow())
	assert.Equal(t, 3, sw.InWindow())

	time.Sleep(250 * time.Millisecond)
	assert.True(t, sw.Allow())

	sw.Reset()
	assert.Equal(t, 0, sw.InWindow())
}

func TestZeroCapacityAdmitsOne(t *testing.T) {
	for name, l := range map[string]Limiter{
		"sliding window": NewSlidingWindow(0, time.Hour),
		"token bucket":   NewTokenBucket(-1, time.Hour),
	} {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.True(t, l.Allow())
				assert.False(t, l.Allow())
			})
		})
	}
}

func TestSlidingWindowRollingInvariant(t *testing.T) {
	const (
		limit  = 3
		window = 100 * time.Millisecond
		calls  = 10
	)
	sw := NewSlidingWindow(limit, window)

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, sw.Wait(context.Background()))
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, times, calls)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	// any limit+1 consecutive admissions must span at least one window;
	// allow a little slack for the timestamp being taken after Wait returns
	for i := limit; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-limit]), window-10*time.Millisecond)
	}
	// ten calls at three per window need at least three full windows
	assert.GreaterOrEqual(t, times[calls-1].Sub(times[0]), 3*window-10*time.Millisecond)
}

func TestSlidingWindowWaitCancelled(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.NoError(t, sw.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, sw.Wait(ctx), context.Canceled)
	assert.Equal(t, 1, sw.InWindow(), "a cancelled wait must not consume a slot")
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = (*SlidingWindow)(nil)
)
