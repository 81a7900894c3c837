package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow reports whether a request may proceed now and records it if so
	Allow() bool
	// Wait blocks until a request is admitted or ctx is done
	Wait(ctx context.Context) error
	// Reset clears the limiter state
	Reset()
}

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	capacity     int
	tokens       int
	refillPeriod time.Duration
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter. Capacities below
// one are raised to one.
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	capacity = max(capacity, 1)
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for !tb.Allow() {
		tb.mu.Lock()
		delay := tb.refillPeriod - time.Since(tb.lastRefill)
		tb.mu.Unlock()

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	if now.Sub(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}
}

// SlidingWindow implements a rolling window rate limiter
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time // admitted request times, oldest first
	mu          sync.Mutex
}

// NewSlidingWindow creates a new sliding window rate limiter. A window
// admits at least one request.
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	maxRequests = max(maxRequests, 1)
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
	}
}

// Allow checks if a request can proceed
func (sw *SlidingWindow) Allow() bool {
	ok, _ := sw.reserve()
	return ok
}

// Wait blocks until the window has room, then records the request.
// Waiters are not queued in order; whichever wakes first after a slot
// frees up takes it.
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, delay := sw.reserve()
		if ok {
			return nil
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// reserve records a request when the window has room, otherwise it
// returns how long until the oldest recorded request leaves the window.
func (sw *SlidingWindow) reserve() (bool, time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.cleanOldRequests(now)

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return true, 0
	}
	return false, sw.requests[0].Add(sw.windowSize).Sub(now)
}

// InWindow returns the number of requests recorded in the current window
func (sw *SlidingWindow) InWindow() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cleanOldRequests(time.Now())
	return len(sw.requests)
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.requests = sw.requests[:0]
}

// cleanOldRequests drops requests that are a full window or more in the past
func (sw *SlidingWindow) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-sw.windowSize)

	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}

	if i > 0 {
		copy(sw.requests, sw.requests[i:])
		sw.requests = sw.requests[:len(sw.requests)-i]
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
