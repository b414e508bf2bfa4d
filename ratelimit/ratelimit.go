// Package ratelimit throttles outbound generation calls with token
// buckets, one logical bucket per rate-limit key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/deepnoodle-ai/distill/slogger"
)

// maxSleep bounds each sleep increment while waiting for tokens, so that
// context cancellation is observed promptly.
const maxSleep = time.Second

// TokenBucket permits bursts up to a capacity while enforcing a long-run
// average rate. Tokens refill continuously with elapsed wall-clock time.
type TokenBucket struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

// NewTokenBucket creates a bucket refilling at rate tokens per second,
// holding at most capacity tokens. The bucket starts full.
func NewTokenBucket(rate, capacity float64) *TokenBucket {
	return &TokenBucket{
		rate:     rate,
		capacity: capacity,
		tokens:   capacity,
		last:     time.Now(),
	}
}

// Acquire attempts to take n tokens without blocking. It returns false if
// the bucket does not currently hold enough tokens.
func (b *TokenBucket) Acquire(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Wait blocks until n tokens are available, then takes them. It returns
// the time spent waiting. Waiting is done in bounded sleeps so that ctx
// cancellation is observed.
func (b *TokenBucket) Wait(ctx context.Context, n float64) (time.Duration, error) {
	start := time.Now()
	for {
		if b.Acquire(n) {
			return time.Since(start), nil
		}
		sleep := b.timeUntil(n)
		if sleep > maxSleep {
			sleep = maxSleep
		}
		select {
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// refill credits tokens for time elapsed since the last update, capped at
// capacity. Callers must hold the mutex.
func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
	b.last = now
}

// timeUntil estimates how long until n tokens will be available.
func (b *TokenBucket) timeUntil(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rate <= 0 {
		return maxSleep
	}
	needed := n - b.tokens
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / b.rate * float64(time.Second))
}

// Limiter holds independent token buckets keyed by rate-limit key, e.g.
// "provider:openai" or "provider:openai:model:gpt-4o". Keys without a
// configured bucket admit requests immediately.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	logger  slogger.Logger
}

// NewLimiter creates an empty limiter.
func NewLimiter(logger slogger.Logger) *Limiter {
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &Limiter{
		buckets: map[string]*TokenBucket{},
		logger:  logger,
	}
}

// SetLimit adds or replaces the bucket for a key. A non-positive capacity
// defaults to ten seconds of refill.
func (l *Limiter) SetLimit(key string, rate, capacity float64) {
	if capacity <= 0 {
		capacity = rate * 10
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[key] = NewTokenBucket(rate, capacity)
	l.logger.Debug("rate limit set", "key", key, "rate", rate, "capacity", capacity)
}

// Acquire takes n tokens from the bucket for key. With wait=false it
// returns immediately, reporting availability. With wait=true it blocks
// until the tokens are available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context, key string, n float64, wait bool) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	l.mu.Unlock()
	if !ok {
		return true, nil
	}
	if !wait {
		return bucket.Acquire(n), nil
	}
	waited, err := bucket.Wait(ctx, n)
	if err != nil {
		return false, err
	}
	if waited > 10*time.Millisecond {
		l.logger.Debug("rate limit wait", "key", key, "waited", waited)
	}
	return true, nil
}

// ProviderKey returns the rate-limit key for a provider.
func ProviderKey(provider string) string {
	return "provider:" + provider
}

// ModelKey returns the rate-limit key for a provider/model pair.
func ModelKey(provider, model string) string {
	return "provider:" + provider + ":model:" + model
}
