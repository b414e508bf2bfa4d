package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAcquire(t *testing.T) {
	bucket := NewTokenBucket(1, 2)
	assert.True(t, bucket.Acquire(1))
	assert.True(t, bucket.Acquire(1))
	assert.False(t, bucket.Acquire(1))
}

func TestTokenBucketRefill(t *testing.T) {
	bucket := NewTokenBucket(100, 1)
	require.True(t, bucket.Acquire(1))
	require.False(t, bucket.Acquire(1))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, bucket.Acquire(1))
}

func TestTokenBucketRefillCappedAtCapacity(t *testing.T) {
	bucket := NewTokenBucket(1000, 2)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, bucket.Acquire(2))
	assert.False(t, bucket.Acquire(1))
}

// Sequential waits against a rate-1-per-interval bucket must each be
// delayed by roughly one refill interval.
func TestTokenBucketWaitShapesTraffic(t *testing.T) {
	bucket := NewTokenBucket(20, 1) // one token per 50ms

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := bucket.Wait(ctx, 1)
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// First acquisition is immediate; the next two wait ~50ms each.
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	bucket := NewTokenBucket(0.001, 1)
	require.True(t, bucket.Acquire(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := bucket.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucketConcurrentAcquire(t *testing.T) {
	bucket := NewTokenBucket(0.001, 100)

	var mu sync.Mutex
	acquired := 0
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bucket.Acquire(1) {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Exactly the initial capacity may be granted.
	assert.Equal(t, 100, acquired)
}

func TestLimiterUnknownKeyAdmits(t *testing.T) {
	limiter := NewLimiter(nil)
	ok, err := limiter.Acquire(context.Background(), "provider:unknown", 1, false)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterPerKeyBuckets(t *testing.T) {
	limiter := NewLimiter(nil)
	limiter.SetLimit(ProviderKey("openai"), 0.001, 1)
	limiter.SetLimit(ProviderKey("google"), 0.001, 1)

	ctx := context.Background()
	ok, err := limiter.Acquire(ctx, ProviderKey("openai"), 1, false)
	require.NoError(t, err)
	assert.True(t, ok)

	// The openai bucket is drained; the google bucket is unaffected.
	ok, err = limiter.Acquire(ctx, ProviderKey("openai"), 1, false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Acquire(ctx, ProviderKey("google"), 1, false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterDefaultCapacity(t *testing.T) {
	limiter := NewLimiter(nil)
	limiter.SetLimit("k", 2, 0)

	limiter.mu.Lock()
	bucket := limiter.buckets["k"]
	limiter.mu.Unlock()
	assert.Equal(t, 20.0, bucket.capacity)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "provider:openai", ProviderKey("openai"))
	assert.Equal(t, "provider:openai:model:gpt-4o", ModelKey("openai", "gpt-4o"))
}
