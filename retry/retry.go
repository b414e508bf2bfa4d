// Package retry provides bounded exponential-backoff retries for calls
// whose failures are tagged as recoverable.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseWait   = 1 * time.Second
	DefaultMaxWait    = 60 * time.Second
	DefaultMultiplier = 2.0
)

// RecoverableError tags an error as safe to retry. The retry loop only
// retries errors carrying this tag; everything else is terminal.
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string {
	return e.Err.Error()
}

func (e *RecoverableError) Unwrap() error {
	return e.Err
}

// NewRecoverableError wraps an error to mark it as recoverable.
func NewRecoverableError(err error) error {
	return &RecoverableError{Err: err}
}

// IsRecoverable reports whether the error is tagged as recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var recoverable *RecoverableError
	return errors.As(err, &recoverable)
}

// Option configures the retry behavior.
type Option func(*config)

type config struct {
	maxRetries int
	baseWait   time.Duration
	maxWait    time.Duration
	multiplier float64
	jitter     bool
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBaseWait sets the wait before the first retry.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

// WithMaxWait caps the wait between retries.
func WithMaxWait(d time.Duration) Option {
	return func(c *config) { c.maxWait = d }
}

// WithMultiplier sets the exponential backoff base.
func WithMultiplier(m float64) Option {
	return func(c *config) { c.multiplier = m }
}

// WithJitter enables bounded random jitter on each wait.
func WithJitter(enabled bool) Option {
	return func(c *config) { c.jitter = enabled }
}

// Do executes fn, retrying recoverable failures with exponential backoff
// until it succeeds, returns a terminal error, or attempts are exhausted.
// The last error is returned when retries run out.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	c := &config{
		maxRetries: DefaultMaxRetries,
		baseWait:   DefaultBaseWait,
		maxWait:    DefaultMaxWait,
		multiplier: DefaultMultiplier,
		jitter:     true,
	}
	for _, opt := range opts {
		opt(c)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(c, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRecoverable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// backoff computes the wait before the given retry attempt (1-based).
func backoff(c *config, attempt int) time.Duration {
	wait := time.Duration(float64(c.baseWait) * math.Pow(c.multiplier, float64(attempt-1)))
	if wait > c.maxWait {
		wait = c.maxWait
	}
	if c.jitter {
		wait += time.Duration(rand.Float64() * float64(wait) * 0.1)
	}
	return wait
}
