// Package breaker implements the circuit breaker pattern: after repeated
// failures of an underlying call, further calls fail fast without being
// attempted until a recovery timeout has elapsed.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/deepnoodle-ai/distill/slogger"
)

// ErrOpen is returned when the circuit is open and the underlying call is
// rejected without being attempted.
var ErrOpen = errors.New("circuit breaker is open")

// State of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	DefaultThreshold       = 5
	DefaultRecoveryTimeout = 60 * time.Second
)

// Breaker fails fast after threshold consecutive failures. Once the
// recovery timeout has elapsed a single trial call is allowed; its
// success closes the circuit, its failure re-opens it and resets the
// recovery timer.
type Breaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	lastFailure     time.Time
	trialInFlight   bool
	threshold       int
	recoveryTimeout time.Duration
	logger          slogger.Logger
}

// Options configures a Breaker. Zero values take defaults.
type Options struct {
	Threshold       int
	RecoveryTimeout time.Duration
	Logger          slogger.Logger
}

// New creates a closed breaker.
func New(opts Options) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	return &Breaker{
		state:           StateClosed,
		threshold:       opts.Threshold,
		recoveryTimeout: opts.RecoveryTimeout,
		logger:          opts.Logger,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do invokes fn under breaker protection. While the circuit is open, Do
// returns ErrOpen without invoking fn. In half-open exactly one trial
// call is admitted; concurrent callers get ErrOpen.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailure) < b.recoveryTimeout {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		b.logger.Info("circuit breaker half-open, allowing trial call")
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrOpen
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
	if err == nil {
		if b.state == StateHalfOpen {
			b.logger.Info("circuit breaker closed after successful trial")
		}
		b.state = StateClosed
		b.failures = 0
		return
	}
	b.failures++
	b.lastFailure = time.Now()
	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.logger.Warn("circuit breaker re-opened after failed trial")
		return
	}
	if b.failures >= b.threshold {
		b.state = StateOpen
		b.logger.Warn("circuit breaker opened", "failures", b.failures)
	}
}
