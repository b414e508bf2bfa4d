package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies generation failures so that the retry and circuit
// breaker layers can dispatch on the tag instead of inspecting messages.
type ErrorKind string

const (
	// ErrTimeout: the call did not complete in time. Retryable.
	ErrTimeout ErrorKind = "timeout"

	// ErrRateLimited: the provider rejected the call for quota or rate
	// reasons. Retryable, and eligible for model fallback.
	ErrRateLimited ErrorKind = "rate_limited"

	// ErrAuthFailed: credentials were rejected. Never retried.
	ErrAuthFailed ErrorKind = "auth_failed"

	// ErrService: the provider failed internally. Retryable.
	ErrService ErrorKind = "service_error"
)

// Error is a typed generation failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s/%s): %s", e.Kind, e.Provider, e.Model, e.Err.Error())
	}
	return fmt.Sprintf("%s (%s/%s)", e.Kind, e.Provider, e.Model)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the failure is safe to retry. Auth
// failures are terminal; everything else is transient.
func (e *Error) Recoverable() bool {
	return e.Kind != ErrAuthFailed
}

// NewError creates a typed generation error.
func NewError(kind ErrorKind, provider, model string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Model: model, Err: err}
}

// KindOf returns the kind of a generation error, or "" if the error does
// not carry one.
func KindOf(err error) ErrorKind {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	return ""
}

// IsRateLimited reports whether the error is a rate/quota rejection.
func IsRateLimited(err error) bool {
	return KindOf(err) == ErrRateLimited
}

// IsAuthFailed reports whether the error is an authentication failure.
func IsAuthFailed(err error) bool {
	return KindOf(err) == ErrAuthFailed
}

// IsTimeout reports whether the error is a timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrTimeout
}
