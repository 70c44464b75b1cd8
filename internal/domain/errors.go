package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCategory maps raw platform errors into exactly one bucket. The
// executor's retry and auto-pause decisions key off the category alone, so
// classification is the only place platform-specific knowledge lives.
type ErrorCategory string

const (
	ErrRateLimit      ErrorCategory = "rate_limit"     // retryable, quota pressure
	ErrNetwork        ErrorCategory = "network"        // retryable, includes timeouts
	ErrAuthentication ErrorCategory = "authentication" // terminal, auto-pause
	ErrForbidden      ErrorCategory = "forbidden"      // terminal, auto-pause
	ErrCheckpoint     ErrorCategory = "checkpoint"     // terminal, auto-pause, manual resolution
	ErrShadowban      ErrorCategory = "shadowban"      // terminal, auto-pause, high-severity alert
	ErrMedia          ErrorCategory = "media"          // terminal for the job only
	ErrUnknown        ErrorCategory = "unknown"        // retryable once, then terminal
)

// Retryable reports whether a failed attempt in this category may be retried
// after backoff. Unknown is retryable; the executor caps it at one retry.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case ErrRateLimit, ErrNetwork, ErrUnknown:
		return true
	}
	return false
}

// PausesAccount reports whether a failure in this category must emit an
// auto-pause signal for the account.
func (c ErrorCategory) PausesAccount() bool {
	switch c {
	case ErrAuthentication, ErrForbidden, ErrCheckpoint, ErrShadowban:
		return true
	}
	return false
}

// PublishError is a classified failure from the publish collaborator.
type PublishError struct {
	Category ErrorCategory
	Message  string
	Err      error
}

func (e *PublishError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("publish %s: %s", e.Category, e.Message)
	}
	return fmt.Sprintf("publish %s: %v", e.Category, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// NewPublishError wraps err with an explicit category.
func NewPublishError(cat ErrorCategory, msg string, err error) *PublishError {
	return &PublishError{Category: cat, Message: msg, Err: err}
}

// Classify maps an arbitrary error from a publish attempt into the taxonomy.
// Already-classified errors keep their category; context deadline and
// transport errors are network; everything else is unknown.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ErrNetwork
	}
	return ErrUnknown
}
