package provider

import (
	"context"
	"errors"
	"fmt"
)

// Error is a classified upstream failure. Retryable drives the retry
// policy's predicate: invalid-request classes of error fail fast,
// transient ones are retried.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsRetryable reports whether err should be retried. Unclassified
// errors default to retryable: transport failures with no status
// code are assumed transient.
func IsRetryable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	return true
}

// classifyStatus decides retryability from an HTTP status code.
// 429 and server-side failures are transient; other 4xx responses
// indicate a request that will never succeed.
func classifyStatus(status int) bool {
	switch {
	case status == 429 || status == 408:
		return true
	case status >= 500:
		return true
	case status >= 400:
		return false
	default:
		return true
	}
}

func newError(providerName string, status int, err error) *Error {
	retryable := classifyStatus(status)
	if errors.Is(err, context.DeadlineExceeded) {
		retryable = true
	}
	return &Error{
		Provider:   providerName,
		StatusCode: status,
		Message:    err.Error(),
		Retryable:  retryable,
	}
}
