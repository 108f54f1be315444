// Package retry wraps a single unit of work with bounded retries and
// exponential backoff.
package retry

import (
	"context"
	"log"
	"time"
)

// Policy configures retry behavior. Attempts is the number of
// additional tries after the first; delays grow as
// MinDelay * 2^(attempt-1), capped at MaxDelay.
type Policy struct {
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration

	// Retryable decides whether a failure is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(error) bool
}

// Do runs fn, retrying per the policy. The last observed error is
// returned unchanged so callers can inspect its type. The attempt
// number passed to fn starts at 1.
func (p Policy) Do(ctx context.Context, label string, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.Attempts+1; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			log.Printf("[%s] attempt %d failed with non-retryable error: %v", label, attempt, err)
			return err
		}

		if attempt > p.Attempts {
			break
		}

		delay := p.backoff(attempt)
		log.Printf("[%s] attempt %d failed, retrying in %s: %v", label, attempt, delay, err)

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}

	return lastErr
}

func (p Policy) backoff(attempt int) time.Duration {
	delay := p.MinDelay << (attempt - 1)
	if delay > p.MaxDelay || delay < p.MinDelay {
		// The shift overflows for large attempt counts.
		delay = p.MaxDelay
	}
	return delay
}
