// Package counter provides the shared windowed-counter store backing
// the rate limiter. Backends are interchangeable: an in-process map
// for single-instance deployments, Redis when counters must be shared.
package counter

import (
	"context"
	"time"
)

type Store interface {
	// Incr increments the counter at key and returns the new value.
	// The key expires ttl after its first increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get returns the current value at key, zero if absent.
	Get(ctx context.Context, key string) (int64, error)

	Close() error
}
