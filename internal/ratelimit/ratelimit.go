// Package ratelimit enforces per-owner admission limits over fixed
// minute and hour windows. Counters live in a counter.Store so the
// limiter works the same against in-process or shared Redis state.
//
// The check is check-then-increment, not compare-and-swap: concurrent
// admissions for one owner can race past the ceiling by the margin of
// in-flight increments. That looseness is accepted.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/resumeforge/aiqueue/internal/counter"
	"github.com/resumeforge/aiqueue/pkg/types"
)

// LimitExceededError is the terminal admission failure. ResetTime is
// the wall-clock instant at which the exhausted window rolls over.
type LimitExceededError struct {
	OwnerID   string
	ResetTime time.Time
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for owner %s, resets at %s", e.OwnerID, e.ResetTime.Format(time.RFC3339))
}

type Config struct {
	RequestsPerMinute int
	RequestsPerHour   int

	// FailOpen allows requests through when the counter store is
	// unavailable. Availability over strict enforcement.
	FailOpen bool
}

type Limiter struct {
	store counter.Store
	cfg   Config
	now   func() time.Time
}

func New(store counter.Store, cfg Config) *Limiter {
	return &Limiter{store: store, cfg: cfg, now: time.Now}
}

func minuteKey(ownerID string, t time.Time) string {
	return "ratelimit:" + ownerID + ":m:" + t.UTC().Format("2006-01-02-15-04")
}

func hourKey(ownerID string, t time.Time) string {
	return "ratelimit:" + ownerID + ":h:" + t.UTC().Format("2006-01-02-15")
}

func windowReset(t time.Time, window time.Duration) time.Time {
	return t.Truncate(window).Add(window)
}

// Reserve admits one request for ownerID, incrementing both window
// counters. Returns *LimitExceededError when either window is
// exhausted. Store failures follow the fail-open policy.
func (l *Limiter) Reserve(ctx context.Context, ownerID string) error {
	now := l.now()

	minuteCount, err := l.store.Get(ctx, minuteKey(ownerID, now))
	if err != nil {
		return l.failOpen(ownerID, err)
	}
	hourCount, err := l.store.Get(ctx, hourKey(ownerID, now))
	if err != nil {
		return l.failOpen(ownerID, err)
	}

	if minuteCount >= int64(l.cfg.RequestsPerMinute) {
		return &LimitExceededError{OwnerID: ownerID, ResetTime: windowReset(now, time.Minute)}
	}
	if hourCount >= int64(l.cfg.RequestsPerHour) {
		return &LimitExceededError{OwnerID: ownerID, ResetTime: windowReset(now, time.Hour)}
	}

	if _, err := l.store.Incr(ctx, minuteKey(ownerID, now), time.Minute); err != nil {
		return l.failOpen(ownerID, err)
	}
	if _, err := l.store.Incr(ctx, hourKey(ownerID, now), time.Hour); err != nil {
		return l.failOpen(ownerID, err)
	}

	return nil
}

func (l *Limiter) failOpen(ownerID string, err error) error {
	if l.cfg.FailOpen {
		log.Printf("rate limiter store unavailable, allowing request for %s: %v", ownerID, err)
		return nil
	}
	log.Printf("rate limiter store unavailable, rejecting request for %s: %v", ownerID, err)
	return &LimitExceededError{OwnerID: ownerID, ResetTime: windowReset(l.now(), time.Minute)}
}

// Status reports remaining capacity for ownerID without reserving
// any. Store failures report an unlimited view, matching fail-open.
func (l *Limiter) Status(ctx context.Context, ownerID string) types.RateLimitStatus {
	now := l.now()

	minuteCount, errM := l.store.Get(ctx, minuteKey(ownerID, now))
	hourCount, errH := l.store.Get(ctx, hourKey(ownerID, now))
	if errM != nil || errH != nil {
		return types.RateLimitStatus{
			RequestsRemaining: l.cfg.RequestsPerMinute,
			ResetTime:         windowReset(now, time.Minute),
		}
	}

	minuteRemaining := l.cfg.RequestsPerMinute - int(minuteCount)
	hourRemaining := l.cfg.RequestsPerHour - int(hourCount)

	remaining := minuteRemaining
	resetTime := windowReset(now, time.Minute)
	if hourRemaining < minuteRemaining {
		remaining = hourRemaining
		resetTime = windowReset(now, time.Hour)
	}
	if remaining < 0 {
		remaining = 0
	}

	return types.RateLimitStatus{
		RequestsRemaining: remaining,
		ResetTime:         resetTime,
		IsLimited:         remaining == 0,
	}
}
