package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/dkrish7/osprey/internal/logger"
	"github.com/dkrish7/osprey/model"
)

// Decision reports the window state after an admitted request.
type Decision struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// RateLimitError is returned when a key's window is full. Reset is when the
// oldest surviving entry leaves the window, for the rejecting window's own
// rate headers.
type RateLimitError struct {
	Key               string
	Limit             int
	RetryAfterSeconds int64
	Reset             time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: retry after %ds", e.Key, e.RetryAfterSeconds)
}

// CounterStore performs the sliding-window check-and-increment as one atomic
// round trip: purge entries older than now-window, then admit and record now
// only if fewer than max entries survive.
type CounterStore interface {
	Slide(ctx context.Context, key string, window time.Duration, max int, now time.Time) (SlideResult, error)
}

type SlideResult struct {
	Allowed bool
	Count   int       // entries in the live window, including this one if admitted
	Oldest  time.Time // oldest surviving entry; zero when the window is empty
}

type Limiter struct {
	store CounterStore
	now   func() time.Time
}

func NewLimiter(store CounterStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Allow admits or rejects one request against the key's window. If the
// counter store is unreachable the limiter fails open: the request is
// admitted and the outage is logged, trading strict enforcement for
// availability.
func (l *Limiter) Allow(ctx context.Context, key string, spec model.RateSpec) (*Decision, error) {
	now := l.now()
	window := time.Duration(spec.WindowMs) * time.Millisecond

	res, err := l.store.Slide(ctx, key, window, spec.Max, now)
	if err != nil {
		logger.Log.Warn().Err(err).Str("key", key).Msg("rate limit store unreachable, failing open")
		return &Decision{
			Limit:     spec.Max,
			Remaining: spec.Max - 1,
			Reset:     now.Add(window),
		}, nil
	}

	if !res.Allowed {
		retryAt := res.Oldest.Add(window)
		retryAfter := int64(retryAt.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return nil, &RateLimitError{
			Key:               key,
			Limit:             spec.Max,
			RetryAfterSeconds: retryAfter,
			Reset:             retryAt,
		}
	}

	return &Decision{
		Limit:     spec.Max,
		Remaining: spec.Max - res.Count,
		Reset:     now.Add(window),
	}, nil
}
