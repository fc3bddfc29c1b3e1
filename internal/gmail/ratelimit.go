package gmail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Operation represents a Gmail API operation with its quota cost.
type Operation int

const (
	OpMessagesGet         Operation = iota // 5 units
	OpMessagesGetRaw                       // 5 units
	OpMessagesList                         // 5 units
	OpThreadsGet                           // 10 units
	OpMessagesTrash                        // 5 units
	OpMessagesBatchDelete                  // 50 units
	OpMessagesBatchModify                  // 50 units
	OpMessagesSend                         // 100 units
	OpProfile                              // 1 unit
)

// Cost returns the quota cost for an operation.
func (o Operation) Cost() int {
	switch o {
	case OpMessagesGet, OpMessagesGetRaw, OpMessagesList, OpMessagesTrash:
		return 5
	case OpThreadsGet:
		return 10
	case OpMessagesBatchDelete, OpMessagesBatchModify:
		return 50
	case OpMessagesSend:
		return 100
	default:
		return 1
	}
}

const (
	// DefaultCapacity is the token bucket burst (Gmail's per-user quota per second).
	DefaultCapacity = 250

	// MinQPS is the minimum allowed QPS.
	MinQPS = 0.1

	defaultQPS             = 5.0
	unitsPerQuery          = DefaultCapacity / defaultQPS
	throttleRecoveryFactor = 0.5
)

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RateLimiter paces Gmail API calls in quota units. It wraps a token bucket
// from golang.org/x/time/rate and adds a throttle window that blocks all
// callers after the API reports a rate-limit error.
type RateLimiter struct {
	mu             sync.Mutex
	clock          Clock
	limiter        *rate.Limiter
	baseLimit      rate.Limit
	throttledUntil time.Time
	recoverAt      time.Time // reduced rate applies until then
}

// NewRateLimiter creates a rate limiter for the given queries per second.
// Five QPS is the Gmail default and maps to the full 250 units/s quota.
func NewRateLimiter(qps float64) *RateLimiter {
	return newRateLimiter(realClock{}, qps)
}

func newRateLimiter(clk Clock, qps float64) *RateLimiter {
	if clk == nil {
		panic("gmail: RateLimiter requires a non-nil Clock")
	}
	if qps < MinQPS {
		qps = MinQPS
	}
	limit := rate.Limit(qps * unitsPerQuery)
	if limit > DefaultCapacity {
		limit = DefaultCapacity
	}
	return &RateLimiter{
		clock:     clk,
		limiter:   rate.NewLimiter(limit, DefaultCapacity),
		baseLimit: limit,
	}
}

// throttleWait returns how long callers must still wait for an active
// throttle window, restoring the base rate once the recovery period ends.
func (r *RateLimiter) throttleWait(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Before(r.throttledUntil) {
		return r.throttledUntil.Sub(now)
	}
	if !r.recoverAt.IsZero() && !now.Before(r.recoverAt) {
		r.recoverAt = time.Time{}
		r.limiter.SetLimitAt(now, r.baseLimit)
	}
	return 0
}

// Acquire blocks until the operation's quota units are available.
func (r *RateLimiter) Acquire(ctx context.Context, op Operation) error {
	for {
		now := r.clock.Now()
		if wait := r.throttleWait(now); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(wait):
				continue
			}
		}

		res := r.limiter.ReserveN(now, op.Cost())
		if !res.OK() {
			return fmt.Errorf("operation cost %d exceeds limiter burst", op.Cost())
		}
		delay := res.DelayFrom(now)
		if delay <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			res.CancelAt(r.clock.Now())
			return ctx.Err()
		case <-r.clock.After(delay):
			return nil
		}
	}
}

// TryAcquire takes the operation's units without blocking.
func (r *RateLimiter) TryAcquire(op Operation) bool {
	now := r.clock.Now()
	if r.throttleWait(now) > 0 {
		return false
	}
	return r.limiter.AllowN(now, op.Cost())
}

// Throttle blocks all callers for duration, then runs at half rate for the
// same duration again. An existing longer window is never shortened.
func (r *RateLimiter) Throttle(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if end := now.Add(duration); end.After(r.throttledUntil) {
		r.throttledUntil = end
		r.recoverAt = end.Add(duration)
	}
	r.limiter.SetLimitAt(now, r.baseLimit*throttleRecoveryFactor)
}

// RecoverRate restores the base refill rate immediately.
func (r *RateLimiter) RecoverRate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recoverAt = time.Time{}
	r.limiter.SetLimitAt(r.clock.Now(), r.baseLimit)
}

// Limit returns the current refill rate in quota units per second.
func (r *RateLimiter) Limit() float64 {
	return float64(r.limiter.Limit())
}
