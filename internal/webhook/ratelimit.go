package webhook

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces webhook requests. On top of the steady-state limiter it
// honors server-mandated pauses: after a rate-limited response the next
// request waits out the penalty window before consulting the limiter.
type RateLimiter struct {
	limiter *rate.Limiter

	penaltyUntil time.Time
	mu           sync.Mutex
}

// NewRateLimiter creates a limiter allowing rps requests per second with the
// given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// DefaultRateLimiter returns a limiter with conservative settings for a
// single webhook endpoint.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(4.0, 1)
}

// Wait blocks until the next request is allowed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	until := r.penaltyUntil
	r.mu.Unlock()

	if time.Now().Before(until) {
		select {
		case <-time.After(time.Until(until)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return r.limiter.Wait(ctx)
}

// SetPenalty pauses all requests for the server-specified delay.
func (r *RateLimiter) SetPenalty(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.penaltyUntil = time.Now().Add(d)
}
