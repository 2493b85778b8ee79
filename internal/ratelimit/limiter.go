// Package ratelimit bounds a run in time and throughput: the stage manager
// ramps the user population at the spawn rate and holds it until the run
// time is over, and RateLimiter caps requests per second across all users.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is a global requests-per-second cap shared by every virtual
// user. A rate of 0 disables limiting.
type RateLimiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
}

func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Wait blocks until one request may be sent or ctx is done. It never blocks
// while limiting is disabled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	limiter := r.limiter
	r.mu.RUnlock()

	if limiter.Limit() == 0 {
		return nil
	}
	return limiter.Wait(ctx)
}

// SetRate changes the cap, e.g. when a stage with a different RPS starts.
func (r *RateLimiter) SetRate(rps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter.SetLimit(rate.Limit(rps))
	r.limiter.SetBurst(rps)
}

// Rate returns the current cap, 0 when disabled.
func (r *RateLimiter) Rate() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.limiter.Limit())
}
