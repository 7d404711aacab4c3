package ipc

import (
	"sync"
	"time"

	"github.com/breeze-rmm/overlay/internal/clock"
)

// RateLimiter allows at most maxAttempts per key in a sliding window.
type RateLimiter struct {
	maxAttempts int
	window      time.Duration
	clk         clock.Clock
	mu          sync.Mutex
	attempts    map[string][]time.Time
}

// NewRateLimiter creates a rate limiter with the given max attempts per window.
func NewRateLimiter(maxAttempts int, window time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		clk:         clk,
		attempts:    make(map[string][]time.Time),
	}
}

// Allow reports whether key may proceed. If allowed, it records the attempt.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	cutoff := now.Add(-r.window)

	existing := r.attempts[key]
	pruned := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= r.maxAttempts {
		r.attempts[key] = pruned
		return false
	}
	r.attempts[key] = append(pruned, now)
	return true
}

// Reset clears all rate limit state.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = make(map[string][]time.Time)
}
