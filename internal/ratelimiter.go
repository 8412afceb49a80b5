package internal

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter keyed by client host. Keys whose
// window emptied are swept out periodically so one-off clients do not pin
// map entries forever.
type RateLimiter struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:      make(map[string][]time.Time),
		limit:     limit,
		window:    window,
		lastSweep: time.Now(),
	}
}

func (r *RateLimiter) Allow(key string) bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(now)

	windowStart := now.Add(-r.window)
	slice := r.hits[key]
	idx := 0
	for _, ts := range slice {
		if ts.After(windowStart) {
			slice[idx] = ts
			idx++
		}
	}
	slice = slice[:idx]
	if len(slice) >= r.limit {
		r.hits[key] = slice
		return false
	}
	slice = append(slice, now)
	r.hits[key] = slice
	return true
}

// Reset forgets a key entirely. Called after a successful login so a user
// who mistyped a few times does not stay burdened by the failed attempts.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	delete(r.hits, key)
	r.mu.Unlock()
}

// sweepLocked drops keys whose every timestamp has aged out. Runs at most
// once per window.
func (r *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < r.window {
		return
	}
	r.lastSweep = now
	windowStart := now.Add(-r.window)
	for key, slice := range r.hits {
		live := false
		for _, ts := range slice {
			if ts.After(windowStart) {
				live = true
				break
			}
		}
		if !live {
			delete(r.hits, key)
		}
	}
}
