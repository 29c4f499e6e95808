package api

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter hands out a token bucket per caller: limit requests burst,
// refilled at limit per window. Answers are keyed by session token, starts
// by client IP. Buckets idle for a window are full again and get evicted.
type RateLimiter struct {
	mu      sync.Mutex
	buckets *cache.Cache
	every   rate.Limit
	burst   int
	idle    time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RateLimiter{
		buckets: cache.New(window, window),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    window,
	}
}

// Allow takes a token from key's bucket and reports whether one was left.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var l *rate.Limiter
	if v, ok := r.buckets.Get(key); ok {
		l = v.(*rate.Limiter)
	} else {
		l = rate.NewLimiter(r.every, r.burst)
	}
	r.buckets.Set(key, l, r.idle)
	return l.Allow()
}

// Stop drops every bucket.
func (r *RateLimiter) Stop() {
	r.buckets.Flush()
}
