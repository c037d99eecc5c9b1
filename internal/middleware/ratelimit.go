package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/skydesk/internal/identity"
)

// RateLimiter implements a per-user sliding window rate limiter.
// The key is the anonymous user ID, so every tab of a device shares a budget.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a rate limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.fresh(key, now.Add(-r.window))

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

func (r *RateLimiter) fresh(key string, cutoff time.Time) []time.Time {
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

// StartEviction periodically removes expired keys until ctx ends, bounding
// memory use.
func (r *RateLimiter) StartEviction(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evict()
			}
		}
	}()
}

func (r *RateLimiter) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.window)
	for key := range r.requests {
		if fresh := r.fresh(key, cutoff); len(fresh) == 0 {
			delete(r.requests, key)
		} else {
			r.requests[key] = fresh
		}
	}
}

// RateLimit rejects requests over the caller's budget with 429. Requests
// without an identity are keyed by remote IP.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := identity.UserIDFromContext(r.Context())
			if key == "" {
				key = "ip:" + identity.IPFromRequest(r)
			}
			if !rl.Allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
