package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter enforces a per-remote-address event budget over a sliding
// window. Stale entries are pruned lazily on the next call from that
// address; there is no background timer.
type RateLimiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
	budget  int
	window  time.Duration
	now     func() time.Time
}

func NewRateLimiter(budget int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		history: make(map[string][]time.Time),
		budget:  budget,
		window:  window,
		now:     time.Now,
	}
}

// Allow records one event for addr and reports whether it fits the budget.
func (rl *RateLimiter) Allow(addr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.window)

	attempts := rl.history[addr]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.budget {
		rl.history[addr] = fresh
		return false
	}
	rl.history[addr] = append(fresh, now)
	return true
}

// Middleware rejects requests over budget with 429. Used on the
// connection-attempt integration point; per-event limiting inside a live
// socket calls Allow directly.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(remoteHost(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
