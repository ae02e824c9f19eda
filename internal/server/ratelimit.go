package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskquest/internal/engine/auth"
)

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyedLimiter hands out one token bucket per caller.
type keyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*limiterEntry
	idleTTL time.Duration
	sweepAt time.Time
}

func newKeyedLimiter(cfg RateLimitConfig) *keyedLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
	}
	return &keyedLimiter{
		limit:   rate.Limit(cfg.RPS),
		burst:   burst,
		entries: map[string]*limiterEntry{},
		idleTTL: 10 * time.Minute,
	}
}

func (k *keyedLimiter) allow(key string, now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if now.After(k.sweepAt) {
		for key, e := range k.entries {
			if now.Sub(e.lastSeen) > k.idleTTL {
				delete(k.entries, key)
			}
		}
		k.sweepAt = now.Add(k.idleTTL)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// newRateLimitMiddleware throttles mutating requests per identity, falling
// back to the client address for anonymous callers. RPS <= 0 disables it.
func newRateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RPS <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newKeyedLimiter(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, req)
				return
			}
			key := "ip:" + clientAddr(req)
			if id, ok := auth.FromContext(req.Context()); ok {
				key = "id:" + id.ID
			}
			if !limiter.allow(key, time.Now()) {
				w.Header().Set("Retry-After", "1")
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many requests", nil))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func clientAddr(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
