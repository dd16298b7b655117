package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"phusd/observability"
)

// RateLimitConfig bounds request throughput per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64
	Burst             int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token-bucket limit keyed by client IP. Idle clients
// are evicted so the visitor map stays bounded.
type RateLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	visitors map[string]*rateEntry
	now      func() time.Time
}

const visitorTTL = 10 * time.Minute

// NewRateLimiter constructs a limiter from the config; zero values disable it.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimiter{
		cfg:      cfg,
		visitors: make(map[string]*rateEntry),
		now:      time.Now,
	}
}

// Middleware rejects requests exceeding the per-client budget with 429.
func (l *RateLimiter) Middleware(module string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientID(r)) {
				observability.ModuleMetrics().RecordThrottle(module, "rate_limit")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *RateLimiter) allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	entry, ok := l.visitors[id]
	if !ok {
		perSecond := l.cfg.RequestsPerMinute / 60.0
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), l.cfg.Burst)}
		l.visitors[id] = entry
	}
	entry.lastSeen = now
	for key, visitor := range l.visitors {
		if now.Sub(visitor.lastSeen) > visitorTTL {
			delete(l.visitors, key)
		}
	}
	return entry.limiter.Allow()
}

func clientID(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
