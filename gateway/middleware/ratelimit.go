package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit caps requests per client identifier for one route group.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

// RateLimiter enforces per-client token buckets. Register/reconcile retries
// that the limiter lets through are harmless: the ledger merge is idempotent,
// so nothing is double credited.
type RateLimiter struct {
	limits map[string]RateLimit

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const bucketIdleTTL = 10 * time.Minute

// NewRateLimiter builds a limiter from per-route-key limits.
func NewRateLimiter(limits map[string]RateLimit) *RateLimiter {
	return &RateLimiter{
		limits:  limits,
		buckets: make(map[string]*bucket),
	}
}

// Middleware applies the limit registered under key; unknown keys pass through.
func (rl *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit, ok := rl.limits[key]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.allow(key+"|"+clientID(r), limit) {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(id string, cfg RateLimit) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	entry, ok := rl.buckets[id]
	if !ok {
		perSecond := cfg.RequestsPerMinute / 60.0
		if perSecond <= 0 {
			perSecond = 1
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &bucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		rl.buckets[id] = entry
	}
	entry.lastSeen = now
	rl.evictStale(now)
	return entry.limiter.Allow()
}

func (rl *RateLimiter) evictStale(now time.Time) {
	for id, entry := range rl.buckets {
		if now.Sub(entry.lastSeen) > bucketIdleTTL {
			delete(rl.buckets, id)
		}
	}
}

func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first := forwarded
		if comma := strings.IndexByte(forwarded, ','); comma > 0 {
			first = strings.TrimSpace(forwarded[:comma])
		}
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
		return first
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
