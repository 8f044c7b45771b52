package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimitBurst   = 5
	rateLimitTTL     = 10 * time.Minute
	rateLimitMessage = "rate limit exceeded"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-client-IP requests-per-second cap using a
// token bucket per client, evicting clients that have gone idle past
// rateLimitTTL so the map doesn't grow unbounded under churn.
type RateLimiter struct {
	limit rate.Limit
	mu    sync.Mutex
	byIP  map[string]*clientLimiter
}

// NewRateLimiter constructs a RateLimiter allowing rps requests/second per
// client IP. A non-positive rps disables limiting; callers should check
// this before wrapping a handler to avoid the needless indirection.
func NewRateLimiter(rps float64) *RateLimiter {
	return &RateLimiter{
		limit: rate.Limit(rps),
		byIP:  make(map[string]*clientLimiter),
	}
}

func (rl *RateLimiter) allow(clientIP string) bool {
	now := time.Now()
	cutoff := now.Add(-rateLimitTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, state := range rl.byIP {
		if state.lastSeen.Before(cutoff) {
			delete(rl.byIP, ip)
		}
	}

	state, ok := rl.byIP[clientIP]
	if !ok {
		state = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rateLimitBurst)}
		rl.byIP[clientIP] = state
	}
	state.lastSeen = now
	return state.limiter.Allow()
}

// Middleware wraps next with the rate limiter. If rl is nil (limiting
// disabled), it returns next unmodified.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := clientAddr(r)
		if !rl.allow(clientIP) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, rateLimitMessage, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return strings.TrimSpace(host)
}
