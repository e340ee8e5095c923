package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - one token bucket per caller
// ══════════════════════════════════════════════════════════════════════════════

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter hands out a token bucket per key and forgets keys that have
// been idle for limiterIdleTTL.
type rateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	entries   map[string]*limiterEntry
	lastPrune time.Time
	now       func() time.Time
}

func newRateLimiter(perMinute, burst int) *rateLimiter {
	if burst <= 0 {
		burst = max(1, perMinute/6)
	}
	return &rateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// Allow reports whether key may proceed now, and how long to wait if not.
func (rl *rateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.prune(now)

	e, ok := rl.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[key] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *rateLimiter) prune(now time.Time) {
	if now.Sub(rl.lastPrune) < limiterIdleTTL {
		return
	}
	rl.lastPrune = now
	for key, e := range rl.entries {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(rl.entries, key)
		}
	}
}

// rateLimitMiddleware keys on the authenticated user, falling back to the
// client IP.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := currentUser(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		ok, wait := s.limiter.Allow(key)
		if !ok {
			seconds := int(wait.Round(time.Second) / time.Second)
			c.Header("Retry-After", strconv.Itoa(max(1, seconds)))
			abortJSONError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		c.Next()
	}
}
