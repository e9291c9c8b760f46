package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/VengurlekarMayuresh/CCL/internal/platform/auth"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) bool
}

// keyedRateLimiter holds one token bucket per caller.
type keyedRateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	clock   func() time.Time
	mu      sync.Mutex
	store   map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newPerMinuteRateLimiter allows perMinute requests per key with the full
// minute available as burst. A non-positive limit disables throttling.
func newPerMinuteRateLimiter(perMinute int, clock func() time.Time) rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedRateLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		idleTTL: 10 * time.Minute,
		clock:   clock,
		store:   make(map[string]*limiterEntry),
	}
}

func (l *keyedRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok {
		l.pruneIdleLocked(now)
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.store[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *keyedRateLimiter) pruneIdleLocked(now time.Time) {
	for key, entry := range l.store {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.store, key)
		}
	}
}

// rateLimitByUser throttles authenticated callers by uid.
func rateLimitByUser(limiter rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil {
				key = identity.UID
			}
			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", strconv.Itoa(60))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests, retry later", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
