package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per user and evicts idle buckets
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byUser  map[int64]*bucket
	hits    uint64
	idleTTL time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a per-user limiter; returns nil (no limit) if args
// are invalid
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byUser:  make(map[int64]*bucket),
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow reports whether the user may make one more request now
func (l *RateLimiter) Allow(userID int64) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byUser[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byUser[userID] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for id, v := range l.byUser {
			if v.lastSeen.Before(cutoff) {
				delete(l.byUser, id)
			}
		}
	}

	return allowed
}

// RateLimit rejects requests over the authenticated user's budget with 429.
// It must run after AuthMiddleware.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r.Context())
			if !limiter.Allow(userID) {
				w.Header().Set("Retry-After", strconv.Itoa(1))
				respondError(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
