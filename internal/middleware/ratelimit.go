package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sentineltrust/controlplane/internal/apperrors"
	"github.com/sentineltrust/controlplane/internal/httputil"
)

// RateLimiter hands out a token-bucket limiter per client key (principal or
// IP), matching the per-caller throttling used across /check and /upgrade.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerSecond, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Cleanup resets the limiter set once it grows unreasonably large, bounding
// memory for long-lived processes with many distinct callers.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup runs Cleanup on interval until the returned stop func is
// called.
func (rl *RateLimiter) StartCleanup(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-done:
				return
			}
		}
	}()
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// Handler rate limits by caller principal, falling back to client IP for
// unauthenticated requests.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := PrincipalID(r.Context())
		if key == "" {
			key = httputil.ClientIP(r)
		}
		if key == "" {
			key = "unknown"
		}

		if !rl.limiterFor(key).Allow() {
			httputil.WriteError(w, r, apperrors.New(apperrors.KindTransient, "rate limit exceeded", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
