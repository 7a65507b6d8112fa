package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter enforces a per-client requests-per-minute ceiling backed by
// Redis, so the limit holds across replicas. A Redis failure fails open.
type RateLimiter struct {
	redis             *redis.Client
	logger            *zap.Logger
	requestsPerMinute int
}

// rateLimitResult is the outcome of one check.
type rateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	RetryAfter time.Duration
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(redisClient *redis.Client, requestsPerMinute int, logger *zap.Logger) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 120
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		redis:             redisClient,
		logger:            logger,
		requestsPerMinute: requestsPerMinute,
	}
}

var rateLimitScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// check counts one request against the client's minute window.
func (rl *RateLimiter) check(ctx context.Context, clientID string) rateLimitResult {
	key := fmt.Sprintf("soctower:ratelimit:%s:minute", clientID)

	current, err := rateLimitScript.Run(ctx, rl.redis, []string{key}, 60000).Int()
	if err != nil {
		rl.logger.Warn("rate limit check failed, allowing request", zap.Error(err))
		return rateLimitResult{Allowed: true, Limit: rl.requestsPerMinute}
	}

	remaining := rl.requestsPerMinute - current
	if remaining < 0 {
		remaining = 0
	}
	result := rateLimitResult{
		Allowed:   current <= rl.requestsPerMinute,
		Remaining: remaining,
		Limit:     rl.requestsPerMinute,
	}
	if !result.Allowed {
		if ttl, err := rl.redis.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			result.RetryAfter = ttl
		} else {
			result.RetryAfter = time.Minute
		}
	}
	return result
}

// Middleware returns the HTTP middleware enforcing the limit per client IP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := rl.check(r.Context(), clientIP(r))

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate_limit_exceeded","retry_after":%d}`,
				int(result.RetryAfter.Seconds()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
