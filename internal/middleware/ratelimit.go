package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitWindow = time.Minute

// RateLimiter caps requests per client IP per minute on the credential
// endpoints (register, login, GitHub login).
//
// FIXED WINDOWS:
// The counter key embeds the window number, "ratelimit:{scope}:{ip}:{unix/60}",
// so each minute starts from zero and old keys expire on their own.
//
// FAILS OPEN:
// If Redis is unreachable the request is let through and the error logged.
type RateLimiter struct {
	client *redis.Client
	limit  int
	logger *slog.Logger
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, requestsPerMinute int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  requestsPerMinute,
		logger: logger,
		now:    time.Now,
	}
}

// Limit returns middleware counting requests under scope. Routes sharing a
// scope share a budget.
func (rl *RateLimiter) Limit(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := rl.now()
			window := now.Unix() / int64(rateLimitWindow.Seconds())
			reset := (window + 1) * int64(rateLimitWindow.Seconds())
			key := fmt.Sprintf("ratelimit:%s:%s:%d", scope, clientIP(r), window)

			count, err := rl.incr(r.Context(), key)
			if err != nil {
				rl.logger.Error("rate limiter unavailable, allowing request",
					slog.String("scope", scope),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			remaining := rl.limit - int(count)
			if remaining < 0 {
				remaining = 0
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

			if int(count) > rl.limit {
				rateLimitedTotal.Inc()
				w.Header().Set("Retry-After", strconv.FormatInt(reset-now.Unix(), 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"success":false,"message":"Too Many Attempts."}` + "\n"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// incr bumps key and makes sure it expires after its window has passed.
func (rl *RateLimiter) incr(ctx context.Context, key string) (int64, error) {
	pipe := rl.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*rateLimitWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// clientIP uses RemoteAddr, which chi's RealIP middleware has already
// rewritten from X-Forwarded-For / X-Real-IP when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
