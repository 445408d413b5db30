// Package ratelimit throttles sensitive endpoints with a Redis fixed window.
package ratelimit

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/siteinspect/apiserver/config"
)

const keyPrefix = "ratelimit"

// NewRedisClient connects to Redis. It returns nil when no address is
// configured or the server does not answer a ping, in which case callers
// run without rate limiting.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) *redis.Client {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unavailable, rate limiting disabled")
		_ = client.Close()
		return nil
	}
	return client
}

// Counter increments the hit count of key within a window and reports the
// count and the time left in the window.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisCounter implements Counter with INCR and EXPIRE.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return count, window, err
		}
		return count, window, nil
	}
	ttl, err := c.client.PTTL(ctx, key).Result()
	if err != nil {
		return count, 0, err
	}
	if ttl < 0 {
		// The key lost its expiry; restart the window.
		_ = c.client.Expire(ctx, key, window).Err()
		ttl = window
	}
	return count, ttl, nil
}

// Limiter builds per-route middleware.
type Limiter struct {
	counter     Counter
	maxAttempts int
	window      time.Duration
	log         zerolog.Logger
	reject      func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)
}

// New returns a Limiter. A nil counter or a disabled config yields a limiter
// that lets every request through.
func New(counter Counter, cfg config.RateLimitConfig, log zerolog.Logger, reject func(http.ResponseWriter, *http.Request, time.Duration)) *Limiter {
	if !cfg.Enabled || cfg.MaxAttempts <= 0 || cfg.Window <= 0 {
		counter = nil
	}
	return &Limiter{
		counter:     counter,
		maxAttempts: cfg.MaxAttempts,
		window:      cfg.Window,
		log:         log,
		reject:      reject,
	}
}

// Limit returns middleware counting requests per client IP under name.
// Redis errors let the request through.
func (l *Limiter) Limit(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l.counter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("%s:%s:%s", keyPrefix, name, clientIP(r))
			count, ttl, err := l.counter.Hit(r.Context(), key, l.window)
			if err != nil {
				l.log.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(l.maxAttempts) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.maxAttempts))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(l.maxAttempts) {
				if ttl <= 0 {
					ttl = l.window
				}
				l.log.Info().Str("key", key).Int64("count", count).Msg("rate limit exceeded")
				l.reject(w, r, ttl)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RetryAfterSeconds rounds d up to whole seconds for the Retry-After header.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
