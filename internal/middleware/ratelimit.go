package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter allows perHour requests per client, refilled evenly across the hour.
func NewRateLimiter(perHour int) *RateLimiter {
	if perHour <= 0 {
		perHour = 500
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Every(time.Hour / time.Duration(perHour)),
		burst:    perHour,
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	l, ok := rl.limiters[ip]
	rl.mu.RUnlock()
	if ok {
		return l
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok = rl.limiters[ip]; ok {
		return l
	}
	l = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[ip] = l
	return l
}

// Allow reports whether the client may make another request now.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.limiter(ip).Allow()
}

// StartCleanup drops buckets that have fully refilled, every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for ip, l := range rl.limiters {
		if l.TokensAt(now) >= float64(rl.burst) {
			delete(rl.limiters, ip)
		}
	}
}

// RateLimit rejects clients that exceed their bucket with 429.
func RateLimit(rl *RateLimiter, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := c.IP()
		if !rl.Allow(ip) {
			requestID, _ := c.Locals(requestIDHeader).(string)
			logger.Warn("rate limit exceeded",
				slog.String("request_id", requestID),
				slog.String("ip", ip),
				slog.String("path", c.Path()),
				slog.String("method", c.Method()),
			)
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded, please try again later")
		}
		return c.Next()
	}
}
