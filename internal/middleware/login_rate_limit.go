package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// LoginRateLimit limits login attempts per username, or per IP when the body has no
// username, using a fixed one-minute window in Redis. It fails open on cache errors.
func LoginRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Username string `json:"username"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimSpace(req.Username))
		if subject == "" {
			subject = "ip:" + c.IP()
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		key := "rl:login:" + subject
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(ctx, key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(fiber.StatusTooManyRequests, "too many login attempts, try again later")
		}
		return c.Next()
	}
}
