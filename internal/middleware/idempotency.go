package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	idempotencyOpTimeout = 2 * time.Second
)

type storedResponse struct {
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers"`
}

// Idempotency replays the stored response when a client retries an unsafe request
// with the same Idempotency-Key. Requests without the header pass through untouched.
// Reusing a key for a different method, path or body is rejected with 422.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		key := c.Get(idempotencyKeyHeader)
		if key == "" || cache == nil {
			return c.Next()
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), idempotencyOpTimeout)
		defer cancel()

		cacheKey := idempotencyPrefix + key
		fingerprint := requestFingerprint(c)

		cached, err := cache.Get(ctx, cacheKey).Result()
		if err == nil {
			if cached == inProgressMarker {
				return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
			}
			var stored storedResponse
			if err := json.Unmarshal([]byte(cached), &stored); err != nil {
				logger.Warn("failed to decode stored idempotent response", slog.String("key", key), slog.Any("error", err))
				return fiber.NewError(fiber.StatusConflict, "duplicate request")
			}
			if stored.Fingerprint != fingerprint {
				return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key reused with a different request")
			}
			for header, value := range stored.Headers {
				if strings.EqualFold(header, fiber.HeaderContentLength) {
					continue
				}
				c.Set(header, value)
			}
			return c.Status(stored.Status).SendString(stored.Body)
		}
		if !errors.Is(err, redis.Nil) {
			logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store failure")
		}

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency reservation failure")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}

		if err := c.Next(); err != nil {
			release(cache, cacheKey)
			return err
		}
		// Server failures are not replayed so the client can retry them.
		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			release(cache, cacheKey)
			return nil
		}

		stored := storedResponse{
			Fingerprint: fingerprint,
			Status:      c.Response().StatusCode(),
			Body:        string(c.Response().Body()),
			Headers:     map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			stored.Headers[string(k)] = string(v)
		})

		payload, err := json.Marshal(stored)
		if err != nil {
			logger.Error("failed to encode idempotent response", slog.String("key", key), slog.Any("error", err))
			release(cache, cacheKey)
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, ttl).Err(); err != nil {
			// the handler already ran, so its response still goes out
			logger.Error("failed to persist idempotent response", slog.String("key", key), slog.Any("error", err))
			cache.Del(persistCtx, cacheKey)
		}
		return nil
	}
}

func requestFingerprint(c *fiber.Ctx) string {
	h := sha256.New()
	h.Write([]byte(c.Method()))
	h.Write([]byte{0})
	h.Write([]byte(c.Path()))
	h.Write([]byte{0})
	h.Write(c.Body())
	return hex.EncodeToString(h.Sum(nil))
}

func release(cache *redis.Client, cacheKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	cache.Del(ctx, cacheKey)
}
