package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/claims-gateway/claims_gateway/internal/apperr"
	"github.com/claims-gateway/claims_gateway/internal/auth"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

// RequestID ensures each request has a stable request identifier for tracing and logging.
// Client supplied identifiers are kept unless they are oversized.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" || len(reqID) > maxRequestIDLen {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)
		return c.Next()
	}
}

// Audit emits one structured log line per request. Errors returned by handlers are
// rendered later by the error handler, so their status is derived from the error.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(err)
		}
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("ip", c.IP()),
		}
		if requestID, _ := c.Locals(requestIDHeader).(string); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if username, _ := c.Locals(auth.LocalUsername).(string); username != "" {
			attrs = append(attrs, slog.String("username", username))
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			attrs = append(attrs, slog.Any("error", err))
			logger.Error("request completed", attrs...)
		case err != nil:
			attrs = append(attrs, slog.String("error", err.Error()))
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}

func statusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return apperr.Status(err)
}

// ErrorHandler renders every error as {"msg": ...} with the mapped status code.
// Internal causes are logged, never returned to the client.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := statusOf(err)
		msg := apperr.Message(err)
		var fe *fiber.Error
		if errors.As(err, &fe) {
			msg = fe.Message
		}
		if status >= fiber.StatusInternalServerError && apperr.KindOf(err) == apperr.KindInternal {
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		}
		return c.Status(status).JSON(fiber.Map{"msg": msg})
	}
}
