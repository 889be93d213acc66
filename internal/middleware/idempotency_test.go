package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/claims-gateway/claims_gateway/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *int, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	calls := 0
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/auth/register", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"msg": "User registered successfully", "n": calls})
	})
	app.Post("/boom", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"msg": "failed"})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}
	return app, &calls, cleanup
}

func post(t *testing.T, app *fiber.App, path, body, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	for i := 0; i < 2; i++ {
		if status, _ := post(t, app, "/auth/register", "{}", ""); status != fiber.StatusCreated {
			t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
		}
	}
	if *calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", *calls)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	status, payload := post(t, app, "/auth/register", `{"username":"alice"}`, "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// the replay must not invoke the handler again
	status2, cached := post(t, app, "/auth/register", `{"username":"alice"}`, "abc123")
	if status2 != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status2)
	}
	if cached != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cached)
	}
	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", *calls)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cached), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	post(t, app, "/auth/register", `{"username":"alice"}`, "k1")
	status, _ := post(t, app, "/auth/register", `{"username":"bob"}`, "k1")
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d", fiber.StatusUnprocessableEntity, status)
	}
}

func TestIdempotencyDoesNotCacheServerErrors(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	post(t, app, "/boom", "{}", "k2")
	post(t, app, "/boom", "{}", "k2")
	if *calls != 2 {
		t.Fatalf("expected 5xx responses to be retried, handler ran %d times", *calls)
	}
}

func TestIdempotencyNilCacheIsNoop(t *testing.T) {
	app := fiber.New()
	app.Use(Idempotency(nil, time.Minute, logging.Discard()))
	app.Post("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	if status, _ := post(t, app, "/x", "{}", "k3"); status != fiber.StatusNoContent {
		t.Fatalf("expected %d got %d", fiber.StatusNoContent, status)
	}
}
