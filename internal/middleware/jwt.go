package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/claims-gateway/claims_gateway/internal/apperr"
	"github.com/claims-gateway/claims_gateway/internal/auth"
	"github.com/claims-gateway/claims_gateway/internal/identity"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// JWTAuth validates the bearer token and stores the username and role in locals.
func JWTAuth(tokens TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return apperr.Auth("Missing Authorization Header")
		}
		claims, err := tokens.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return err
		}
		c.Locals(auth.LocalUsername, claims.Username())
		c.Locals(auth.LocalRole, claims.Role)
		return c.Next()
	}
}

// RequireAdmin rejects callers whose token does not carry the admin role. It must run
// after JWTAuth.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if role, _ := c.Locals(auth.LocalRole).(string); role != string(identity.RoleAdmin) {
			return apperr.Forbidden("Admin privileges required")
		}
		return c.Next()
	}
}
