package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/claims-gateway/claims_gateway/internal/auth"
	"github.com/claims-gateway/claims_gateway/internal/middleware"
	"github.com/claims-gateway/claims_gateway/internal/registration"
)

// AuthRoutes groups the public /auth handlers and their guards.
type AuthRoutes struct {
	Auth         *auth.Handler
	Registration *registration.Handler
	LoginLimit   fiber.Handler
	Idempotency  fiber.Handler
}

// RegisterAuthRoutes wires the unauthenticated registration and login endpoints.
func RegisterAuthRoutes(r fiber.Router, h AuthRoutes) {
	group := r.Group("/auth")
	group.Post("/register", h.Idempotency, h.Registration.Register)
	group.Post("/login", h.LoginLimit, h.Auth.Login)
	group.Post("/verify", h.Registration.Verify)
	group.Post("/resend", h.Registration.Resend)
}

// RegisterUserRoutes wires the bearer-protected /user endpoints. Review endpoints
// additionally require the admin role.
func RegisterUserRoutes(r fiber.Router, authH *auth.Handler, regH *registration.Handler, jwtmw fiber.Handler) {
	group := r.Group("/user", jwtmw)
	group.Get("/details", authH.Details)

	admin := middleware.RequireAdmin()
	group.Post("/confirm", admin, regH.Confirm)
	group.Post("/reject", admin, regH.Reject)
	group.Post("/resync", admin, regH.Resync)
	group.Get("/tempusers", admin, regH.ListPending)
}
