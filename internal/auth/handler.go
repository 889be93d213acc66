package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/claims-gateway/claims_gateway/internal/apperr"
	"github.com/claims-gateway/claims_gateway/internal/identity"
)

// Handler exposes login and the current user's details.
type Handler struct {
	svc  *Service
	repo identity.Repository
}

func NewHandler(svc *Service, repo identity.Repository) *Handler {
	return &Handler{svc: svc, repo: repo}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login validates credentials and returns an access token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("Missing JSON in request")
	}
	session, err := h.svc.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"msg":          "Login successful",
		"access_token": session.AccessToken,
	})
}

// Details returns the profile of the authenticated user.
func (h *Handler) Details(c *fiber.Ctx) error {
	username, _ := c.Locals(LocalUsername).(string)
	if username == "" {
		return apperr.Auth("missing authorization")
	}
	ctx, cancel := h.storeContext(c)
	defer cancel()
	ident, err := h.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal("lookup identity", err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"username":   ident.Username,
		"email":      ident.Email,
		"mobile":     ident.Mobile,
		"first_name": ident.FirstName,
		"last_name":  ident.LastName,
	})
}

func (h *Handler) storeContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	if h.svc.storeTimeout > 0 {
		return context.WithTimeout(c.UserContext(), h.svc.storeTimeout)
	}
	return context.WithCancel(c.UserContext())
}

// Fiber locals set by the bearer middleware.
const (
	LocalUsername = "username"
	LocalRole     = "role"
)
