package registration

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/claims-gateway/claims_gateway/internal/apperr"
	"github.com/claims-gateway/claims_gateway/internal/identity"
)

// Handler exposes registration and admin review endpoints.
type Handler struct {
	svc *Service
}

// NewHandler constructs a registration HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register handles self-service registration.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("Missing JSON in request")
	}
	reg, err := h.svc.Initiate(c.UserContext(), req)
	if err != nil {
		if reg.ID != "" && errors.Is(err, apperr.ErrDownstreamSync) {
			return c.Status(apperr.Status(err)).JSON(fiber.Map{"msg": apperr.Message(err), "user_id": reg.ID})
		}
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"msg":     "User registered successfully",
		"user_id": reg.ID,
	})
}

type verifyRequest struct {
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
	Code    string `json:"code"`
}

// Verify checks a one-time code and promotes the registration once every channel is verified.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("Missing JSON in request")
	}
	ch, ok := identity.ParseChannel(strings.ToLower(req.Channel))
	if req.UserID == "" || req.Code == "" || !ok {
		return apperr.Validation("Missing required fields")
	}

	p, err := h.svc.VerifyCode(c.UserContext(), req.UserID, ch, req.Code)
	if err != nil {
		return err
	}
	promoted := false
	if h.svc.Policy() == PolicyCodeVerification && h.svc.FullyVerified(p) {
		// NotFound means a concurrent verification already promoted it.
		if _, err := h.svc.Promote(c.UserContext(), p.ID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		promoted = true
	}

	msg := "Verification successful"
	if promoted {
		msg = "Verification complete, user confirmed"
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"msg":             msg,
		"email_verified":  p.EmailVerified,
		"mobile_verified": p.MobileVerified,
		"promoted":        promoted,
	})
}

type resendRequest struct {
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
}

// Resend issues a fresh code for a channel.
func (h *Handler) Resend(c *fiber.Ctx) error {
	var req resendRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("Missing JSON in request")
	}
	ch, ok := identity.ParseChannel(strings.ToLower(req.Channel))
	if req.UserID == "" || !ok {
		return apperr.Validation("Missing required fields")
	}
	if err := h.svc.ResendCode(c.UserContext(), req.UserID, ch); err != nil {
		return err
	}
	msg := "Verification email sent. Check your inbox."
	if ch == identity.ChannelSMS {
		msg = "Verification SMS sent. Check your phone for the verification code."
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"msg": msg})
}

type usernameRequest struct {
	Username string `json:"username"`
}

func parseUsername(c *fiber.Ctx) (string, error) {
	var req usernameRequest
	if err := c.BodyParser(&req); err != nil {
		return "", apperr.Validation("Missing JSON in request")
	}
	if req.Username = strings.TrimSpace(req.Username); req.Username == "" {
		return "", apperr.Validation("Missing required fields")
	}
	return req.Username, nil
}

// Confirm approves a pending user and creates the downstream policyholder.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	username, err := parseUsername(c)
	if err != nil {
		return err
	}
	if _, err := h.svc.Confirm(c.UserContext(), username); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"msg": "User confirmed successfully and placeholder created"})
}

// Reject refuses a pending user.
func (h *Handler) Reject(c *fiber.Ctx) error {
	username, err := parseUsername(c)
	if err != nil {
		return err
	}
	if err := h.svc.Reject(c.UserContext(), username); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"msg": "User rejected"})
}

// Resync retries policyholder creation for an accepted user.
func (h *Handler) Resync(c *fiber.Ctx) error {
	username, err := parseUsername(c)
	if err != nil {
		return err
	}
	if _, err := h.svc.Resync(c.UserContext(), username); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"msg": "Policyholder created"})
}

type pendingView struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Mobile         string    `json:"mobile"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Age            int       `json:"age"`
	EmailVerified  bool      `json:"email_verified"`
	MobileVerified bool      `json:"mobile_verified"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListPending returns pending registrations without password hashes or codes.
func (h *Handler) ListPending(c *fiber.Ctx) error {
	pending, err := h.svc.ListPending(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]pendingView, 0, len(pending))
	for _, p := range pending {
		out = append(out, pendingView{
			ID:             p.ID,
			Username:       p.Username,
			Email:          p.Email,
			Mobile:         p.Mobile,
			FirstName:      p.FirstName,
			LastName:       p.LastName,
			Age:            p.Age,
			EmailVerified:  p.EmailVerified,
			MobileVerified: p.MobileVerified,
			CreatedAt:      p.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(out)
}
