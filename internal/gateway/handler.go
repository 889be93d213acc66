package gateway

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the catch-all passthrough route.
type Handler struct {
	fwd *Forwarder
}

func NewHandler(fwd *Forwarder) *Handler {
	return &Handler{fwd: fwd}
}

// Forward relays the current request downstream. It must be mounted on a wildcard route.
func (h *Handler) Forward(c *fiber.Ctx) error {
	header := make(http.Header)
	c.Request().Header.VisitAll(func(k, v []byte) {
		key := string(k)
		if strings.EqualFold(key, fiber.HeaderHost) {
			return
		}
		header.Add(key, string(v))
	})

	// Raw bytes: c.Body() decodes compressed bodies but Content-Encoding is forwarded as is.
	body := append([]byte(nil), c.Request().Body()...)

	resp, err := h.fwd.Forward(c.UserContext(), Request{
		Method:   c.Method(),
		Path:     c.Params("*"),
		RawQuery: string(c.Request().URI().QueryString()),
		Header:   header,
		Body:     body,
	})
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(resp.Status).Send(resp.Body)
}
