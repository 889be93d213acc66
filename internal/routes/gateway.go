package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/claims-gateway/claims_gateway/internal/gateway"
)

// RegisterGatewayRoutes proxies every remaining path to the downstream service for
// authenticated callers. It must be registered after all local routes.
func RegisterGatewayRoutes(app *fiber.App, fwd *gateway.Forwarder, jwtmw fiber.Handler) {
	app.All("/*", jwtmw, gateway.NewHandler(fwd).Forward)
}
