package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/claims-gateway/claims_gateway/internal/auth"
	"github.com/claims-gateway/claims_gateway/internal/claims"
	"github.com/claims-gateway/claims_gateway/internal/config"
	"github.com/claims-gateway/claims_gateway/internal/gateway"
	"github.com/claims-gateway/claims_gateway/internal/identity"
	"github.com/claims-gateway/claims_gateway/internal/middleware"
	"github.com/claims-gateway/claims_gateway/internal/notification"
	"github.com/claims-gateway/claims_gateway/internal/registration"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Alerter overrides the Telegram alerter built from Cfg.
	Alerter notification.Alerter
}

// Services exposes the long-lived services that need startup work outside the router.
type Services struct {
	Auth         *auth.Service
	Registration *registration.Service
	Limiter      *middleware.RateLimiter
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	var identityRepo identity.Repository
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
	}

	authSvc := auth.NewService(identityRepo, d.Cfg.JWTSecret, d.Cfg.TokenTTL, d.Cfg.AppName, d.Cfg.StoreTimeout)
	regSvc, err := newRegistrationService(d, identityRepo, authSvc)
	if err != nil {
		return nil, err
	}
	limiter := middleware.NewRateLimiter(d.Cfg.RateLimitPerHour)
	metrics := middleware.NewMetrics("claims_gateway")

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(metrics.Middleware())
	if d.Cfg.IsDev() {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	} else {
		app.Use(middleware.Audit(d.Logger))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: d.Cfg.CORSAllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-Request-ID",
	}))
	app.Use(middleware.RateLimit(limiter, d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", metrics.Handler())
	app.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	jwtmw := middleware.JWTAuth(authSvc)
	authHandler := auth.NewHandler(authSvc, identityRepo)
	regHandler := registration.NewHandler(regSvc)
	RegisterAuthRoutes(app, AuthRoutes{
		Auth:         authHandler,
		Registration: regHandler,
		LoginLimit:   middleware.LoginRateLimit(d.Cache, d.Cfg.LoginLimitPerMin),
		Idempotency:  middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
	})
	RegisterUserRoutes(app, authHandler, regHandler, jwtmw)

	// Must be last: everything not matched above is proxied downstream.
	RegisterGatewayRoutes(app, gateway.NewForwarder(d.Cfg.DownstreamURL, d.Cfg.DownstreamTimeout), jwtmw)

	return &Services{Auth: authSvc, Registration: regSvc, Limiter: limiter}, nil
}

func newRegistrationService(d Deps, repo identity.Repository, tokens registration.TokenIssuer) (*registration.Service, error) {
	policy, err := registration.ParsePolicy(d.Cfg.RegistrationPolicy)
	if err != nil {
		return nil, err
	}
	channels := make([]identity.Channel, 0, len(d.Cfg.VerifyChannels))
	for _, name := range d.Cfg.VerifyChannels {
		ch, ok := identity.ParseChannel(name)
		if !ok {
			return nil, fmt.Errorf("invalid verification channel %q", name)
		}
		channels = append(channels, ch)
	}

	svc := registration.NewService(
		repo,
		newNotifier(d),
		tokens,
		claims.NewClient(d.Cfg.ClaimsAPIURL, d.Cfg.DownstreamTimeout),
		registration.Config{
			Policy:            policy,
			Channels:          channels,
			PendingTTL:        d.Cfg.PendingTTL,
			StoreTimeout:      d.Cfg.StoreTimeout,
			NotifyTimeout:     d.Cfg.NotifyTimeout,
			DownstreamTimeout: d.Cfg.DownstreamTimeout,
		},
		d.Logger,
	)

	alerter := d.Alerter
	if alerter == nil && d.Cfg.Telegram.Enabled() {
		tg, err := notification.NewTelegramAlerter(d.Cfg.Telegram.BotToken, d.Cfg.Telegram.AdminChatID)
		if err != nil {
			d.Logger.Warn("telegram alerts disabled", slog.Any("error", err))
		} else {
			alerter = tg
		}
	}
	if alerter != nil {
		svc.SetAlerter(alerter)
	}
	return svc, nil
}

// newNotifier routes codes to SMTP and Twilio when configured, logging them otherwise.
func newNotifier(d Deps) notification.Notifier {
	router := notification.NewRouter(notification.NewLoggerNotifier(d.Logger))
	if smtp := d.Cfg.SMTP; smtp.Enabled() {
		router.Handle(identity.ChannelEmail, notification.NewEmailNotifier(smtp.Host, smtp.Port, smtp.User, smtp.Password, smtp.From))
	} else if !d.Cfg.IsDev() {
		d.Logger.Warn("SMTP not configured, email codes will only be logged")
	}
	if tw := d.Cfg.Twilio; tw.Enabled() {
		router.Handle(identity.ChannelSMS, notification.NewTwilioNotifier(tw.AccountSID, tw.AuthToken, tw.From, tw.BaseURL, &http.Client{Timeout: d.Cfg.NotifyTimeout}))
	} else if !d.Cfg.IsDev() {
		d.Logger.Warn("Twilio not configured, SMS codes will only be logged")
	}
	return router
}
