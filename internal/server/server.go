package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/claims-gateway/claims_gateway/internal/config"
	"github.com/claims-gateway/claims_gateway/internal/middleware"
	"github.com/claims-gateway/claims_gateway/internal/registration"
	"github.com/claims-gateway/claims_gateway/internal/routes"
)

const limiterCleanupInterval = 5 * time.Minute

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app      *fiber.App
	cfg      config.Config
	services *routes.Services
	logger   *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DownstreamTimeout + 5*time.Second,
		ErrorHandler: middleware.ErrorHandler(logger),
	})

	services, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, services: services, logger: logger}, nil
}

// Start seeds the admin account and launches background jobs that run until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if admin := s.cfg.Admin; admin.Enabled() {
		err := s.services.Registration.SeedAdmin(ctx, registration.AdminInput{
			Username: admin.Username,
			Password: admin.Password,
			Email:    admin.Email,
			Mobile:   admin.Mobile,
		})
		if err != nil {
			return err
		}
		s.logger.Info("admin account ready", slog.String("username", admin.Username))
	}

	go s.services.Limiter.StartCleanup(ctx, limiterCleanupInterval)
	if s.cfg.PendingTTL > 0 {
		go s.services.Registration.StartExpirySweeper(ctx, s.cfg.SweepInterval)
	}
	return nil
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
