package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/claims-gateway/claims_gateway/internal/config"
	"github.com/claims-gateway/claims_gateway/internal/infra"
	"github.com/claims-gateway/claims_gateway/internal/logging"
	"github.com/claims-gateway/claims_gateway/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName, cfg.AppEnv)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Development runs fall back to in-memory identities and no Redis when URLs are unset.
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" || !cfg.IsDev() {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := infra.Migrate(ctx, db); err != nil {
			logger.Error("migrate postgres", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory identity store")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" || !cfg.IsDev() {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set, login rate limit and idempotency disabled")
	}

	srv, err := server.New(cfg, db, cache, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}
	if err := srv.Start(ctx); err != nil {
		logger.Error("start background jobs", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()
	logger.Info("gateway listening",
		"addr", cfg.Address(),
		"downstream", cfg.DownstreamURL,
		"registration_policy", cfg.RegistrationPolicy,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
