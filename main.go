package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdusco/shortly/internal/auth"
	"github.com/abdusco/shortly/internal/config"
	"github.com/abdusco/shortly/internal/db"
	"github.com/abdusco/shortly/internal/handler"
	"github.com/abdusco/shortly/internal/logger"
	"github.com/abdusco/shortly/internal/qr"
	"github.com/abdusco/shortly/internal/repo"
	"github.com/abdusco/shortly/internal/shortener"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse configuration from environment")
	}

	if err := logger.Setup(cfg.LogLevel, cfg.Debug); err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("failed to parse log level")
	}

	log.Info().
		Interface("config", cfg).
		Msg("current configuration")

	ctx := context.Background()
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Msg("starting application")

	credentials, err := auth.NewCredentials(cfg.AdminCreds)
	if err != nil {
		return fmt.Errorf("failed to parse admin credentials: %w", err)
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer conn.Close()

	usersRepo := repo.NewUsersRepo(conn)
	linksRepo := repo.NewLinksRepo(conn)
	clicksRepo := repo.NewClicksRepo(conn)

	authenticator := auth.NewAuthenticator(usersRepo, cfg.JWTSecret)
	if _, err := authenticator.EnsureUser(ctx, credentials); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	shortenerCfg := shortener.Config{
		CodeLength: cfg.CodeLength,
		MaxRetries: cfg.CodeMaxRetries,
	}
	assets := qr.NewManager(linksRepo, cfg.MediaDir)
	service := shortener.NewService(linksRepo, assets, shortenerCfg, cfg.BaseURL)
	resolver := shortener.NewResolver(linksRepo)

	e := echo.New()
	defer e.Close()

	e.HideBanner = true
	e.HidePort = true
	handler.ConfigureEcho(e)

	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handler.RegisterRoutes(e,
		handler.NewLinkHandler(service, resolver, clicksRepo, cfg.BaseURL),
		handler.NewAuthHandler(authenticator),
		auth.NewAuthMiddleware(authenticator),
	)

	log.Info().Str("address", cfg.Addr()).Str("base_url", cfg.BaseURL).Msg("server starting")

	return runServer(ctx, e, cfg.Addr())
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogUserAgent: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Error != nil {
				evt = log.Warn().Err(v.Error)
			}
			evt.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("user_agent", v.UserAgent).
				Msg("request")
			return nil
		},
	})
}

func runServer(ctx context.Context, e *echo.Echo, addr string) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(addr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, gracefully shutting down...")
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during graceful shutdown")
	}

	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
	return nil
}
