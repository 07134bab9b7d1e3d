// Main entrypoint for the realtime service. Handles config loading,
// dependency injection, and starting the application.
package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/willowchat/realtime-service/cmd"
	"github.com/willowchat/realtime-service/internal/app"
	"github.com/willowchat/realtime-service/internal/middleware"
	"github.com/willowchat/realtime-service/realtimeservice/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "realtime-service").Logger()

	cfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg, err = config.UpdateConfigWithEnvOverrides(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to finalize configuration")
	}

	ctx := context.Background()
	platform, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}

	authMiddleware, err := middleware.NewJWTAuthMiddleware(cfg.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize authentication middleware")
	}

	services, err := cmd.BuildServices(ctx, cfg, platform, authMiddleware, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build services")
	}
	defer func() {
		if err := services.BusSub.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close bus subscription")
		}
	}()

	app.Run(ctx, logger, services.API, services.ConnManager)
}

// newDependencies builds the platform dependency container for the
// configured run mode.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*cmd.PlatformDependencies, error) {
	if cfg.RunMode == "local" {
		logger.Warn().Msg("Running in 'local' mode. All external dependencies will be faked.")
		return cmd.NewFakeDependencies(ctx, cfg, logger)
	}
	return cmd.NewProdDependencies(ctx, cfg, logger)
}
