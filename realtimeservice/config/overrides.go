package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// UpdateConfigWithEnvOverrides completes stage 2 of configuration loading:
// environment variables win over the embedded YAML, then the result is
// validated.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Applying environment variable overrides...")

	override := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			logger.Debug().Str("key", key).Msg("Overriding config value from env.")
			*target = v
		}
	}

	override("GCP_PROJECT_ID", &cfg.ProjectID)
	override("API_PORT", &cfg.APIPort)
	override("WEBSOCKET_PORT", &cfg.WebSocketPort)
	override("REDIS_ADDR", &cfg.Bus.Redis.Addr)
	override("REDIS_ADDR", &cfg.PresenceIndex.Redis.Addr)
	override("NATS_URL", &cfg.Bus.Nats.URL)

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = []byte(secret)
	}

	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}
	if cfg.APIPort == "" {
		return nil, fmt.Errorf("api_port is not set in config or env var")
	}
	if cfg.WebSocketPort == "" {
		return nil, fmt.Errorf("websocket_port is not set in config or env var")
	}
	if cfg.RunMode == "prod" && cfg.ProjectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID is not set in config or env var")
	}

	logger.Debug().Msg("Configuration finalized and validated.")
	return cfg, nil
}
