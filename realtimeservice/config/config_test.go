package config_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willowchat/realtime-service/realtimeservice/config"
)

func baseYamlConfig() *config.YamlConfig {
	return &config.YamlConfig{
		ProjectID:     "yaml-project",
		RunMode:       "prod",
		APIPort:       "8080",
		WebSocketPort: "8081",
		Bus: config.YamlBusConfig{
			Type:  "redis",
			Redis: config.YamlRedisConfig{Addr: "yaml-redis:6379"},
			Nats:  config.YamlNatsConfig{URL: "nats://yaml-nats:4222"},
		},
		PresenceIndex: config.YamlPresenceIndexConfig{
			Type:  "redis",
			Redis: config.YamlRedisConfig{Addr: "yaml-redis:6379"},
		},
	}
}

func TestNewConfigFromYaml(t *testing.T) {
	t.Run("Success - maps all fields correctly from YAML struct", func(t *testing.T) {
		cfg, err := config.NewConfigFromYaml(baseYamlConfig())

		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, "prod", cfg.RunMode)
		assert.Equal(t, "8080", cfg.APIPort)
		assert.Equal(t, "8081", cfg.WebSocketPort)
		assert.Equal(t, "redis", cfg.Bus.Type)
		assert.Equal(t, "yaml-redis:6379", cfg.Bus.Redis.Addr)
		assert.Equal(t, "nats://yaml-nats:4222", cfg.Bus.Nats.URL)
		assert.Equal(t, "redis", cfg.PresenceIndex.Type)
		assert.Empty(t, cfg.JWTSecret, "secrets must not come from YAML")
	})
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("Success - env vars win over YAML values", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "env-secret")
		t.Setenv("API_PORT", "9090")
		t.Setenv("REDIS_ADDR", "env-redis:6379")
		t.Setenv("NATS_URL", "nats://env-nats:4222")

		cfg, err := config.NewConfigFromYaml(baseYamlConfig())
		require.NoError(t, err)

		cfg, err = config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, []byte("env-secret"), cfg.JWTSecret)
		assert.Equal(t, "9090", cfg.APIPort)
		assert.Equal(t, "8081", cfg.WebSocketPort)
		assert.Equal(t, "env-redis:6379", cfg.Bus.Redis.Addr)
		assert.Equal(t, "env-redis:6379", cfg.PresenceIndex.Redis.Addr)
		assert.Equal(t, "nats://env-nats:4222", cfg.Bus.Nats.URL)
	})

	t.Run("Failure - missing JWT secret", func(t *testing.T) {
		cfg, err := config.NewConfigFromYaml(baseYamlConfig())
		require.NoError(t, err)

		_, err = config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET")
	})

	t.Run("Failure - prod mode requires a project id", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "env-secret")

		yamlCfg := baseYamlConfig()
		yamlCfg.ProjectID = ""
		cfg, err := config.NewConfigFromYaml(yamlCfg)
		require.NoError(t, err)

		_, err = config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GCP_PROJECT_ID")
	})

	t.Run("Success - local mode does not require a project id", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "env-secret")

		yamlCfg := baseYamlConfig()
		yamlCfg.ProjectID = ""
		yamlCfg.RunMode = "local"
		cfg, err := config.NewConfigFromYaml(yamlCfg)
		require.NoError(t, err)

		_, err = config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)
	})
}
