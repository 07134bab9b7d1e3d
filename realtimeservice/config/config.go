// Package config holds the two-stage configuration for the realtime service:
// stage 1 maps the embedded YAML into a base AppConfig, stage 2 applies
// environment overrides and validates the result.
package config

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlNatsConfig struct {
	URL string `yaml:"url"`
}

// YamlBusConfig selects the cross-instance bus backend.
type YamlBusConfig struct {
	Type  string          `yaml:"type"` // "redis", "nats" or "memory"
	Redis YamlRedisConfig `yaml:"redis"`
	Nats  YamlNatsConfig  `yaml:"nats"`
}

// YamlPresenceIndexConfig selects the shared presence index backend.
type YamlPresenceIndexConfig struct {
	Type  string          `yaml:"type"` // "redis" or "memory"
	Redis YamlRedisConfig `yaml:"redis"`
}

type YamlFirebaseConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml
// file. Secrets never appear here; they arrive via environment overrides.
type YamlConfig struct {
	ProjectID     string                  `yaml:"project_id"`
	RunMode       string                  `yaml:"run_mode"`
	APIPort       string                  `yaml:"api_port"`
	WebSocketPort string                  `yaml:"websocket_port"`
	Bus           YamlBusConfig           `yaml:"bus"`
	PresenceIndex YamlPresenceIndexConfig `yaml:"presence_index"`
	Firebase      YamlFirebaseConfig      `yaml:"firebase"`
}

// AppConfig is the canonical, validated configuration object used throughout
// the application. It is created by NewConfigFromYaml (stage 1) and finalized
// by UpdateConfigWithEnvOverrides (stage 2).
type AppConfig struct {
	ProjectID     string
	RunMode       string
	APIPort       string
	WebSocketPort string
	Bus           YamlBusConfig
	PresenceIndex YamlPresenceIndexConfig
	Firebase      YamlFirebaseConfig
	JWTSecret     []byte
}

// NewConfigFromYaml converts the raw unmarshaled data into a base AppConfig.
// No environment overrides are applied yet.
func NewConfigFromYaml(yamlCfg *YamlConfig) (*AppConfig, error) {
	return &AppConfig{
		ProjectID:     yamlCfg.ProjectID,
		RunMode:       yamlCfg.RunMode,
		APIPort:       yamlCfg.APIPort,
		WebSocketPort: yamlCfg.WebSocketPort,
		Bus:           yamlCfg.Bus,
		PresenceIndex: yamlCfg.PresenceIndex,
		Firebase:      yamlCfg.Firebase,
	}, nil
}
