package cmd

import (
	_ "embed" // Required for go:embed
	"fmt"

	"github.com/willowchat/realtime-service/realtimeservice/config"
	"gopkg.in/yaml.v3"
)

//go:embed realtimeservice/config.yaml
var configFile []byte

// Load parses the embedded configuration file for the service. Stage 2
// (environment overrides and validation) happens in the entrypoint.
func Load() (*config.AppConfig, error) {
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	return config.NewConfigFromYaml(&yamlCfg)
}
