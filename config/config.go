package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config aggregates every section a mesh node is started from.
type Config struct {
	Hub       HubConfig       `json:"hub" toml:"hub"`
	Routing   RoutingConfig   `json:"routing" toml:"routing"`
	Sync      SyncConfig      `json:"sync" toml:"sync"`
	Traversal TraversalConfig `json:"traversal" toml:"traversal"`
	Gateway   GatewayConfig   `json:"gateway" toml:"gateway"`
	Remote    RemoteConfig    `json:"remote" toml:"remote"`
	Metrics   MetricsConfig   `json:"metrics" toml:"metrics"`
}

// DefaultConfig returns a Config with defaults for every section.
func DefaultConfig() Config {
	return Config{
		Hub:       DefaultHubConfig(),
		Routing:   DefaultRoutingConfig(),
		Sync:      DefaultSyncConfig(),
		Traversal: DefaultTraversalConfig(),
		Gateway:   DefaultGatewayConfig(),
		Remote:    DefaultRemoteConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// Merge applies non-zero values from source, section by section.
func (c *Config) Merge(source *Config) {
	c.Hub.Merge(&source.Hub)
	c.Routing.Merge(&source.Routing)
	c.Sync.Merge(&source.Sync)
	c.Traversal.Merge(&source.Traversal)
	c.Gateway.Merge(&source.Gateway)
	c.Remote.Merge(&source.Remote)
	c.Metrics.Merge(&source.Metrics)
}

// LoadConfig reads a JSON or TOML file, merges it over DefaultConfig and
// applies environment overrides. An empty filename yields defaults plus the
// environment.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		loaded, err := decode(filename, data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		cfg.Merge(loaded)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyEnv overwrites fields whose MESH_* variable is set.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	return nil
}

func decode(filename string, data []byte) (*Config, error) {
	var loaded Config

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if err := toml.Unmarshal(data, &loaded); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, err
		}
	}

	return &loaded, nil
}
