package config

import "time"

// HubConfig defines settings shared by every hub instance.
type HubConfig struct {
	// DefaultTimeout bounds AwaitResponse when neither the call nor its
	// context carries a deadline.
	DefaultTimeout Duration `json:"default_timeout" toml:"default_timeout" env:"MESH_HUB_DEFAULT_TIMEOUT"`

	// ShutdownTimeout bounds Dispose for hubs created from configuration.
	ShutdownTimeout Duration `json:"shutdown_timeout" toml:"shutdown_timeout" env:"MESH_HUB_SHUTDOWN_TIMEOUT"`

	// Observer names the observability.Observer hubs emit to ("noop", "slog", ...).
	Observer string `json:"observer" toml:"observer" env:"MESH_HUB_OBSERVER"`
}

// DefaultHubConfig returns a HubConfig with sensible defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		DefaultTimeout:  Duration(30 * time.Second),
		ShutdownTimeout: Duration(5 * time.Second),
		Observer:        "noop",
	}
}

func (c *HubConfig) Merge(source *HubConfig) {
	if source.DefaultTimeout > 0 {
		c.DefaultTimeout = source.DefaultTimeout
	}

	if source.ShutdownTimeout > 0 {
		c.ShutdownTimeout = source.ShutdownTimeout
	}

	if source.Observer != "" {
		c.Observer = source.Observer
	}
}
