package config

import "time"

// GatewayConfig defines the websocket fan-out gateway.
type GatewayConfig struct {
	Addr            string   `json:"addr" toml:"addr" env:"MESH_GATEWAY_ADDR"`
	Path            string   `json:"path" toml:"path" env:"MESH_GATEWAY_PATH"`
	Address         string   `json:"address" toml:"address" env:"MESH_GATEWAY_ADDRESS"`
	ReadBufferSize  int      `json:"read_buffer_size" toml:"read_buffer_size" env:"MESH_GATEWAY_READ_BUFFER_SIZE"`
	WriteBufferSize int      `json:"write_buffer_size" toml:"write_buffer_size" env:"MESH_GATEWAY_WRITE_BUFFER_SIZE"`
	WriteTimeout    Duration `json:"write_timeout" toml:"write_timeout" env:"MESH_GATEWAY_WRITE_TIMEOUT"`
	AllowedOrigins  []string `json:"allowed_origins" toml:"allowed_origins" env:"MESH_GATEWAY_ALLOWED_ORIGINS"`
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Addr:            ":8080",
		Path:            "/ws",
		Address:         "gateway/ws",
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteTimeout:    Duration(10 * time.Second),
	}
}

func (c *GatewayConfig) Merge(source *GatewayConfig) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}

	if source.Path != "" {
		c.Path = source.Path
	}

	if source.Address != "" {
		c.Address = source.Address
	}

	if source.ReadBufferSize > 0 {
		c.ReadBufferSize = source.ReadBufferSize
	}

	if source.WriteBufferSize > 0 {
		c.WriteBufferSize = source.WriteBufferSize
	}

	if source.WriteTimeout > 0 {
		c.WriteTimeout = source.WriteTimeout
	}

	if len(source.AllowedOrigins) > 0 {
		c.AllowedOrigins = source.AllowedOrigins
	}
}

// RemoteConfig defines cross-process delivery over Connect.
type RemoteConfig struct {
	Timeout Duration `json:"timeout" toml:"timeout" env:"MESH_REMOTE_TIMEOUT"`
}

func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{Timeout: Duration(15 * time.Second)}
}

func (c *RemoteConfig) Merge(source *RemoteConfig) {
	if source.Timeout > 0 {
		c.Timeout = source.Timeout
	}
}

// MetricsConfig defines Prometheus exposition.
type MetricsConfig struct {
	// EnabledNil toggles /metrics. Use Enabled() to read it; nil means true.
	EnabledNil *bool  `json:"enabled" toml:"enabled" env:"MESH_METRICS_ENABLED"`
	Path       string `json:"path" toml:"path" env:"MESH_METRICS_PATH"`
	Namespace  string `json:"namespace" toml:"namespace" env:"MESH_METRICS_NAMESPACE"`
}

func (c *MetricsConfig) Enabled() bool {
	if c.EnabledNil == nil {
		return true
	}
	return *c.EnabledNil
}

func DefaultMetricsConfig() MetricsConfig {
	enabled := true
	return MetricsConfig{
		EnabledNil: &enabled,
		Path:       "/metrics",
		Namespace:  "mesh",
	}
}

func (c *MetricsConfig) Merge(source *MetricsConfig) {
	if source.EnabledNil != nil {
		c.EnabledNil = source.EnabledNil
	}

	if source.Path != "" {
		c.Path = source.Path
	}

	if source.Namespace != "" {
		c.Namespace = source.Namespace
	}
}
