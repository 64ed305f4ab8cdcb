package config

import "time"

// SyncConfig controls the data-sync protocol.
type SyncConfig struct {
	// RequestTimeout bounds subscribe and patch round trips made by streams.
	RequestTimeout Duration `json:"request_timeout" toml:"request_timeout" env:"MESH_SYNC_REQUEST_TIMEOUT"`

	// Observer names the observer used by data-sync hosts and streams.
	Observer string `json:"observer" toml:"observer" env:"MESH_SYNC_OBSERVER"`
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		RequestTimeout: Duration(10 * time.Second),
		Observer:       "noop",
	}
}

func (c *SyncConfig) Merge(source *SyncConfig) {
	if source.RequestTimeout > 0 {
		c.RequestTimeout = source.RequestTimeout
	}

	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// TraversalConfig bounds serialization traversal.
type TraversalConfig struct {
	// MaxDepth stops descent past this nesting level; deeper nodes are
	// emitted as null.
	MaxDepth int `json:"max_depth" toml:"max_depth" env:"MESH_TRAVERSAL_MAX_DEPTH"`
}

func DefaultTraversalConfig() TraversalConfig {
	return TraversalConfig{MaxDepth: 64}
}

func (c *TraversalConfig) Merge(source *TraversalConfig) {
	if source.MaxDepth > 0 {
		c.MaxDepth = source.MaxDepth
	}
}
