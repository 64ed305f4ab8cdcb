// Package config provides configuration structures for mesh components.
//
// Every section has a DefaultXConfig constructor and a Merge method so loaded
// configuration layers over defaults:
//
//	cfg := config.DefaultConfig()
//	var loaded config.Config
//	json.Unmarshal(data, &loaded)
//	cfg.Merge(&loaded)
//
// Merge semantics by field type:
//
//   - Strings: merged if the source is non-empty
//   - Integers and durations: merged if the source is greater than zero
//   - Slices: merged if the source is non-empty
//   - Pointers: merged if the source is non-nil
//   - Nested sections: recursive merge
//
// Boolean fields whose default is true use a *bool with a "Nil" suffix and an
// accessor with the plain name, so an omitted field keeps the default:
//
//	type MetricsConfig struct {
//	    EnabledNil *bool `json:"enabled"`
//	}
//
//	func (c *MetricsConfig) Enabled() bool
//
// LoadConfig reads JSON or TOML (by file extension), merges it over
// DefaultConfig and finally applies MESH_* environment variables.
//
// Configuration only exists during initialization. Components receive the
// section they need and never hold on to the aggregate.
package config
