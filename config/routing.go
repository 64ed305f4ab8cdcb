package config

// RoutingConfig defines the routing service and the catalog it resolves from.
type RoutingConfig struct {
	// Address is the "kind/id" of the routing service's own hub, the parent
	// of every activated hub.
	Address string `json:"address" toml:"address" env:"MESH_ROUTING_ADDRESS"`

	// NodesFile is an optional HCL file of mesh node descriptors.
	NodesFile string `json:"nodes_file" toml:"nodes_file" env:"MESH_ROUTING_NODES_FILE"`

	// Modules are loaded eagerly at startup; their declared nodes are
	// registered before the catalog serves lookups.
	Modules []string `json:"modules" toml:"modules" env:"MESH_ROUTING_MODULES"`
}

func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		Address: "mesh/root",
	}
}

func (c *RoutingConfig) Merge(source *RoutingConfig) {
	if source.Address != "" {
		c.Address = source.Address
	}

	if source.NodesFile != "" {
		c.NodesFile = source.NodesFile
	}

	if len(source.Modules) > 0 {
		c.Modules = source.Modules
	}
}
