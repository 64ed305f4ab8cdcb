package mesh

import "github.com/tailored-agentic-units/mesh/observability"

const (
	EventModuleLoad        observability.EventType = "mesh.module_load"
	EventModuleFailed      observability.EventType = "mesh.module_failed"
	EventNodeUpdate        observability.EventType = "mesh.node_update"
	EventCatalogInitialize observability.EventType = "mesh.catalog_initialize"
)
