// Package mesh describes what lives at an address and how to bring it to
// life.
//
// A Node is an immutable descriptor keyed by (kind, id). The Catalog answers
// lookups from its registration table first and then from an ordered list of
// NodeFactory functions. Nodes name a module; a Module registers, by explicit
// calls at startup, the HubFactory for each address kind it serves and any
// nodes it declares statically:
//
//	loader := mesh.NewLoader()
//	loader.Provide("workspace", datasync.WorkspaceModule(cfg))
//
//	catalog := mesh.NewCatalog()
//	if err := catalog.Initialize(ctx, loader, "workspace"); err != nil {
//	    return err
//	}
//
// Node descriptors can also be read from HCL:
//
//	node "workspace" "orders" {
//	  module       = "workspace"
//	  content_path = "${env.DATA_DIR}/orders.json"
//	}
package mesh
