package mesh

import (
	"fmt"

	"github.com/tailored-agentic-units/mesh/messaging"
)

// Node describes how to materialize the hub for one address.
type Node struct {
	AddressKind     string `json:"addressKind" toml:"address_kind" hcl:"kind,label"`
	AddressID       string `json:"addressId" toml:"address_id" hcl:"id,label"`
	BasePath        string `json:"basePath,omitempty" toml:"base_path" hcl:"base_path,optional"`
	ModuleReference string `json:"moduleReference,omitempty" toml:"module" hcl:"module,optional"`
	ContentPath     string `json:"contentPath,omitempty" toml:"content_path" hcl:"content_path,optional"`
}

func (n Node) Address() messaging.Address {
	return messaging.NewAddress(n.AddressKind, n.AddressID)
}

func (n Node) Validate() error {
	if n.AddressKind == "" || n.AddressID == "" {
		return fmt.Errorf("%w: kind and id are required, got %q/%q", ErrInvalidNode, n.AddressKind, n.AddressID)
	}
	return nil
}
