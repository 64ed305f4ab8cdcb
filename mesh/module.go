package mesh

import (
	"context"
	"fmt"
	"sort"

	"github.com/tailored-agentic-units/mesh/hub"
	"github.com/tailored-agentic-units/mesh/messaging"
)

// HubFactory constructs the hub for address as a child of parent. It runs
// once per activation; the caller hosts the result under parent. ctx carries
// the activating request's values but is never cancelled, so a hub built on
// it lives until disposed. Hubs are usually built on parent.Context().
type HubFactory func(ctx context.Context, parent *hub.Hub, node Node, address messaging.Address) (*hub.Hub, error)

// Module contributes hub factories and statically declared nodes. Register
// is called once, when the module is first loaded.
type Module interface {
	Register(r *Registration) error
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(r *Registration) error

func (f ModuleFunc) Register(r *Registration) error {
	return f(r)
}

// Registration collects what a module declares while it is being loaded.
type Registration struct {
	name      string
	factories map[string]HubFactory
	fallback  HubFactory
	nodes     []Node
}

func newRegistration(name string) *Registration {
	return &Registration{
		name:      name,
		factories: make(map[string]HubFactory),
	}
}

// Name is the name the module was provided under.
func (r *Registration) Name() string {
	return r.name
}

func (r *Registration) AddHubFactory(kind string, factory HubFactory) error {
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("%w: %s in module %s", ErrDuplicateFactory, kind, r.name)
	}
	r.factories[kind] = factory
	return nil
}

// AddDefaultHubFactory serves every kind without its own factory.
func (r *Registration) AddDefaultHubFactory(factory HubFactory) {
	r.fallback = factory
}

// AddNode declares a node registered into the catalog on Initialize.
func (r *Registration) AddNode(node Node) {
	r.nodes = append(r.nodes, node)
}

// LoadedModule is the frozen result of a module registration.
type LoadedModule struct {
	name      string
	factories map[string]HubFactory
	fallback  HubFactory
	nodes     []Node
}

func (r *Registration) freeze() *LoadedModule {
	return &LoadedModule{
		name:      r.name,
		factories: r.factories,
		fallback:  r.fallback,
		nodes:     append([]Node(nil), r.nodes...),
	}
}

func (m *LoadedModule) Name() string {
	return m.name
}

func (m *LoadedModule) HubFactory(kind string) (HubFactory, bool) {
	if factory, ok := m.factories[kind]; ok {
		return factory, true
	}
	if m.fallback != nil {
		return m.fallback, true
	}
	return nil, false
}

func (m *LoadedModule) Nodes() []Node {
	return append([]Node(nil), m.nodes...)
}

// Kinds lists the address kinds with a dedicated factory.
func (m *LoadedModule) Kinds() []string {
	kinds := make([]string, 0, len(m.factories))
	for kind := range m.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
