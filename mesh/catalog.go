package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/observability"
)

// NodeFactory produces a node for an address the table does not know, or
// reports false.
type NodeFactory func(kind, id string) (Node, bool)

// KindFactory answers every id of kind with a copy of template bound to that
// id.
func KindFactory(kind string, template Node) NodeFactory {
	return func(k, id string) (Node, bool) {
		if k != kind {
			return Node{}, false
		}
		node := template
		node.AddressKind = kind
		node.AddressID = id
		return node, true
	}
}

type CatalogOption func(*Catalog)

func WithCatalogLogger(logger *slog.Logger) CatalogOption {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithCatalogObserver(observer observability.Observer) CatalogOption {
	return func(c *Catalog) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithFactories appends node factories in order.
func WithFactories(factories ...NodeFactory) CatalogOption {
	return func(c *Catalog) {
		c.factories = append(c.factories, factories...)
	}
}

type Catalog struct {
	nodes     map[messaging.Address]Node
	factories []NodeFactory
	mu        sync.RWMutex

	initOnce    sync.Once
	initErr     error
	initStarted atomic.Bool
	initDone    chan struct{}

	logger   *slog.Logger
	observer observability.Observer
}

func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		nodes:    make(map[messaging.Address]Node),
		initDone: make(chan struct{}),
		logger:   slog.Default(),
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetNode returns the registered node for (kind, id), else the first factory
// result. Absence is not an error here. While Initialize is running GetNode
// waits for it, so a lookup never misses a node a module is about to
// declare; the error is ctx's if it ends first.
func (c *Catalog) GetNode(ctx context.Context, kind, id string) (Node, bool, error) {
	if c.initStarted.Load() {
		select {
		case <-c.initDone:
		case <-ctx.Done():
			return Node{}, false, ctx.Err()
		}
	}

	c.mu.RLock()
	node, ok := c.nodes[messaging.NewAddress(kind, id)]
	factories := c.factories
	c.mu.RUnlock()

	if ok {
		return node, true, nil
	}
	for _, factory := range factories {
		if node, ok := factory(kind, id); ok {
			return node, true, nil
		}
	}
	return Node{}, false, nil
}

// Update registers node, replacing any previous node with the same key.
func (c *Catalog) Update(node Node) error {
	if err := node.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.nodes[node.Address()] = node
	c.mu.Unlock()

	observability.Emit(context.Background(), c.observer, EventNodeUpdate, observability.LevelVerbose, "mesh", map[string]any{
		"address": node.Address().String(),
		"module":  node.ModuleReference,
	})
	return nil
}

func (c *Catalog) AddFactory(factory NodeFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories = append(c.factories[:len(c.factories):len(c.factories)], factory)
}

// Nodes lists registered nodes ordered by address.
func (c *Catalog) Nodes() []Node {
	c.mu.RLock()
	defer c.mu.RUnlock()

	nodes := make([]Node, 0, len(c.nodes))
	for _, node := range c.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Address().String() < nodes[j].Address().String()
	})
	return nodes
}

// Initialize loads modules once and registers the nodes they declare. All
// declared nodes become visible together. Later calls return the result of
// the first.
func (c *Catalog) Initialize(ctx context.Context, loader *Loader, modules ...string) error {
	c.initOnce.Do(func() {
		c.initStarted.Store(true)
		defer close(c.initDone)
		c.initErr = c.initialize(ctx, loader, modules)
	})
	return c.initErr
}

func (c *Catalog) initialize(ctx context.Context, loader *Loader, modules []string) error {
	var declared []Node
	for _, name := range modules {
		loaded, err := loader.Load(ctx, name)
		if err != nil {
			return fmt.Errorf("initialize catalog: %w", err)
		}
		for _, node := range loaded.Nodes() {
			if node.ModuleReference == "" {
				node.ModuleReference = name
			}
			if err := node.Validate(); err != nil {
				return fmt.Errorf("initialize catalog: module %s: %w", name, err)
			}
			declared = append(declared, node)
		}
	}

	c.mu.Lock()
	for _, node := range declared {
		c.nodes[node.Address()] = node
	}
	c.mu.Unlock()

	c.logger.InfoContext(
		ctx,
		"catalog initialized",
		slog.Int("modules", len(modules)),
		slog.Int("nodes", len(declared)),
	)
	observability.Emit(ctx, c.observer, EventCatalogInitialize, observability.LevelInfo, "mesh", map[string]any{
		"modules": len(modules),
		"nodes":   len(declared),
	})
	return nil
}
