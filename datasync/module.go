package datasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tailored-agentic-units/mesh/config"
	"github.com/tailored-agentic-units/mesh/hub"
	"github.com/tailored-agentic-units/mesh/mesh"
	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/observability"
	"github.com/tailored-agentic-units/mesh/workspace"
)

const (
	ModuleName    = "workspace"
	WorkspaceKind = "workspace"
)

type ModuleOption func(*moduleOptions)

type moduleOptions struct {
	kinds    []string
	seed     func(node mesh.Node) (any, error)
	hosts    func(*Host)
	observer observability.Observer
}

// WithKinds serves additional address kinds with workspace hubs.
func WithKinds(kinds ...string) ModuleOption {
	return func(o *moduleOptions) { o.kinds = append(o.kinds, kinds...) }
}

// WithSeed replaces the ContentPath loader for initial workspace content.
func WithSeed(seed func(node mesh.Node) (any, error)) ModuleOption {
	return func(o *moduleOptions) { o.seed = seed }
}

// WithSyncConfig sends workspace hub events to the observer named by
// cfg.Observer instead of the parent's. An unknown name keeps the parent's.
func WithSyncConfig(cfg config.SyncConfig) ModuleOption {
	return func(o *moduleOptions) {
		if obs, err := observability.GetObserver(cfg.Observer); err == nil {
			o.observer = obs
		}
	}
}

// WithHostHook is called with every host the module activates.
func WithHostHook(fn func(*Host)) ModuleOption {
	return func(o *moduleOptions) { o.hosts = fn }
}

// WorkspaceModule serves workspace hubs. Each activation seeds its store from
// the node's ContentPath, resolved against BasePath, when the file exists.
func WorkspaceModule(opts ...ModuleOption) mesh.Module {
	o := &moduleOptions{
		kinds: []string{WorkspaceKind},
		seed:  LoadContent,
	}
	for _, opt := range opts {
		opt(o)
	}

	return mesh.ModuleFunc(func(r *mesh.Registration) error {
		factory := func(_ context.Context, parent *hub.Hub, node mesh.Node, address messaging.Address) (*hub.Hub, error) {
			initial, err := o.seed(node)
			if err != nil {
				return nil, err
			}
			store, err := workspace.NewStore(initial)
			if err != nil {
				return nil, err
			}

			observer := o.observer
			if observer == nil {
				observer = parent.Observer()
			}
			h := hub.New(
				parent.Context(),
				address,
				parent.Config(),
				hub.WithLogger(parent.Logger()),
				hub.WithObserver(observer),
			)
			host := NewHost(h, store)
			if o.hosts != nil {
				o.hosts(host)
			}
			return h, nil
		}

		for _, kind := range o.kinds {
			if err := r.AddHubFactory(kind, factory); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadContent reads the JSON file named by the node's ContentPath. A node
// without content, or whose file does not exist yet, starts empty.
func LoadContent(node mesh.Node) (any, error) {
	if node.ContentPath == "" {
		return map[string]any{}, nil
	}
	path := node.ContentPath
	if !filepath.IsAbs(path) && node.BasePath != "" {
		path = filepath.Join(node.BasePath, path)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace content: %w", err)
	}

	var content any
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("decode workspace content %s: %w", path, err)
	}
	return content, nil
}
