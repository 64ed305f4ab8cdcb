package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/tailored-agentic-units/mesh/observability"
)

type LoaderOption func(*Loader)

func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithLoaderObserver(observer observability.Observer) LoaderOption {
	return func(l *Loader) {
		if observer != nil {
			l.observer = observer
		}
	}
}

// Loader is the explicit plugin registry: modules are provided by name at
// startup and registered on first Load. Concurrent loads of the same module
// share one registration; failures are returned to every waiter and are not
// cached.
type Loader struct {
	provided map[string]Module
	loaded   map[string]*LoadedModule
	mu       sync.RWMutex
	group    singleflight.Group
	loads    atomic.Int64

	logger   *slog.Logger
	observer observability.Observer
}

func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		provided: make(map[string]Module),
		loaded:   make(map[string]*LoadedModule),
		logger:   slog.Default(),
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) Provide(name string, module Module) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.provided[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, name)
	}
	l.provided[name] = module
	return nil
}

func (l *Loader) Loaded(name string) (*LoadedModule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.loaded[name]
	return m, ok
}

// Load returns the loaded module, registering it on first use.
func (l *Loader) Load(ctx context.Context, name string) (*LoadedModule, error) {
	if m, ok := l.Loaded(name); ok {
		return m, nil
	}

	v, err, _ := l.group.Do(name, func() (any, error) {
		if m, ok := l.Loaded(name); ok {
			return m, nil
		}
		return l.register(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*LoadedModule), nil
}

func (l *Loader) register(ctx context.Context, name string) (*LoadedModule, error) {
	l.mu.RLock()
	module, ok := l.provided[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}

	reg := newRegistration(name)
	if err := module.Register(reg); err != nil {
		l.logger.ErrorContext(
			ctx,
			"module registration failed",
			slog.String("module", name),
			slog.String("error", err.Error()),
		)
		observability.Emit(ctx, l.observer, EventModuleFailed, observability.LevelError, "mesh", map[string]any{
			"module": name,
			"error":  err.Error(),
		})
		return nil, fmt.Errorf("%w: %s: %w", ErrModuleLoad, name, err)
	}

	loaded := reg.freeze()
	l.mu.Lock()
	l.loaded[name] = loaded
	l.mu.Unlock()
	l.loads.Add(1)

	l.logger.DebugContext(
		ctx,
		"module loaded",
		slog.String("module", name),
		slog.Any("kinds", loaded.Kinds()),
		slog.Int("nodes", len(loaded.nodes)),
	)
	observability.Emit(ctx, l.observer, EventModuleLoad, observability.LevelInfo, "mesh", map[string]any{
		"module": name,
		"kinds":  len(loaded.factories),
		"nodes":  len(loaded.nodes),
	})
	return loaded, nil
}

// Loads counts successful module registrations.
func (l *Loader) Loads() int64 {
	return l.loads.Load()
}

// Names lists provided module names.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.provided))
	for name := range l.provided {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
