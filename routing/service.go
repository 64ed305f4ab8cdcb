// Package routing resolves target addresses to live hubs, activating them on
// demand from the mesh catalog.
//
// The service owns a root hub and is that hub's Router, so any hub in the
// tree that cannot place a delivery itself ends up here. Activated hubs are
// hosted under the root and cached by address. For any address at most one
// hub is ever constructed: concurrent first deliveries race on an atomic
// insert of a pending cache entry, the winner activates and the others wait
// for its result.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailored-agentic-units/mesh/config"
	"github.com/tailored-agentic-units/mesh/hub"
	"github.com/tailored-agentic-units/mesh/mesh"
	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/observability"
)

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(observer observability.Observer) Option {
	return func(s *Service) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// entry is a cache slot. ready is closed once hub or err is set.
type entry struct {
	ready chan struct{}
	hub   *hub.Hub
	err   error
}

type Service struct {
	root    *hub.Hub
	catalog *mesh.Catalog
	loader  *mesh.Loader
	config  config.Config

	cache       sync.Map
	activations atomic.Int64

	logger   *slog.Logger
	observer observability.Observer
}

func New(ctx context.Context, cfg config.Config, catalog *mesh.Catalog, loader *mesh.Loader, opts ...Option) (*Service, error) {
	address, err := messaging.ParseAddress(cfg.Routing.Address)
	if err != nil {
		return nil, fmt.Errorf("routing address: %w", err)
	}

	s := &Service{
		catalog:  catalog,
		loader:   loader,
		config:   cfg,
		logger:   slog.Default(),
		observer: observability.NoOpObserver{},
	}
	if obs, err := observability.GetObserver(cfg.Hub.Observer); err == nil {
		s.observer = obs
	}
	for _, opt := range opts {
		opt(s)
	}

	s.root = hub.New(
		ctx,
		address,
		cfg.Hub,
		hub.WithRouter(s),
		hub.WithLogger(s.logger),
		hub.WithObserver(s.observer),
	)
	return s, nil
}

// Root is the parent of every activated hub.
func (s *Service) Root() *hub.Hub { return s.root }

func (s *Service) Catalog() *mesh.Catalog { return s.catalog }

func (s *Service) Loader() *mesh.Loader { return s.loader }

// Activations counts hubs constructed by lazy activation.
func (s *Service) Activations() int64 { return s.activations.Load() }

// Deliver places d on the hub for its target, activating it if needed.
// Untargeted deliveries are returned unchanged. A target without a mesh node
// yields NotFound; other activation failures yield Failed. Both carry a
// RoutingError.
func (s *Service) Deliver(ctx context.Context, d *messaging.Delivery) *messaging.Delivery {
	if d.Target.IsZero() {
		return d
	}
	if d.Target == s.root.Address() {
		return s.root.Enqueue(ctx, d)
	}

	target, err := s.Resolve(ctx, d.Target)
	if err != nil {
		if errors.Is(err, ErrNodeNotFound) {
			return d.NotFound(err)
		}
		return d.Failed(err)
	}

	result := target.Enqueue(ctx, d)
	if result.State == messaging.StateSubmitted {
		return result.Forwarded()
	}
	return result
}

// Resolve returns the live hub for address, activating it on first use.
func (s *Service) Resolve(ctx context.Context, address messaging.Address) (*hub.Hub, error) {
	for {
		if v, ok := s.cache.Load(address); ok {
			e := v.(*entry)
			select {
			case <-e.ready:
				return e.hub, e.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		e := &entry{ready: make(chan struct{})}
		if _, loaded := s.cache.LoadOrStore(address, e); loaded {
			continue
		}

		e.hub, e.err = s.activate(ctx, address, e)
		if e.err != nil {
			s.cache.CompareAndDelete(address, e)
		}
		close(e.ready)
		return e.hub, e.err
	}
}

// Lookup returns a cached, fully activated hub without activating anything.
func (s *Service) Lookup(address messaging.Address) (*hub.Hub, bool) {
	v, ok := s.cache.Load(address)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	select {
	case <-e.ready:
		return e.hub, e.err == nil
	default:
		return nil, false
	}
}

// RegisterHub caches a hub created outside lazy activation. A hub without a
// parent is hosted under the root so it can route through this service.
func (s *Service) RegisterHub(ctx context.Context, h *hub.Hub) error {
	e := &entry{ready: make(chan struct{}), hub: h}
	close(e.ready)

	if existing, loaded := s.cache.LoadOrStore(h.Address(), e); loaded {
		if prior := existing.(*entry); prior.hub == h {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, h.Address())
	}

	if h.Parent() == nil {
		if err := s.root.Host(ctx, h); err != nil {
			s.cache.CompareAndDelete(h.Address(), e)
			return err
		}
	}
	s.evictOnDispose(h, e)

	s.logger.DebugContext(ctx, "hub registered", slog.String("address", h.Address().String()))
	observability.Emit(ctx, s.observer, EventRegister, observability.LevelVerbose, "routing", map[string]any{
		"address": h.Address().String(),
	})
	return nil
}

// Dispose tears down the root hub and every hub it hosts.
func (s *Service) Dispose(timeout time.Duration) error {
	return s.root.Dispose(timeout)
}

func (s *Service) activate(ctx context.Context, address messaging.Address, e *entry) (*hub.Hub, error) {
	node, ok, err := s.catalog.GetNode(ctx, address.Kind, address.ID)
	if err != nil {
		return nil, s.failure(ctx, address, StageResolve, err)
	}
	if !ok {
		return nil, s.failure(ctx, address, StageResolve, ErrNodeNotFound)
	}

	module, err := s.loader.Load(ctx, node.ModuleReference)
	if err != nil {
		return nil, s.failure(ctx, address, StageLoad, err)
	}

	factory, ok := module.HubFactory(address.Kind)
	if !ok {
		return nil, s.failure(ctx, address, StageFactory,
			fmt.Errorf("%w: %s in module %s", mesh.ErrFactoryNotFound, address.Kind, module.Name()))
	}

	// The activating request may end long before the hub does.
	h, err := factory(context.WithoutCancel(ctx), s.root, node, address)
	if err != nil {
		return nil, s.failure(ctx, address, StageConstruct, err)
	}
	if h == nil || h.Address() != address {
		if h != nil {
			h.Dispose(s.config.Hub.ShutdownTimeout.Std())
		}
		return nil, s.failure(ctx, address, StageConstruct, hub.ErrAddressMismatch)
	}
	if err := s.root.Host(ctx, h); err != nil {
		h.Dispose(s.config.Hub.ShutdownTimeout.Std())
		return nil, s.failure(ctx, address, StageConstruct, err)
	}
	s.evictOnDispose(h, e)

	s.activations.Add(1)
	s.logger.DebugContext(
		ctx,
		"hub activated",
		slog.String("address", address.String()),
		slog.String("module", module.Name()),
	)
	observability.Emit(ctx, s.observer, EventActivate, observability.LevelInfo, "routing", map[string]any{
		"address": address.String(),
		"module":  module.Name(),
	})
	return h, nil
}

func (s *Service) evictOnDispose(h *hub.Hub, e *entry) {
	h.OnDispose(func(disposed *hub.Hub) {
		if s.cache.CompareAndDelete(disposed.Address(), e) {
			observability.Emit(context.Background(), s.observer, EventEvict, observability.LevelVerbose, "routing", map[string]any{
				"address": disposed.Address().String(),
			})
		}
	})
}

func (s *Service) failure(ctx context.Context, address messaging.Address, stage string, err error) error {
	routingErr := &RoutingError{Address: address, Stage: stage, Err: err}

	s.logger.WarnContext(
		ctx,
		"hub activation failed",
		slog.String("address", address.String()),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	observability.Emit(ctx, s.observer, EventActivateFailed, observability.LevelWarning, "routing", map[string]any{
		"address": address.String(),
		"stage":   stage,
		"error":   err.Error(),
	})
	return routingErr
}
