package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tailored-agentic-units/mesh/cmd/meshd/internal"
	"github.com/tailored-agentic-units/mesh/config"
	"github.com/tailored-agentic-units/mesh/datasync"
	"github.com/tailored-agentic-units/mesh/gateway"
	"github.com/tailored-agentic-units/mesh/groups"
	"github.com/tailored-agentic-units/mesh/hub"
	"github.com/tailored-agentic-units/mesh/mesh"
	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/observability"
	"github.com/tailored-agentic-units/mesh/remote"
	"github.com/tailored-agentic-units/mesh/routing"
	"github.com/tailored-agentic-units/mesh/traverse"
	"github.com/tailored-agentic-units/mesh/typereg"
)

// ObserverName is the registered name of the daemon's combined observer.
const ObserverName = "meshd"

// Server is one assembled mesh node: routing, workspaces, remote ingress and
// the websocket gateway behind a single HTTP listener.
type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	service  *routing.Service
	gateway  *gateway.Gateway
	mux      *http.ServeMux
	http     *http.Server
}

// Build wires a Server from cfg. Nothing listens until Run.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	observers := []observability.Observer{observability.NewSlogObserver(logger)}
	if cfg.Metrics.Enabled() {
		metrics, err := observability.NewMetricsObserver(reg, cfg.Metrics.Namespace)
		if err != nil {
			return nil, fmt.Errorf("metrics observer: %w", err)
		}
		observers = append(observers, metrics)
	}
	observer := observability.NewMultiObserver(observers...)
	observability.RegisterObserver(ObserverName, observer)
	cfg.Hub.Observer = ObserverName
	cfg.Sync.Observer = ObserverName

	types := typereg.New()
	datasync.RegisterTypes(types)
	traverser := traverse.New(
		traverse.WithMaxDepth(cfg.Traversal.MaxDepth),
		traverse.WithLogger(logger),
		traverse.WithObserver(observer),
	)
	codec := messaging.NewCodec(types, traverser)

	loader := mesh.NewLoader(mesh.WithLoaderLogger(logger), mesh.WithLoaderObserver(observer))
	if err := loader.Provide(datasync.ModuleName, datasync.WorkspaceModule(datasync.WithSyncConfig(cfg.Sync))); err != nil {
		return nil, err
	}
	if err := loader.Provide(remote.ModuleName, remote.Module(codec, remote.NewHTTPClient(cfg.Remote))); err != nil {
		return nil, err
	}

	catalog := mesh.NewCatalog(
		mesh.WithCatalogLogger(logger),
		mesh.WithCatalogObserver(observer),
		mesh.WithFactories(mesh.KindFactory(datasync.WorkspaceKind, mesh.Node{ModuleReference: datasync.ModuleName})),
	)
	if cfg.Routing.NodesFile != "" {
		nodes, err := mesh.LoadNodesHCL(cfg.Routing.NodesFile, internal.EnvVars())
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			if err := catalog.Update(node); err != nil {
				return nil, err
			}
		}
	}
	if err := catalog.Initialize(ctx, loader, cfg.Routing.Modules...); err != nil {
		return nil, err
	}

	svc, err := routing.New(ctx, cfg, catalog, loader, routing.WithLogger(logger), routing.WithObserver(observer))
	if err != nil {
		return nil, err
	}

	gatewayAddress, err := messaging.ParseAddress(cfg.Gateway.Address)
	if err != nil {
		svc.Dispose(cfg.Hub.ShutdownTimeout.Std())
		return nil, fmt.Errorf("gateway address: %w", err)
	}
	gatewayHub := hub.New(ctx, gatewayAddress, cfg.Hub, hub.WithLogger(logger), hub.WithObserver(observer))
	if err := svc.RegisterHub(ctx, gatewayHub); err != nil {
		svc.Dispose(cfg.Hub.ShutdownTimeout.Std())
		return nil, err
	}

	manager := groups.New(groups.WithLogger(logger), groups.WithObserver(observer))
	gw := gateway.New(
		gatewayHub,
		manager,
		cfg.Gateway,
		gateway.WithLogger(logger),
		gateway.WithObserver(observer),
		gateway.WithSubscribeTimeout(cfg.Sync.RequestTimeout.Std()),
	)

	mux := http.NewServeMux()
	mux.Handle(cfg.Gateway.Path, gw)
	mux.Handle(remote.Handler(svc.Root(), codec))
	if cfg.Metrics.Enabled() {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		service:  svc,
		gateway:  gw,
		mux:      mux,
	}
	s.http = &http.Server{Addr: cfg.Gateway.Addr, Handler: mux}
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) Service() *routing.Service { return s.service }

func (s *Server) Gateway() *gateway.Gateway { return s.gateway }

// Run serves until ctx is cancelled, then shuts down within the hub
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "meshd listening", slog.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
	}

	s.logger.InfoContext(ctx, "meshd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Hub.ShutdownTimeout.Std())
	defer cancel()

	return errors.Join(serveErr, s.http.Shutdown(shutdownCtx), s.Close())
}

// Close stops the gateway and disposes every hub in the mesh.
func (s *Server) Close() error {
	return errors.Join(s.gateway.Close(), s.service.Dispose(s.cfg.Hub.ShutdownTimeout.Std()))
}
