// Package gateway fans workspace changes out to websocket clients. Clients
// subscribing to the same slice of the same workspace share one group, and
// each group holds one datasync stream no matter how many clients are in
// it.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tailored-agentic-units/mesh/config"
	"github.com/tailored-agentic-units/mesh/datasync"
	"github.com/tailored-agentic-units/mesh/groups"
	"github.com/tailored-agentic-units/mesh/hub"
	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/observability"
	"github.com/tailored-agentic-units/mesh/workspace"
)

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithObserver(observer observability.Observer) Option {
	return func(g *Gateway) {
		if observer != nil {
			g.observer = observer
		}
	}
}

// WithSubscribeTimeout bounds how long a subscribe frame waits for the
// initial snapshot.
func WithSubscribeTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.subscribeTimeout = timeout
		}
	}
}

type connection struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (c *connection) write(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteJSON(f)
}

// feed pumps one stream to the group's members. A member receives events
// only once primed with a Full event; priming and fan-out both hold mu, so
// every member sees its Full followed by exactly the events after it.
type feed struct {
	owner   messaging.Address
	groupID string
	stream  *datasync.Stream
	members func() []string
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	current any
	version string
	primed  map[string]bool
}

type Gateway struct {
	hub              *hub.Hub
	groups           *groups.Manager
	config           config.GatewayConfig
	upgrader         websocket.Upgrader
	subscribeTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*connection
	feeds map[string]*feed

	logger   *slog.Logger
	observer observability.Observer
}

// New serves websocket clients from h. h must be reachable by the workspace
// hosts it subscribes to, typically registered with the routing service.
func New(h *hub.Hub, manager *groups.Manager, cfg config.GatewayConfig, opts ...Option) *Gateway {
	g := &Gateway{
		hub:    h,
		groups: manager,
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
		subscribeTimeout: 10 * time.Second,
		conns:            make(map[string]*connection),
		feeds:            make(map[string]*feed),
		logger:           h.Logger(),
		observer:         h.Observer(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

func (g *Gateway) Hub() *hub.Hub { return g.hub }

// Connections counts open websocket connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.DebugContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &connection{
		id:           uuid.Must(uuid.NewV7()).String(),
		ws:           ws,
		writeTimeout: g.config.WriteTimeout.Std(),
	}
	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()

	ctx := r.Context()
	g.logger.DebugContext(ctx, "gateway connection opened", slog.String("connection", c.id), slog.String("remote", r.RemoteAddr))
	observability.Emit(ctx, g.observer, EventConnect, observability.LevelVerbose, "gateway", map[string]any{
		"connection": c.id,
	})
	defer g.disconnect(context.WithoutCancel(ctx), c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			g.frameError(ctx, c, Frame{}, fmt.Errorf("decode frame: %w", err))
			continue
		}
		if err := g.handle(ctx, c, f); err != nil {
			g.frameError(ctx, c, f, err)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, c *connection, f Frame) error {
	owner, err := messaging.ParseAddress(f.Address)
	if err != nil {
		return err
	}
	ref, err := workspace.ParseReference(f.Reference)
	if err != nil {
		return err
	}
	groupID := GroupID(owner.String(), ref.Key())

	switch f.Op {
	case OpSubscribe:
		sctx, cancel := context.WithTimeout(ctx, g.subscribeTimeout)
		defer cancel()
		if err := g.groups.Subscribe(sctx, c.id, groupID, g.upstream(owner, ref)); err != nil {
			return err
		}
		return g.prime(c, groupID)
	case OpUnsubscribe:
		g.unprime(c.id, groupID)
		return g.groups.Unsubscribe(ctx, c.id, groupID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, f.Op)
	}
}

func (g *Gateway) frameError(ctx context.Context, c *connection, f Frame, err error) {
	g.logger.DebugContext(
		ctx,
		"gateway frame rejected",
		slog.String("connection", c.id),
		slog.String("op", f.Op),
		slog.String("error", err.Error()),
	)
	observability.Emit(ctx, g.observer, EventFrameError, observability.LevelWarning, "gateway", map[string]any{
		"connection": c.id,
		"op":         f.Op,
		"error":      err.Error(),
	})
	c.write(Frame{Op: OpError, Address: f.Address, Reference: f.Reference, Error: err.Error()})
}

func (g *Gateway) disconnect(ctx context.Context, c *connection) {
	joined, err := g.groups.ConnectionGroups(ctx, c.id)
	if err != nil {
		g.logger.WarnContext(ctx, "gateway group lookup failed", slog.String("connection", c.id), slog.String("error", err.Error()))
	}
	for _, groupID := range joined {
		g.unprime(c.id, groupID)
	}
	if err := g.groups.UnsubscribeAll(ctx, c.id); err != nil {
		g.logger.WarnContext(ctx, "gateway unsubscribe failed", slog.String("connection", c.id), slog.String("error", err.Error()))
	}

	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()
	c.ws.Close()

	g.logger.DebugContext(ctx, "gateway connection closed", slog.String("connection", c.id))
	observability.Emit(ctx, g.observer, EventDisconnect, observability.LevelVerbose, "gateway", map[string]any{
		"connection": c.id,
	})
}

// Close drops every connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	conns := make([]*connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.ws.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// upstream opens the group's stream and starts pumping it.
func (g *Gateway) upstream(owner messaging.Address, ref workspace.Reference) groups.UpstreamFunc {
	return func(ctx context.Context, groupID string, members func() []string) (io.Closer, error) {
		stream, err := datasync.Subscribe(ctx, g.hub, owner, ref)
		if err != nil {
			return nil, err
		}

		pctx, cancel := context.WithCancel(g.hub.Context())
		f := &feed{
			owner:   owner,
			groupID: groupID,
			stream:  stream,
			members: members,
			cancel:  cancel,
			done:    make(chan struct{}),
			current: stream.Current(),
			version: stream.Version(),
			primed:  make(map[string]bool),
		}
		g.mu.Lock()
		g.feeds[groupID] = f
		g.mu.Unlock()

		go g.pump(pctx, f)
		return closerFunc(func() error {
			g.closeFeed(f)
			return nil
		}), nil
	}
}

func (g *Gateway) closeFeed(f *feed) {
	g.mu.Lock()
	if g.feeds[f.groupID] == f {
		delete(g.feeds, f.groupID)
	}
	g.mu.Unlock()

	f.cancel()
	f.stream.Close(context.Background())
	<-f.done
}

func (g *Gateway) pump(ctx context.Context, f *feed) {
	defer close(f.done)

	for {
		event, err := f.stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, datasync.ErrStreamClosed) {
				return
			}
			g.logger.WarnContext(ctx, "gateway feed event dropped", slog.String("group", f.groupID), slog.String("error", err.Error()))
			continue
		}
		g.fanOut(ctx, f, event)
	}
}

func (g *Gateway) fanOut(ctx context.Context, f *feed, event datasync.DataChangedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.current, f.version = f.stream.Current(), f.stream.Version()
	frame := Frame{
		Op:        OpEvent,
		Address:   f.owner.String(),
		Reference: f.stream.Reference().Key(),
		Event:     &event,
	}
	for _, id := range f.members() {
		if !f.primed[id] {
			continue
		}
		g.mu.Lock()
		c := g.conns[id]
		g.mu.Unlock()
		if c == nil {
			continue
		}
		if err := c.write(frame); err != nil {
			g.logger.DebugContext(ctx, "gateway write failed", slog.String("connection", id), slog.String("error", err.Error()))
		}
	}
}

// prime sends the connection the group's current replica as a Full event
// and enrols it for the events that follow.
func (g *Gateway) prime(c *connection, groupID string) error {
	g.mu.Lock()
	f := g.feeds[groupID]
	g.mu.Unlock()
	if f == nil {
		return fmt.Errorf("%w: %s", ErrNoFeed, groupID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.primed[c.id] = true
	event := datasync.DataChangedEvent{
		Reference:  workspace.RefOf(f.stream.Reference()),
		ChangeType: datasync.ChangeFull,
		Value:      f.current,
		Version:    f.version,
	}
	return c.write(Frame{
		Op:        OpEvent,
		Address:   f.owner.String(),
		Reference: f.stream.Reference().Key(),
		Event:     &event,
	})
}

func (g *Gateway) unprime(connectionID, groupID string) {
	g.mu.Lock()
	f := g.feeds[groupID]
	g.mu.Unlock()
	if f == nil {
		return
	}

	f.mu.Lock()
	delete(f.primed, connectionID)
	f.mu.Unlock()
}

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }
