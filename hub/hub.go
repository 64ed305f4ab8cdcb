package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailored-agentic-units/mesh/config"
	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/observability"
)

// PropertyExpectsResponse marks deliveries posted by AwaitResponse. A handler
// error on such a delivery is answered with a DeliveryFailure reply.
const PropertyExpectsResponse = "mesh.expectsResponse"

// Factory constructs a hosted hub for address under parent. It runs outside
// parent's locks, so the child may post through parent while it is built.
// ctx is never cancelled; the child lives until it or parent is disposed.
type Factory func(ctx context.Context, parent *Hub, address messaging.Address) (*Hub, error)

// Hub is an addressable mailbox. Deliveries are processed one at a time in
// arrival order by a single goroutine; handler-owned state needs no locks.
type Hub struct {
	address messaging.Address
	config  config.HubConfig
	parent  atomic.Pointer[Hub]
	router  Router

	mailbox *MessageChannel[*messaging.Delivery]

	handlers      []*registration
	handlersMutex sync.RWMutex
	nextHandlerID uint64

	responseChannels map[string]chan *messaging.Delivery
	responsesMutex   sync.Mutex

	hosted      map[messaging.Address]*Hub
	building    map[messaging.Address]chan struct{}
	hostedMutex sync.Mutex

	disposeHooks []func(*Hub)
	hooksMutex   sync.Mutex

	logger   *slog.Logger
	observer observability.Observer
	metrics  *Metrics

	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	disposed    atomic.Bool
	disposeOnce sync.Once
	disposeErr  error
}

func New(ctx context.Context, address messaging.Address, hubConfig config.HubConfig, opts ...Option) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)

	h := &Hub{
		address:          address,
		config:           hubConfig,
		mailbox:          NewMessageChannel[*messaging.Delivery](),
		responseChannels: make(map[string]chan *messaging.Delivery),
		hosted:           make(map[messaging.Address]*Hub),
		building:         make(map[messaging.Address]chan struct{}),
		logger:           slog.Default(),
		observer:         observability.NoOpObserver{},
		metrics:          NewMetrics(),
		ctx:              hubCtx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}

	if obs, err := observability.GetObserver(hubConfig.Observer); err == nil {
		h.observer = obs
	}
	for _, opt := range opts {
		opt(h)
	}

	go h.run()

	h.emit(hubCtx, EventHubCreate, observability.LevelVerbose, nil)
	return h
}

func (h *Hub) Address() messaging.Address { return h.address }

func (h *Hub) Parent() *Hub { return h.parent.Load() }

func (h *Hub) Config() config.HubConfig { return h.config }

func (h *Hub) Logger() *slog.Logger { return h.logger }

func (h *Hub) Observer() observability.Observer { return h.observer }

// Context is cancelled when the hub is disposed. Handlers run with it.
func (h *Hub) Context() context.Context { return h.ctx }

// Done is closed once the mailbox loop has exited.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) IsDisposed() bool { return h.disposed.Load() }

func (h *Hub) Metrics() MetricsSnapshot { return h.metrics.Snapshot() }

func (h *Hub) QueueLength() int { return h.mailbox.QueueLength() }

// Post sends payload and returns without waiting for processing. The result
// reports the routing outcome: Submitted to a mailbox, Forwarded by a router,
// or NotFound/Failed.
func (h *Hub) Post(ctx context.Context, payload any, opts ...PostOption) *messaging.Delivery {
	o := h.newPostOptions(payload, opts)
	return h.Deliver(ctx, o.builder.Build())
}

// Deliver routes an already built delivery: to this hub when untargeted or
// addressed here, to a hosted child, or up the parent chain to the nearest
// router.
func (h *Hub) Deliver(ctx context.Context, d *messaging.Delivery) *messaging.Delivery {
	h.metrics.RecordPosted()

	result := h.route(ctx, d)

	h.emit(ctx, EventPost, observability.LevelVerbose, map[string]any{
		"message_id": d.ID,
		"target":     d.Target.String(),
		"state":      result.State.String(),
	})
	if result.State.Failed() {
		h.logger.DebugContext(
			ctx,
			"delivery not placed",
			slog.String("address", h.address.String()),
			slog.String("target", d.Target.String()),
			slog.String("state", result.State.String()),
			slog.Any("error", result.Err),
		)
	}
	return result
}

func (h *Hub) route(ctx context.Context, d *messaging.Delivery) *messaging.Delivery {
	target := d.Target
	if target.IsZero() {
		return h.Enqueue(ctx, d)
	}

	for current := h; current != nil; current = current.Parent() {
		if current.address == target {
			return current.Enqueue(ctx, d)
		}
		if child := current.HostedHub(target); child != nil {
			return child.Enqueue(ctx, d)
		}
		if current.router != nil {
			return current.router.Deliver(ctx, d)
		}
	}

	return d.NotFound(fmt.Errorf("%w: %s", ErrNoRoute, target))
}

// Enqueue places d on this hub's mailbox. A reply whose correlation id matches
// a pending AwaitResponse is handed to the waiter instead, so a handler
// awaiting another hub still receives its answer.
func (h *Hub) Enqueue(ctx context.Context, d *messaging.Delivery) *messaging.Delivery {
	if h.disposed.Load() {
		return d.Failed(fmt.Errorf("%w: %s", ErrHubDisposed, h.address))
	}

	if d.CorrelationID != "" && h.resolveWaiter(d) {
		return d.Processed()
	}

	if err := h.mailbox.Send(d); err != nil {
		return d.Failed(fmt.Errorf("%w: %s", ErrHubDisposed, h.address))
	}
	return d
}

// AwaitResponse posts a request and waits for the reply correlated with its
// id. The deadline is WithTimeout, else the context deadline, else the
// configured default. On expiry the caller gets ErrCorrelationTimeout; the
// callee is not interrupted.
//
// A handler must not await a request addressed to its own hub: the request
// would queue behind the handler itself.
func (h *Hub) AwaitResponse(ctx context.Context, payload any, opts ...PostOption) (*messaging.Delivery, error) {
	o := h.newPostOptions(payload, opts)
	request := o.builder.
		From(h.address).
		Property(PropertyExpectsResponse, true).
		Build()

	responseChannel := make(chan *messaging.Delivery, 1)

	h.responsesMutex.Lock()
	if h.disposed.Load() {
		h.responsesMutex.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrHubDisposed, h.address)
	}
	h.responseChannels[request.ID] = responseChannel
	h.responsesMutex.Unlock()
	h.metrics.RecordPending(1)

	defer func() {
		h.responsesMutex.Lock()
		delete(h.responseChannels, request.ID)
		h.responsesMutex.Unlock()
		h.metrics.RecordPending(-1)
	}()

	result := h.Deliver(ctx, request)
	if result.State.Failed() {
		err := result.Err
		if err == nil {
			err = ErrNoRoute
		}
		return result, fmt.Errorf("deliver request to %s: %w", request.Target, err)
	}

	timeout := o.timeout
	if timeout <= 0 {
		if _, ok := ctx.Deadline(); !ok {
			timeout = h.config.DefaultTimeout.Std()
		}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case response := <-responseChannel:
		if response.Err != nil {
			return response, response.Err
		}
		if failure, ok := failureOf(response.Payload); ok {
			return response, failure
		}
		return response, nil
	case <-expired:
		h.timedOut(ctx, request, timeout)
		return nil, fmt.Errorf("%w: request %s after %v", ErrCorrelationTimeout, request.ID, timeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			h.timedOut(ctx, request, 0)
			return nil, fmt.Errorf("%w: request %s: %w", ErrCorrelationTimeout, request.ID, ctx.Err())
		}
		return nil, fmt.Errorf("await cancelled: %w", ctx.Err())
	}
}

// Await is AwaitResponse with the reply payload asserted to T.
func Await[T any](ctx context.Context, h *Hub, payload any, opts ...PostOption) (T, error) {
	var zero T

	response, err := h.AwaitResponse(ctx, payload, opts...)
	if err != nil {
		return zero, err
	}

	result, ok := response.Payload.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", ErrUnexpectedResponse, response.Payload, zero)
	}
	return result, nil
}

// Reply sends payload back to the sender of request, correlated with it.
func (h *Hub) Reply(ctx context.Context, request *messaging.Delivery, payload any) *messaging.Delivery {
	return h.Deliver(ctx, h.replyTo(request, payload))
}

// Fail answers request with a DeliveryFailure describing err.
func (h *Hub) Fail(ctx context.Context, request *messaging.Delivery, err error) *messaging.Delivery {
	return h.Reply(ctx, request, messaging.DeliveryFailure{
		Reason:  messaging.ReasonHandler,
		Message: err.Error(),
	})
}

func (h *Hub) replyTo(request *messaging.Delivery, payload any) *messaging.Delivery {
	return messaging.NewReply(request, payload).From(h.address).Build()
}

// GetHostedHub returns the child hub at address, creating it with factory on
// first use. One factory call runs per address at a time; concurrent callers
// wait for it and share its child. A failed build is not cached. The child
// lives until it or its parent is disposed.
func (h *Hub) GetHostedHub(ctx context.Context, address messaging.Address, factory Factory) (*Hub, error) {
	for {
		h.hostedMutex.Lock()
		if child, ok := h.hosted[address]; ok {
			h.hostedMutex.Unlock()
			return child, nil
		}
		if h.disposed.Load() {
			h.hostedMutex.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrHubDisposed, h.address)
		}
		if pending, ok := h.building[address]; ok {
			h.hostedMutex.Unlock()
			select {
			case <-pending:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		pending := make(chan struct{})
		h.building[address] = pending
		h.hostedMutex.Unlock()

		return h.build(ctx, address, factory, pending)
	}
}

func (h *Hub) build(ctx context.Context, address messaging.Address, factory Factory, pending chan struct{}) (*Hub, error) {
	child, err := factory(context.WithoutCancel(ctx), h, address)

	h.hostedMutex.Lock()
	delete(h.building, address)
	close(pending)

	if err != nil {
		h.hostedMutex.Unlock()
		return nil, err
	}
	if child == nil || child.address != address {
		h.hostedMutex.Unlock()
		if child != nil {
			child.Dispose(h.config.ShutdownTimeout.Std())
		}
		return nil, fmt.Errorf("%w: want %s", ErrAddressMismatch, address)
	}
	if h.disposed.Load() {
		h.hostedMutex.Unlock()
		child.Dispose(h.config.ShutdownTimeout.Std())
		return nil, fmt.Errorf("%w: %s", ErrHubDisposed, h.address)
	}
	if existing, ok := h.hosted[address]; ok && existing != child {
		// hosted directly while the factory ran
		h.hostedMutex.Unlock()
		child.Dispose(h.config.ShutdownTimeout.Std())
		return existing, nil
	}

	child.parent.Store(h)
	h.hosted[address] = child
	h.hostedMutex.Unlock()

	h.hostedAdded(ctx, child)
	return child, nil
}

// Host attaches a hub constructed elsewhere as a child. Hosting the same hub
// twice is a no-op; a different hub at the same address is rejected.
func (h *Hub) Host(ctx context.Context, child *Hub) error {
	h.hostedMutex.Lock()
	if h.disposed.Load() {
		h.hostedMutex.Unlock()
		return fmt.Errorf("%w: %s", ErrHubDisposed, h.address)
	}
	if existing, ok := h.hosted[child.address]; ok {
		h.hostedMutex.Unlock()
		if existing == child {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAlreadyHosted, child.address)
	}

	child.parent.Store(h)
	h.hosted[child.address] = child
	h.hostedMutex.Unlock()

	h.hostedAdded(ctx, child)
	return nil
}

func (h *Hub) hostedAdded(ctx context.Context, child *Hub) {
	h.metrics.RecordHostedHub(1)
	h.logger.DebugContext(
		ctx,
		"hosted hub attached",
		slog.String("address", h.address.String()),
		slog.String("hosted", child.address.String()),
	)
	h.emit(ctx, EventHubHosted, observability.LevelVerbose, map[string]any{
		"hosted": child.address.String(),
	})
}

// HostedHub returns the existing child at address or nil.
func (h *Hub) HostedHub(address messaging.Address) *Hub {
	h.hostedMutex.Lock()
	defer h.hostedMutex.Unlock()
	return h.hosted[address]
}

func (h *Hub) HostedHubs() []*Hub {
	h.hostedMutex.Lock()
	defer h.hostedMutex.Unlock()

	children := make([]*Hub, 0, len(h.hosted))
	for _, child := range h.hosted {
		children = append(children, child)
	}
	return children
}

func (h *Hub) removeHosted(child *Hub) {
	h.hostedMutex.Lock()
	defer h.hostedMutex.Unlock()

	if h.hosted[child.address] == child {
		delete(h.hosted, child.address)
		h.metrics.RecordHostedHub(-1)
	}
}

// OnDispose registers fn to run after the hub has been disposed.
func (h *Hub) OnDispose(fn func(*Hub)) {
	h.hooksMutex.Lock()
	defer h.hooksMutex.Unlock()
	h.disposeHooks = append(h.disposeHooks, fn)
}

// Dispose disposes hosted hubs depth-first, drains the mailbox, fails pending
// waiters with ErrHubDisposed and detaches the hub from its parent. It is
// idempotent and must not be called from one of the hub's own handlers.
func (h *Hub) Dispose(timeout time.Duration) error {
	h.disposeOnce.Do(func() {
		h.disposeErr = h.dispose(timeout)
	})
	return h.disposeErr
}

func (h *Hub) dispose(timeout time.Duration) error {
	h.logger.DebugContext(
		h.ctx,
		"disposing hub",
		slog.String("address", h.address.String()),
	)

	h.disposed.Store(true)

	var errs []error
	for _, child := range h.HostedHubs() {
		if err := child.Dispose(timeout); err != nil {
			errs = append(errs, err)
		}
	}

	h.mailbox.Close()
	select {
	case <-h.done:
	case <-time.After(timeout):
		errs = append(errs, fmt.Errorf("hub %s dispose timeout after %v", h.address, timeout))
	}
	h.cancel()

	h.failWaiters()

	h.hooksMutex.Lock()
	hooks := h.disposeHooks
	h.disposeHooks = nil
	h.hooksMutex.Unlock()
	for _, hook := range hooks {
		hook(h)
	}

	if parent := h.Parent(); parent != nil {
		parent.removeHosted(h)
	}

	h.emit(context.Background(), EventHubDispose, observability.LevelVerbose, nil)
	return errors.Join(errs...)
}

func (h *Hub) run() {
	defer close(h.done)

	for {
		d, err := h.mailbox.Receive(h.ctx)
		if err != nil {
			return
		}
		h.process(d)
	}
}

func (h *Hub) process(d *messaging.Delivery) {
	ctx := h.ctx

	handler := h.match(d)
	if handler == nil {
		h.metrics.RecordIgnored()
		h.logger.DebugContext(
			ctx,
			"delivery ignored",
			slog.String("address", h.address.String()),
			slog.String("message_id", d.ID),
			slog.String("payload", fmt.Sprintf("%T", d.Payload)),
		)
		h.emit(ctx, EventIgnored, observability.LevelVerbose, map[string]any{
			"message_id": d.ID,
		})
		return
	}

	response, err := h.invoke(ctx, handler, d)
	if err != nil {
		h.metrics.RecordFailed()
		h.logger.ErrorContext(
			ctx,
			"message handler failed",
			slog.String("address", h.address.String()),
			slog.String("message_id", d.ID),
			slog.String("from", d.Sender.String()),
			slog.String("error", err.Error()),
		)
		h.emit(ctx, EventFailed, observability.LevelError, map[string]any{
			"message_id": d.ID,
			"error":      err.Error(),
		})
		if expectsResponse(d) {
			h.Fail(ctx, d, err)
		}
		return
	}

	h.metrics.RecordProcessed()
	h.emit(ctx, EventProcessed, observability.LevelVerbose, map[string]any{
		"message_id": d.ID,
	})

	if response != nil {
		if result := h.Deliver(ctx, response); result.State.Failed() {
			h.logger.WarnContext(
				ctx,
				"failed to send response",
				slog.String("address", h.address.String()),
				slog.String("to", response.Target.String()),
				slog.Any("error", result.Err),
			)
		}
	}
}

func (h *Hub) resolveWaiter(d *messaging.Delivery) bool {
	h.responsesMutex.Lock()
	responseChannel, ok := h.responseChannels[d.CorrelationID]
	if ok {
		delete(h.responseChannels, d.CorrelationID)
	}
	h.responsesMutex.Unlock()

	if ok {
		responseChannel <- d
	}
	return ok
}

func (h *Hub) failWaiters() {
	h.responsesMutex.Lock()
	defer h.responsesMutex.Unlock()

	for id, responseChannel := range h.responseChannels {
		failure := messaging.NewDelivery(nil).
			From(h.address).
			CorrelatedWith(id).
			Build().
			Failed(fmt.Errorf("%w: %s", ErrHubDisposed, h.address))
		responseChannel <- failure
		delete(h.responseChannels, id)
	}
}

func (h *Hub) timedOut(ctx context.Context, request *messaging.Delivery, timeout time.Duration) {
	h.logger.WarnContext(
		ctx,
		"await response timed out",
		slog.String("address", h.address.String()),
		slog.String("target", request.Target.String()),
		slog.String("message_id", request.ID),
		slog.Duration("timeout", timeout),
	)
	h.emit(ctx, EventAwaitTimeout, observability.LevelWarning, map[string]any{
		"message_id": request.ID,
		"target":     request.Target.String(),
	})
}

func (h *Hub) newPostOptions(payload any, opts []PostOption) *postOptions {
	o := &postOptions{builder: messaging.NewDelivery(payload).From(h.address)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (h *Hub) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["address"] = h.address.String()
	observability.Emit(ctx, h.observer, typ, level, "hub", data)
}

func expectsResponse(d *messaging.Delivery) bool {
	v, ok := d.Property(PropertyExpectsResponse)
	if !ok {
		return false
	}
	expects, _ := v.(bool)
	return expects
}

func failureOf(payload any) (messaging.DeliveryFailure, bool) {
	switch f := payload.(type) {
	case messaging.DeliveryFailure:
		return f, true
	case *messaging.DeliveryFailure:
		if f != nil {
			return *f, true
		}
	}
	return messaging.DeliveryFailure{}, false
}
