package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/observability"
)

// Router resolves deliveries a hub cannot place itself. The routing service
// is the usual implementation; it is attached to the root of a hub tree.
type Router interface {
	Deliver(ctx context.Context, d *messaging.Delivery) *messaging.Delivery
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, d *messaging.Delivery) *messaging.Delivery

func (f RouterFunc) Deliver(ctx context.Context, d *messaging.Delivery) *messaging.Delivery {
	return f(ctx, d)
}

type Option func(*Hub)

func WithParent(parent *Hub) Option {
	return func(h *Hub) {
		h.parent.Store(parent)
	}
}

func WithRouter(router Router) Option {
	return func(h *Hub) {
		h.router = router
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithObserver(observer observability.Observer) Option {
	return func(h *Hub) {
		if observer != nil {
			h.observer = observer
		}
	}
}

// PostOption shapes an outgoing delivery.
type PostOption func(*postOptions)

type postOptions struct {
	builder *messaging.DeliveryBuilder
	timeout time.Duration
}

func To(target messaging.Address) PostOption {
	return func(o *postOptions) { o.builder.To(target) }
}

// From overrides the sender. AwaitResponse ignores it: replies must find
// their way back to the awaiting hub.
func From(sender messaging.Address) PostOption {
	return func(o *postOptions) { o.builder.From(sender) }
}

func CorrelatedWith(id string) PostOption {
	return func(o *postOptions) { o.builder.CorrelatedWith(id) }
}

func WithProperty(key string, value any) PostOption {
	return func(o *postOptions) { o.builder.Property(key, value) }
}

func WithMessageID(id string) PostOption {
	return func(o *postOptions) { o.builder.ID(id) }
}

// WithTimeout bounds AwaitResponse. It takes precedence over the context
// deadline and the configured default.
func WithTimeout(timeout time.Duration) PostOption {
	return func(o *postOptions) { o.timeout = timeout }
}
