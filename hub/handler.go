package hub

import (
	"context"
	"fmt"

	"github.com/tailored-agentic-units/mesh/messaging"
)

// MessageContext describes the hub a handler runs on.
type MessageContext struct {
	Hub     *Hub
	Address messaging.Address
}

// Handler processes one delivery. A non-nil returned delivery is posted
// after the handler completes, typically a reply built with
// messaging.NewReply.
type Handler func(
	ctx context.Context,
	delivery *messaging.Delivery,
	context *MessageContext,
) (*messaging.Delivery, error)

// Predicate selects the deliveries a handler accepts.
type Predicate func(d *messaging.Delivery) bool

// PayloadIs matches deliveries whose payload has dynamic type T.
func PayloadIs[T any]() Predicate {
	return func(d *messaging.Delivery) bool {
		_, ok := d.Payload.(T)
		return ok
	}
}

type registration struct {
	id        uint64
	predicate Predicate
	handler   Handler
}

// Register appends a handler. Handlers are tried in registration order and
// the first whose predicate matches wins. The returned func unregisters it.
func (h *Hub) Register(predicate Predicate, handler Handler) func() {
	h.handlersMutex.Lock()
	h.nextHandlerID++
	id := h.nextHandlerID
	h.handlers = append(h.handlers, &registration{
		id:        id,
		predicate: predicate,
		handler:   handler,
	})
	h.handlersMutex.Unlock()

	return func() {
		h.handlersMutex.Lock()
		defer h.handlersMutex.Unlock()
		for i, reg := range h.handlers {
			if reg.id == id {
				h.handlers = append(h.handlers[:i:i], h.handlers[i+1:]...)
				return
			}
		}
	}
}

// Handle registers a handler for payloads of type T. A non-nil result is
// sent back to the sender as a correlated reply.
func Handle[T any](h *Hub, fn func(ctx context.Context, payload T, d *messaging.Delivery) (any, error)) func() {
	return h.Register(PayloadIs[T](), func(ctx context.Context, d *messaging.Delivery, mc *MessageContext) (*messaging.Delivery, error) {
		result, err := fn(ctx, d.Payload.(T), d)
		if err != nil || result == nil {
			return nil, err
		}
		return mc.Hub.replyTo(d, result), nil
	})
}

func (h *Hub) match(d *messaging.Delivery) Handler {
	h.handlersMutex.RLock()
	defer h.handlersMutex.RUnlock()

	for _, reg := range h.handlers {
		if reg.predicate == nil || reg.predicate(d) {
			return reg.handler
		}
	}
	return nil
}

func (h *Hub) invoke(ctx context.Context, handler Handler, d *messaging.Delivery) (resp *messaging.Delivery, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, d, &MessageContext{Hub: h, Address: h.address})
}
