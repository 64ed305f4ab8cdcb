package hub

import (
	"context"
	"sync"
	"sync/atomic"
)

// MessageChannel is an unbounded FIFO mailbox. Send never blocks, so a hub
// posting to itself from inside a handler cannot deadlock on its own queue.
type MessageChannel[T any] struct {
	mu     sync.Mutex
	queue  []T
	signal chan struct{}
	done   chan struct{}
	closed atomic.Int32
}

func NewMessageChannel[T any]() *MessageChannel[T] {
	return &MessageChannel[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (mc *MessageChannel[T]) Send(message T) error {
	mc.mu.Lock()
	if mc.closed.Load() == 1 {
		mc.mu.Unlock()
		return ErrChannelClosed
	}
	mc.queue = append(mc.queue, message)
	mc.mu.Unlock()

	select {
	case mc.signal <- struct{}{}:
	default:
	}
	return nil
}

// Receive blocks until a message is available. After Close, queued messages
// are still drained; ErrChannelClosed is returned once the queue is empty.
func (mc *MessageChannel[T]) Receive(ctx context.Context) (T, error) {
	for {
		if message, ok := mc.TryReceive(); ok {
			return message, nil
		}
		if mc.IsClosed() {
			if message, ok := mc.TryReceive(); ok {
				return message, nil
			}
			var zero T
			return zero, ErrChannelClosed
		}

		select {
		case <-mc.signal:
		case <-mc.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

func (mc *MessageChannel[T]) TryReceive() (T, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if len(mc.queue) == 0 {
		var zero T
		return zero, false
	}
	message := mc.queue[0]
	var zero T
	mc.queue[0] = zero
	mc.queue = mc.queue[1:]
	return message, true
}

func (mc *MessageChannel[T]) Close() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.closed.CompareAndSwap(0, 1) {
		close(mc.done)
	}
}

func (mc *MessageChannel[T]) IsClosed() bool {
	return mc.closed.Load() == 1
}

func (mc *MessageChannel[T]) QueueLength() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.queue)
}
