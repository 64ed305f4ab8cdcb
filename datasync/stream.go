package datasync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/mesh/hub"
	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/patch"
	"github.com/tailored-agentic-units/mesh/workspace"
)

// Stream is a client-side replica of one workspace slice. Events from the
// owner queue on the stream in arrival order; Next applies them one at a
// time.
type Stream struct {
	id     string
	hub    *hub.Hub
	owner  messaging.Address
	ref    workspace.Reference
	events *hub.MessageChannel[DataChangedEvent]

	unregister func()
	closeOnce  sync.Once

	mu      sync.RWMutex
	replica any
	version string
}

// Subscribe opens a stream on h for the slice ref of the workspace at owner
// and waits for the initial Full event. Streams are independent: several
// on one hub for the same slice each get every event, and closing one leaves
// the others subscribed.
func Subscribe(ctx context.Context, h *hub.Hub, owner messaging.Address, ref workspace.Reference) (*Stream, error) {
	s := &Stream{
		id:     uuid.Must(uuid.NewV7()).String(),
		hub:    h,
		owner:  owner,
		ref:    ref,
		events: hub.NewMessageChannel[DataChangedEvent](),
	}
	key := ref.Key()
	s.unregister = h.Register(
		func(d *messaging.Delivery) bool {
			event, ok := d.Payload.(DataChangedEvent)
			return ok && d.Sender == owner && event.Stream == s.id &&
				!event.Reference.IsZero() && event.Reference.Key() == key
		},
		func(ctx context.Context, d *messaging.Delivery, _ *hub.MessageContext) (*messaging.Delivery, error) {
			// a closed stream drops late events
			_ = s.events.Send(d.Payload.(DataChangedEvent))
			return nil, nil
		},
	)

	result := h.Post(ctx, SubscribeRequest{Reference: workspace.RefOf(ref), Stream: s.id}, hub.To(owner))
	if result.State.Failed() {
		s.unregister()
		return nil, fmt.Errorf("subscribe to %s at %s: %w", key, owner, result.Err)
	}

	event, err := s.Next(ctx)
	if err != nil {
		s.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	if event.ChangeType != ChangeFull {
		s.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("subscribe to %s: first event is %s, want %s", key, event.ChangeType, ChangeFull)
	}
	return s, nil
}

func (s *Stream) Owner() messaging.Address { return s.owner }

func (s *Stream) Reference() workspace.Reference { return s.ref }

// Current returns the replica as of the last event returned by Next.
func (s *Stream) Current() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replica
}

// Version is the content version of the replica.
func (s *Stream) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Next waits for the next event, applies it to the replica and returns it.
// After Close it returns ErrStreamClosed once the queue is drained.
func (s *Stream) Next(ctx context.Context) (DataChangedEvent, error) {
	event, err := s.events.Receive(ctx)
	if err != nil {
		if errors.Is(err, hub.ErrChannelClosed) {
			return DataChangedEvent{}, ErrStreamClosed
		}
		return DataChangedEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.ChangeType {
	case ChangeFull, ChangeInstance:
		s.replica = event.Value
	case ChangePatch:
		// the replica holds the slice; rebase the patch onto it
		rebased, err := rebase(event.Patch, s.ref.Path())
		if err != nil {
			return event, err
		}
		replica, err := patch.Apply(s.replica, rebased)
		if err != nil {
			return event, fmt.Errorf("apply %s event for %s: %w", event.ChangeType, s.ref.Key(), err)
		}
		s.replica = replica
	default:
		return event, fmt.Errorf("unknown change type %q", event.ChangeType)
	}
	s.version = event.Version
	return event, nil
}

// Update computes a change from the replica with fn and submits it to the
// owner as a patch based on the replica's version. The replica itself moves
// only when the resulting event arrives through Next.
func (s *Stream) Update(ctx context.Context, changedBy string, fn func(current any) (any, error)) (DataChangeResponse, error) {
	s.mu.RLock()
	current, base := s.replica, s.version
	s.mu.RUnlock()

	next, err := fn(current)
	if err != nil {
		return DataChangeResponse{}, err
	}
	next, err = patch.Normalize(next)
	if err != nil {
		return DataChangeResponse{}, err
	}

	p := patch.Diff(s.ref.Path(), current, next)
	if p.IsEmpty() {
		return DataChangeResponse{Status: StatusCommitted, Version: base}, nil
	}
	req := PatchChangeRequest{
		Address:     s.owner,
		Reference:   workspace.RefOf(s.ref),
		ChangeType:  ChangePatch,
		Patch:       p,
		BaseVersion: base,
		ChangedBy:   changedBy,
	}
	if len(p) == 1 && p[0].Path == s.ref.Path() {
		req.ChangeType, req.Patch, req.Value = ChangeInstance, nil, next
	}
	return SubmitChange(ctx, s.hub, req)
}

// Close unsubscribes from the owner and stops the stream.
func (s *Stream) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.unregister()
		s.hub.Post(ctx, UnsubscribeDataRequest{Reference: workspace.RefOf(s.ref), Stream: s.id}, hub.To(s.owner))
		s.events.Close()
	})
}

// SubmitChange sends req to req.Address and waits for the response. A
// Failed response is returned together with an error wrapping
// ErrChangeFailed, and workspace.ErrPatchConflict for a stale base.
func SubmitChange(ctx context.Context, h *hub.Hub, req PatchChangeRequest) (DataChangeResponse, error) {
	resp, err := hub.Await[DataChangeResponse](ctx, h, req, hub.To(req.Address))
	if err != nil {
		return resp, err
	}
	if resp.Committed() {
		return resp, nil
	}
	if resp.Reason == ReasonConflict {
		return resp, fmt.Errorf("%w: %w: %s", ErrChangeFailed, workspace.ErrPatchConflict, resp.Error)
	}
	return resp, fmt.Errorf("%w: %s: %s", ErrChangeFailed, resp.Reason, resp.Error)
}

// rebase strips prefix from every path in p.
func rebase(p patch.Patch, prefix string) (patch.Patch, error) {
	if prefix == "" {
		return p, nil
	}
	out := make(patch.Patch, len(p))
	for i, op := range p {
		if !patch.Within(op.Path, prefix) {
			return nil, fmt.Errorf("%w: %s not under %s", workspace.ErrOutsideReference, op.Path, prefix)
		}
		op.Path = op.Path[len(prefix):]
		out[i] = op
	}
	return out, nil
}
