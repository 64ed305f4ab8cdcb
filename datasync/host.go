package datasync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tailored-agentic-units/mesh/hub"
	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/observability"
	"github.com/tailored-agentic-units/mesh/patch"
	"github.com/tailored-agentic-units/mesh/workspace"
)

type subscription struct {
	subscriber messaging.Address
	ref        workspace.Reference
	stream     string
}

// name is the subscription as Subscribers reports it.
func (s *subscription) name() string {
	return s.subscriber.String() + "|" + s.ref.Key()
}

func subscriptionKey(subscriber messaging.Address, ref workspace.Reference, stream string) string {
	key := subscriber.String() + "|" + ref.Key()
	if stream != "" {
		key += "|" + stream
	}
	return key
}

// localUpdate and subscribersQuery only travel between a Host and its own
// hub.
type localUpdate struct {
	fn        func(data any) (any, error)
	changedBy string
}

type subscribersQuery struct{}

// Host serves a workspace store from a hub. The subscription table is owned
// by the hub's handlers, so the mailbox orders every read and write of it
// and every store commit.
type Host struct {
	hub   *hub.Hub
	store *workspace.Store
	subs  map[string]*subscription

	unregister []func()
}

// NewHost attaches the protocol handlers for store to h.
func NewHost(h *hub.Hub, store *workspace.Store) *Host {
	host := &Host{
		hub:   h,
		store: store,
		subs:  make(map[string]*subscription),
	}
	host.unregister = []func(){
		hub.Handle(h, host.handleSubscribe),
		hub.Handle(h, host.handleUnsubscribe),
		hub.Handle(h, host.handleChange),
		hub.Handle(h, host.handleLocalUpdate),
		hub.Handle(h, host.handleSubscribersQuery),
	}
	return host
}

func (host *Host) Hub() *hub.Hub { return host.hub }

func (host *Host) Store() *workspace.Store { return host.store }

// Close detaches the handlers. Existing subscribers receive nothing further.
func (host *Host) Close() {
	for _, fn := range host.unregister {
		fn()
	}
}

// Update commits fn's result as a local change. It runs through the hub's
// mailbox like any remote change, so subscribers see it in commit order.
// Update must not be called from one of the host hub's own handlers.
func (host *Host) Update(ctx context.Context, changedBy string, fn func(data any) (any, error)) (DataChangeResponse, error) {
	return hub.Await[DataChangeResponse](ctx, host.hub, localUpdate{fn: fn, changedBy: changedBy}, hub.To(host.hub.Address()))
}

// Subscribers lists the host's subscriptions as "subscriber|reference",
// sorted. A subscriber holding two streams on one slice appears twice.
func (host *Host) Subscribers(ctx context.Context) ([]string, error) {
	return hub.Await[[]string](ctx, host.hub, subscribersQuery{}, hub.To(host.hub.Address()))
}

func (host *Host) handleSubscribe(ctx context.Context, req SubscribeRequest, d *messaging.Delivery) (any, error) {
	if req.Reference.IsZero() {
		return nil, fmt.Errorf("%w: subscribe without reference", workspace.ErrInvalidReference)
	}
	ref := req.Reference.Reference
	sub := &subscription{subscriber: d.Sender, ref: ref, stream: req.Stream}
	host.subs[subscriptionKey(d.Sender, ref, req.Stream)] = sub

	host.hub.Logger().DebugContext(
		ctx,
		"workspace subscription added",
		slog.String("address", host.hub.Address().String()),
		slog.String("subscriber", d.Sender.String()),
		slog.String("reference", ref.Key()),
	)
	host.emit(ctx, EventSubscribe, observability.LevelVerbose, map[string]any{
		"subscriber": d.Sender.String(),
		"reference":  ref.Key(),
	})

	data := host.store.Current().Data
	version, err := workspace.VersionOf(data, ref)
	if err != nil {
		return nil, err
	}
	host.send(ctx, sub, DataChangedEvent{
		Reference:  workspace.RefOf(ref),
		ChangeType: ChangeFull,
		Value:      ref.Get(data),
		Version:    version,
	})
	return nil, nil
}

func (host *Host) handleUnsubscribe(ctx context.Context, req UnsubscribeDataRequest, d *messaging.Delivery) (any, error) {
	if req.Reference.IsZero() {
		return nil, nil
	}
	key := subscriptionKey(d.Sender, req.Reference.Reference, req.Stream)
	if _, ok := host.subs[key]; !ok {
		return nil, nil
	}
	delete(host.subs, key)

	host.emit(ctx, EventUnsubscribe, observability.LevelVerbose, map[string]any{
		"subscriber": d.Sender.String(),
		"reference":  req.Reference.Key(),
	})
	return nil, nil
}

func (host *Host) handleChange(ctx context.Context, req PatchChangeRequest, d *messaging.Delivery) (any, error) {
	if req.Reference.IsZero() {
		return host.reject(ctx, req, ReasonInvalid, workspace.ErrInvalidReference), nil
	}
	ref := req.Reference.Reference

	current := host.store.Current()
	if req.BaseVersion == "" {
		host.hub.Logger().DebugContext(
			ctx,
			"unconditional workspace write",
			slog.String("address", host.hub.Address().String()),
			slog.String("sender", d.Sender.String()),
			slog.String("reference", ref.Key()),
		)
		host.emit(ctx, EventUnconditionalWrite, observability.LevelVerbose, map[string]any{
			"sender":    d.Sender.String(),
			"reference": ref.Key(),
		})
	} else {
		version, err := workspace.VersionOf(current.Data, ref)
		if err != nil {
			return nil, err
		}
		if version != req.BaseVersion {
			return host.reject(ctx, req, ReasonConflict, fmt.Errorf(
				"%w: %s is at %s, change based on %s", workspace.ErrPatchConflict, ref.Key(), version, req.BaseVersion,
			)), nil
		}
	}

	changedBy := req.ChangedBy
	if changedBy == "" {
		changedBy = d.Sender.String()
	}

	var (
		prev, next *workspace.Snapshot
		err        error
	)
	switch req.ChangeType {
	case ChangePatch:
		for _, op := range req.Patch {
			if !patch.Within(op.Path, ref.Path()) {
				return host.reject(ctx, req, ReasonOutsideReference, fmt.Errorf(
					"%w: %s not under %s", workspace.ErrOutsideReference, op.Path, ref.Path(),
				)), nil
			}
		}
		if req.Patch.IsEmpty() {
			return host.committed(current.Data, ref)
		}
		prev, next, err = host.store.ApplyPatch(req.Patch)
	case ChangeInstance, ChangeFull:
		prev, next, err = host.store.Set(ref, req.Value)
	default:
		return host.reject(ctx, req, ReasonInvalid, fmt.Errorf("unsupported change type %q", req.ChangeType)), nil
	}
	if err != nil {
		return host.reject(ctx, req, ReasonInvalid, err), nil
	}

	host.publish(ctx, prev, next, changedBy)
	return host.committed(next.Data, ref)
}

func (host *Host) handleLocalUpdate(ctx context.Context, req localUpdate, d *messaging.Delivery) (any, error) {
	prev, next, err := host.store.Commit(req.fn)
	if err != nil {
		return DataChangeResponse{Status: StatusFailed, Reason: ReasonInvalid, Error: err.Error()}, nil
	}
	host.publish(ctx, prev, next, req.changedBy)
	return host.committed(next.Data, workspace.PathReference{})
}

func (host *Host) handleSubscribersQuery(ctx context.Context, _ subscribersQuery, d *messaging.Delivery) (any, error) {
	names := make([]string, 0, len(host.subs))
	for _, sub := range host.subs {
		names = append(names, sub.name())
	}
	sort.Strings(names)
	return names, nil
}

func (host *Host) committed(data any, ref workspace.Reference) (any, error) {
	version, err := workspace.VersionOf(data, ref)
	if err != nil {
		return nil, err
	}
	return DataChangeResponse{Status: StatusCommitted, Version: version}, nil
}

func (host *Host) reject(ctx context.Context, req PatchChangeRequest, reason string, err error) DataChangeResponse {
	host.hub.Logger().InfoContext(
		ctx,
		"workspace change rejected",
		slog.String("address", host.hub.Address().String()),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	data := map[string]any{
		"reason": reason,
		"error":  err.Error(),
	}
	if !req.Reference.IsZero() {
		data["reference"] = req.Reference.Key()
	}
	host.emit(ctx, EventRejected, observability.LevelWarning, data)
	return DataChangeResponse{Status: StatusFailed, Reason: reason, Error: err.Error()}
}

// publish sends each subscriber the change to its slice. Subscribers are
// visited in key order; an unchanged slice produces no event.
func (host *Host) publish(ctx context.Context, prev, next *workspace.Snapshot, changedBy string) {
	host.emit(ctx, EventCommit, observability.LevelInfo, map[string]any{
		"version":    next.Version,
		"changed_by": changedBy,
	})

	keys := make([]string, 0, len(host.subs))
	for key := range host.subs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		sub := host.subs[key]
		event, ok, err := changeFor(sub.ref, prev.Data, next.Data)
		if err != nil {
			host.hub.Logger().WarnContext(
				ctx,
				"computing workspace change failed",
				slog.String("address", host.hub.Address().String()),
				slog.String("reference", sub.ref.Key()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}
		event.ChangedBy = changedBy
		if !host.send(ctx, sub, event) {
			delete(host.subs, key)
		}
	}
}

// changeFor diffs the slice ref addresses. A change replacing the slice
// whole is reported as an Instance.
func changeFor(ref workspace.Reference, prev, next any) (DataChangedEvent, bool, error) {
	from, to := ref.Get(prev), ref.Get(next)
	p := patch.Diff(ref.Path(), from, to)
	if p.IsEmpty() {
		return DataChangedEvent{}, false, nil
	}

	version, err := workspace.ContentVersion(to)
	if err != nil {
		return DataChangedEvent{}, false, err
	}
	event := DataChangedEvent{
		Reference: workspace.RefOf(ref),
		Version:   version,
	}
	if len(p) == 1 && p[0].Path == ref.Path() {
		event.ChangeType = ChangeInstance
		event.Value = to
	} else {
		event.ChangeType = ChangePatch
		event.Patch = p
	}
	return event, true, nil
}

// send posts event to the subscriber and reports whether it is still
// reachable.
func (host *Host) send(ctx context.Context, sub *subscription, event DataChangedEvent) bool {
	event.Stream = sub.stream
	result := host.hub.Post(ctx, event, hub.To(sub.subscriber))
	if result.State != messaging.StateNotFound && !errors.Is(result.Err, hub.ErrHubDisposed) {
		return true
	}

	host.hub.Logger().DebugContext(
		ctx,
		"pruning unreachable subscriber",
		slog.String("address", host.hub.Address().String()),
		slog.String("subscriber", sub.subscriber.String()),
		slog.String("reference", sub.ref.Key()),
	)
	host.emit(ctx, EventPrune, observability.LevelInfo, map[string]any{
		"subscriber": sub.subscriber.String(),
		"reference":  sub.ref.Key(),
	})
	return false
}

func (host *Host) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	observability.Emit(ctx, host.hub.Observer(), typ, level, "datasync", data)
}
