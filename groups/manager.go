// Package groups maintains fan-out groups of ephemeral connections. Each
// group has at most one upstream feed, opened when its first member joins
// and closed when its last member leaves.
package groups

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/tailored-agentic-units/mesh/observability"
)

// UpstreamFunc opens the feed for a group. members returns the current
// member snapshot without locking and may be called from any goroutine for
// the lifetime of the feed.
type UpstreamFunc func(ctx context.Context, groupID string, members func() []string) (io.Closer, error)

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithObserver(observer observability.Observer) Option {
	return func(m *Manager) {
		if observer != nil {
			m.observer = observer
		}
	}
}

type group struct {
	id       string
	members  map[string]struct{}
	snapshot atomic.Pointer[[]string]
	upstream io.Closer
	halted   bool
}

func (g *group) publish() {
	members := make([]string, 0, len(g.members))
	for conn := range g.members {
		members = append(members, conn)
	}
	sort.Strings(members)
	g.snapshot.Store(&members)
}

func (g *group) Members() []string {
	if p := g.snapshot.Load(); p != nil {
		return *p
	}
	return nil
}

// Manager serializes every membership change and query behind one
// manager-wide section. A caller waiting for the section gives up when its
// ctx ends.
type Manager struct {
	sem         *semaphore.Weighted
	groups      map[string]*group
	connections map[string]map[string]struct{}

	logger   *slog.Logger
	observer observability.Observer
}

func New(opts ...Option) *Manager {
	m := &Manager{
		sem:         semaphore.NewWeighted(1),
		groups:      make(map[string]*group),
		connections: make(map[string]map[string]struct{}),
		logger:      slog.Default(),
		observer:    observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

func (m *Manager) unlock() {
	m.sem.Release(1)
}

// Subscribe adds connectionID to groupID. Re-subscribing is idempotent. The
// group's upstream is opened when it gains its first member; if opening
// fails the join is rolled back and the error returned.
//
// upstream runs inside the manager section and must not call back into the
// Manager.
func (m *Manager) Subscribe(ctx context.Context, connectionID, groupID string, upstream UpstreamFunc) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	g, exists := m.groups[groupID]
	if exists && g.halted {
		return fmt.Errorf("%w: %s", ErrGroupHalted, groupID)
	}
	if exists {
		if _, member := g.members[connectionID]; member {
			m.index(connectionID, groupID)
			return nil
		}
	} else {
		g = &group{id: groupID, members: make(map[string]struct{})}
		m.groups[groupID] = g
	}

	g.members[connectionID] = struct{}{}
	g.publish()

	switch {
	case len(g.members) == 1 && g.upstream != nil:
		return m.violation(ctx, g, "upstream already open for a new group")
	case len(g.members) > 1 && g.upstream == nil:
		return m.violation(ctx, g, "members without an upstream")
	case len(g.members) == 1:
		closer, err := upstream(ctx, groupID, g.Members)
		if err != nil {
			delete(g.members, connectionID)
			g.publish()
			if len(g.members) == 0 {
				delete(m.groups, groupID)
			}
			return fmt.Errorf("open upstream for %s: %w", groupID, err)
		}
		if closer == nil {
			closer = nopCloser{}
		}
		g.upstream = closer

		m.logger.DebugContext(ctx, "group upstream opened", slog.String("group", groupID))
		observability.Emit(ctx, m.observer, EventUpstreamOpen, observability.LevelVerbose, "groups", map[string]any{
			"group": groupID,
		})
	}

	m.index(connectionID, groupID)
	observability.Emit(ctx, m.observer, EventJoin, observability.LevelVerbose, "groups", map[string]any{
		"group":      groupID,
		"connection": connectionID,
		"members":    len(g.members),
	})
	return nil
}

// Unsubscribe removes connectionID from one group.
func (m *Manager) Unsubscribe(ctx context.Context, connectionID, groupID string) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	if groups, ok := m.connections[connectionID]; ok {
		delete(groups, groupID)
		if len(groups) == 0 {
			delete(m.connections, connectionID)
		}
	}
	return m.leave(ctx, connectionID, groupID)
}

// UnsubscribeAll removes connectionID from every group it joined, as on
// disconnect.
func (m *Manager) UnsubscribeAll(ctx context.Context, connectionID string) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	var errs []error
	for groupID := range m.connections[connectionID] {
		if err := m.leave(ctx, connectionID, groupID); err != nil {
			errs = append(errs, err)
		}
	}
	delete(m.connections, connectionID)
	return errors.Join(errs...)
}

func (m *Manager) leave(ctx context.Context, connectionID, groupID string) error {
	g, ok := m.groups[groupID]
	if !ok {
		return nil
	}
	if _, member := g.members[connectionID]; !member {
		return nil
	}

	delete(g.members, connectionID)
	g.publish()
	observability.Emit(ctx, m.observer, EventLeave, observability.LevelVerbose, "groups", map[string]any{
		"group":      groupID,
		"connection": connectionID,
		"members":    len(g.members),
	})

	if len(g.members) > 0 || g.halted {
		return nil
	}

	delete(m.groups, groupID)
	if g.upstream == nil {
		return m.violation(ctx, g, "group emptied without an upstream")
	}

	err := g.upstream.Close()
	g.upstream = nil

	m.logger.DebugContext(ctx, "group upstream closed", slog.String("group", groupID))
	observability.Emit(ctx, m.observer, EventUpstreamClose, observability.LevelVerbose, "groups", map[string]any{
		"group": groupID,
	})
	if err != nil {
		m.logger.WarnContext(
			ctx,
			"closing group upstream failed",
			slog.String("group", groupID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("close upstream for %s: %w", groupID, err)
	}
	return nil
}

func (m *Manager) index(connectionID, groupID string) {
	groups, ok := m.connections[connectionID]
	if !ok {
		groups = make(map[string]struct{})
		m.connections[connectionID] = groups
	}
	groups[groupID] = struct{}{}
}

// violation halts the group's bookkeeping. The group keeps whatever upstream
// it had; nothing is opened or closed for it again.
func (m *Manager) violation(ctx context.Context, g *group, detail string) error {
	g.halted = true
	m.groups[g.id] = g

	err := fmt.Errorf("%w: group %s: %s", ErrSubscriptionInvariant, g.id, detail)
	m.logger.ErrorContext(
		ctx,
		"group subscription invariant violated",
		slog.String("group", g.id),
		slog.String("detail", detail),
		slog.Int("members", len(g.members)),
	)
	observability.Emit(ctx, m.observer, EventInvariantBreak, observability.LevelError, "groups", map[string]any{
		"group":  g.id,
		"detail": detail,
	})
	return err
}

// Members returns the member snapshot of groupID.
func (m *Manager) Members(ctx context.Context, groupID string) ([]string, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	if g, ok := m.groups[groupID]; ok {
		return g.Members(), nil
	}
	return nil, nil
}

// Groups lists the ids of live groups.
func (m *Manager) Groups(ctx context.Context) ([]string, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	ids := make([]string, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ConnectionGroups lists the groups connectionID belongs to.
func (m *Manager) ConnectionGroups(ctx context.Context, connectionID string) ([]string, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	ids := make([]string, 0, len(m.connections[connectionID]))
	for id := range m.connections[connectionID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LiveUpstreams counts groups with an open upstream.
func (m *Manager) LiveUpstreams(ctx context.Context) (int, error) {
	if err := m.lock(ctx); err != nil {
		return 0, err
	}
	defer m.unlock()

	n := 0
	for _, g := range m.groups {
		if g.upstream != nil {
			n++
		}
	}
	return n, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
