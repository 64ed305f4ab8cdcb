package workspace

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/tailored-agentic-units/mesh/patch"
)

// Snapshot is one committed state of a store. Data is a normalized tree and
// is never mutated after commit.
type Snapshot struct {
	Version int64
	Data    any
}

// Store publishes snapshots through an atomic pointer. Readers never block
// and never see a partially applied change.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore(initial any) (*Store, error) {
	data, err := patch.Normalize(initial)
	if err != nil {
		return nil, err
	}
	s := &Store{}
	s.current.Store(&Snapshot{Data: data})
	return s, nil
}

func (s *Store) Current() *Snapshot { return s.current.Load() }

func (s *Store) Version() int64 { return s.current.Load().Version }

// Commit replaces the tree with fn's result. fn receives the current tree
// and must not modify it; it may run more than once if another writer
// commits first.
func (s *Store) Commit(fn func(data any) (any, error)) (prev, next *Snapshot, err error) {
	for {
		prev = s.current.Load()
		data, err := fn(prev.Data)
		if err != nil {
			return prev, prev, err
		}
		data, err = patch.Normalize(data)
		if err != nil {
			return prev, prev, err
		}
		next = &Snapshot{Version: prev.Version + 1, Data: data}
		if s.current.CompareAndSwap(prev, next) {
			return prev, next, nil
		}
	}
}

// ApplyPatch commits p against the current tree.
func (s *Store) ApplyPatch(p patch.Patch) (prev, next *Snapshot, err error) {
	return s.Commit(func(data any) (any, error) {
		return patch.Apply(data, p)
	})
}

// Set stores value at ref, creating missing parent objects.
func (s *Store) Set(ref Reference, value any) (prev, next *Snapshot, err error) {
	norm, err := patch.Normalize(value)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := patch.Split(ref.Path())
	if err != nil {
		return nil, nil, err
	}
	return s.Commit(func(data any) (any, error) {
		return setIn(data, tokens, norm)
	})
}

// setIn copies the containers along tokens and leaves the input intact.
func setIn(node any, tokens []string, value any) (any, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	head, rest := tokens[0], tokens[1:]

	switch n := node.(type) {
	case []any:
		idx, err := strconv.Atoi(head)
		if err != nil || idx < 0 || idx > len(n) {
			return nil, fmt.Errorf("%w: index %q", patch.ErrPathNotFound, head)
		}
		out := make([]any, len(n), len(n)+1)
		copy(out, n)
		if idx == len(n) {
			out = append(out, nil)
		}
		child, err := setIn(out[idx], rest, value)
		if err != nil {
			return nil, err
		}
		out[idx] = child
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(n)+1)
		for k, v := range n {
			out[k] = v
		}
		child, err := setIn(n[head], rest, value)
		if err != nil {
			return nil, err
		}
		out[head] = child
		return out, nil
	default:
		child, err := setIn(nil, rest, value)
		if err != nil {
			return nil, err
		}
		return map[string]any{head: child}, nil
	}
}
