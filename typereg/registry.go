// Package typereg maps Go types to stable wire names and back. Envelopes tag
// polymorphic payloads with these names so receivers can pick the concrete
// decoder.
//
// Registrations are append-only: a name, once bound, stays bound to its type
// for the lifetime of the Registry.
package typereg

import (
	"fmt"
	"path"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// Resolver is consulted by Resolve when a name has no registration. A type it
// returns is registered under that name.
type Resolver func(name string) (reflect.Type, bool)

type Option func(*Registry)

// WithTypes pre-registers types under their canonical names.
func WithTypes(types ...reflect.Type) Option {
	return func(r *Registry) {
		for _, t := range types {
			r.GetOrAddTypeName(t)
		}
	}
}

// WithFallback installs a Resolver for names that were never registered.
func WithFallback(resolver Resolver) Option {
	return func(r *Registry) { r.fallback = resolver }
}

type Registry struct {
	byType   map[reflect.Type]string
	byName   map[string]reflect.Type
	fallback Resolver
	mu       sync.RWMutex
}

func New(opts ...Option) *Registry {
	r := &Registry{
		byType: make(map[reflect.Type]string),
		byName: make(map[string]reflect.Type),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds t to an explicit name. Registering the same pair twice is a
// no-op; binding a name or type that is already taken by a different
// counterpart fails with ErrNameConflict.
func (r *Registry) Register(t reflect.Type, name string) error {
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		if existing == t {
			return nil
		}
		return fmt.Errorf("%w: %s is bound to %v", ErrNameConflict, name, existing)
	}
	if existing, ok := r.byType[t]; ok {
		return fmt.Errorf("%w: %v is bound to %s", ErrNameConflict, t, existing)
	}

	r.byName[name] = t
	r.byType[t] = name
	return nil
}

// GetOrAddTypeName returns the wire name of t, deriving and registering a
// canonical one on first use.
func (r *Registry) GetOrAddTypeName(t reflect.Type) string {
	r.mu.RLock()
	name, ok := r.byType[t]
	r.mu.RUnlock()
	if ok {
		return name
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.byType[t]; ok {
		return name
	}

	name = CanonicalName(t)
	if existing, taken := r.byName[name]; taken && existing != t {
		name = qualifiedName(t)
	}

	r.byName[name] = t
	r.byType[t] = name
	return name
}

// NameOf returns the wire name of v's dynamic type.
func (r *Registry) NameOf(v any) string {
	return r.GetOrAddTypeName(reflect.TypeOf(v))
}

// TryGetType looks up the type bound to name without consulting the fallback.
func (r *Registry) TryGetType(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byName[name]
	return t, ok
}

// Resolve returns the type bound to name, asking the fallback resolver when
// there is no registration.
func (r *Registry) Resolve(name string) (reflect.Type, error) {
	if t, ok := r.TryGetType(name); ok {
		return t, nil
	}

	if r.fallback != nil {
		if t, ok := r.fallback(name); ok && t != nil {
			if err := r.Register(t, name); err != nil {
				return nil, err
			}
			return t, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
}

// Names lists every registered wire name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// Add registers T and returns its wire name.
func Add[T any](r *Registry) string {
	return r.GetOrAddTypeName(reflect.TypeFor[T]())
}

var importPath = regexp.MustCompile(`([A-Za-z0-9_.\-~]+/)+`)

// CanonicalName derives the short wire name for t: "pkg.Name" for named
// types, "pkg.Outer[argpkg.Arg1,argpkg.Arg2]" for instantiated generics and
// "*" + element name for pointers. Import paths are reduced to their last
// element so names survive package moves.
func CanonicalName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	if t.Kind() == reflect.Pointer && t.Name() == "" {
		return "*" + CanonicalName(t.Elem())
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return shorten(t.String())
	}

	return path.Base(t.PkgPath()) + "." + shorten(t.Name())
}

func shorten(name string) string {
	return strings.ReplaceAll(importPath.ReplaceAllString(name, ""), " ", "")
}

func qualifiedName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer && t.Name() == "" {
		return "*" + qualifiedName(t.Elem())
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
