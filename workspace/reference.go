// Package workspace holds shared state trees and the references that address
// slices of them.
package workspace

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"strings"

	"github.com/tailored-agentic-units/mesh/patch"
)

const (
	KindEntity     = "entity"
	KindCollection = "collection"
	KindPath       = "path"
	KindLayoutArea = "area"
)

// Reference addresses a slice of a workspace tree. Path is the JSON pointer
// used for diffing; Key is the canonical string form, stable enough to key
// maps and groups.
type Reference interface {
	Kind() string
	Path() string
	Key() string
	Get(tree any) any
}

func get(tree any, pointer string) any {
	v, err := patch.Get(tree, pointer)
	if err != nil {
		return nil
	}
	return v
}

type EntityReference struct {
	Collection string
	ID         string
}

func (r EntityReference) Kind() string     { return KindEntity }
func (r EntityReference) Path() string     { return patch.Join(r.Collection, r.ID) }
func (r EntityReference) Key() string      { return KindEntity + ":" + r.Path() }
func (r EntityReference) Get(tree any) any { return get(tree, r.Path()) }
func (r EntityReference) String() string   { return r.Key() }

type CollectionReference struct {
	Collection string
}

func (r CollectionReference) Kind() string     { return KindCollection }
func (r CollectionReference) Path() string     { return patch.Join(r.Collection) }
func (r CollectionReference) Key() string      { return KindCollection + ":" + r.Path() }
func (r CollectionReference) Get(tree any) any { return get(tree, r.Path()) }
func (r CollectionReference) String() string   { return r.Key() }

// PathReference addresses any location by JSON pointer. The empty pointer
// is the whole workspace.
type PathReference struct {
	Pointer string
}

func (r PathReference) Kind() string     { return KindPath }
func (r PathReference) Path() string     { return r.Pointer }
func (r PathReference) Key() string      { return KindPath + ":" + r.Pointer }
func (r PathReference) Get(tree any) any { return get(tree, r.Pointer) }
func (r PathReference) String() string   { return r.Key() }

// LayoutAreaReference addresses a named area under /areas. Options take part
// in the key so differently parameterized views stay distinct.
type LayoutAreaReference struct {
	Area    string
	Options map[string]string
}

func (r LayoutAreaReference) Kind() string     { return KindLayoutArea }
func (r LayoutAreaReference) Path() string     { return patch.Join("areas", r.Area) }
func (r LayoutAreaReference) Get(tree any) any { return get(tree, r.Path()) }
func (r LayoutAreaReference) String() string   { return r.Key() }

func (r LayoutAreaReference) Key() string {
	key := KindLayoutArea + ":" + r.Path()
	if len(r.Options) == 0 {
		return key
	}
	q := url.Values{}
	for k, v := range r.Options {
		q.Set(k, v)
	}
	return key + "?" + q.Encode()
}

// ParseReference parses the Key form of a reference. A bare JSON pointer is
// read as a PathReference.
func ParseReference(s string) (Reference, error) {
	kind, rest, found := strings.Cut(s, ":")
	if !found {
		kind, rest = KindPath, s
	}

	switch kind {
	case KindEntity:
		tokens, err := patch.Split(rest)
		if err != nil || len(tokens) != 2 || tokens[0] == "" || tokens[1] == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReference, s)
		}
		return EntityReference{Collection: tokens[0], ID: tokens[1]}, nil
	case KindCollection:
		tokens, err := patch.Split(rest)
		if err != nil || len(tokens) != 1 || tokens[0] == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReference, s)
		}
		return CollectionReference{Collection: tokens[0]}, nil
	case KindPath:
		if _, err := patch.Split(rest); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReference, s)
		}
		return PathReference{Pointer: rest}, nil
	case KindLayoutArea:
		pointer, query, _ := strings.Cut(rest, "?")
		tokens, err := patch.Split(pointer)
		if err != nil || len(tokens) != 2 || tokens[0] != "areas" || tokens[1] == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReference, s)
		}
		ref := LayoutAreaReference{Area: tokens[1]}
		if query != "" {
			values, err := url.ParseQuery(query)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %w", ErrInvalidReference, s, err)
			}
			ref.Options = make(map[string]string, len(values))
			for k := range values {
				ref.Options[k] = values.Get(k)
			}
		}
		return ref, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidReference, kind)
	}
}

// Ref carries a Reference through JSON as a kind-tagged object.
type Ref struct {
	Reference
}

func RefOf(r Reference) Ref { return Ref{Reference: r} }

func (r Ref) IsZero() bool { return r.Reference == nil }

type refJSON struct {
	Kind       string            `json:"kind"`
	Collection string            `json:"collection,omitempty"`
	ID         string            `json:"id,omitempty"`
	Path       string            `json:"path,omitempty"`
	Area       string            `json:"area,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
}

func (r Ref) MarshalJSON() ([]byte, error) {
	var out refJSON
	switch ref := r.Reference.(type) {
	case nil:
		return []byte("null"), nil
	case Ref:
		return ref.MarshalJSON()
	case EntityReference:
		out = refJSON{Kind: KindEntity, Collection: ref.Collection, ID: ref.ID}
	case CollectionReference:
		out = refJSON{Kind: KindCollection, Collection: ref.Collection}
	case PathReference:
		out = refJSON{Kind: KindPath, Path: ref.Pointer}
	case LayoutAreaReference:
		out = refJSON{Kind: KindLayoutArea, Area: ref.Area, Options: maps.Clone(ref.Options)}
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidReference, r.Reference)
	}
	return json.Marshal(out)
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		r.Reference = nil
		return nil
	}

	var in refJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}

	switch in.Kind {
	case KindEntity:
		if in.Collection == "" || in.ID == "" {
			return fmt.Errorf("%w: entity requires collection and id", ErrInvalidReference)
		}
		r.Reference = EntityReference{Collection: in.Collection, ID: in.ID}
	case KindCollection:
		if in.Collection == "" {
			return fmt.Errorf("%w: collection requires a name", ErrInvalidReference)
		}
		r.Reference = CollectionReference{Collection: in.Collection}
	case KindPath:
		if _, err := patch.Split(in.Path); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidReference, err)
		}
		r.Reference = PathReference{Pointer: in.Path}
	case KindLayoutArea:
		if in.Area == "" {
			return fmt.Errorf("%w: area requires a name", ErrInvalidReference)
		}
		r.Reference = LayoutAreaReference{Area: in.Area, Options: in.Options}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidReference, in.Kind)
	}
	return nil
}
