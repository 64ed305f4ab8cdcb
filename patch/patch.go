// Package patch computes and applies JSON patches (RFC 6902 add, remove and
// replace) over normalized JSON trees: map[string]any, []any, string,
// float64, bool and nil.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
)

type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// MarshalJSON keeps an explicit null value on add and replace; only remove
// drops the field.
func (o Operation) MarshalJSON() ([]byte, error) {
	if o.Op == OpRemove {
		return json.Marshal(struct {
			Op   string `json:"op"`
			Path string `json:"path"`
		}{o.Op, o.Path})
	}
	return json.Marshal(struct {
		Op    string `json:"op"`
		Path  string `json:"path"`
		Value any    `json:"value"`
	}{o.Op, o.Path, o.Value})
}

type Patch []Operation

func (p Patch) IsEmpty() bool { return len(p) == 0 }

// Paths lists the target pointer of each operation.
func (p Patch) Paths() []string {
	paths := make([]string, len(p))
	for i, op := range p {
		paths[i] = op.Path
	}
	return paths
}

// Normalize converts v into its JSON tree form.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, float64, bool:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return out, nil
}

// Diff returns the operations that turn from into to, with every path rooted
// at prefix. Objects are compared key by key in sorted order and arrays index
// by index; anything else that differs is replaced whole. Equal inputs yield
// an empty patch.
func Diff(prefix string, from, to any) Patch {
	var p Patch
	diff(&p, prefix, from, to)
	return p
}

func diff(p *Patch, path string, from, to any) {
	switch f := from.(type) {
	case map[string]any:
		if t, ok := to.(map[string]any); ok {
			diffObject(p, path, f, t)
			return
		}
	case []any:
		if t, ok := to.([]any); ok {
			diffArray(p, path, f, t)
			return
		}
	}
	if !reflect.DeepEqual(from, to) {
		*p = append(*p, Operation{Op: OpReplace, Path: path, Value: to})
	}
}

func diffObject(p *Patch, path string, from, to map[string]any) {
	keys := make([]string, 0, len(from)+len(to))
	for k := range from {
		keys = append(keys, k)
	}
	for k := range to {
		if _, ok := from[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		fv, inFrom := from[k]
		tv, inTo := to[k]
		child := Append(path, k)
		switch {
		case inFrom && !inTo:
			*p = append(*p, Operation{Op: OpRemove, Path: child})
		case !inFrom && inTo:
			*p = append(*p, Operation{Op: OpAdd, Path: child, Value: tv})
		default:
			diff(p, child, fv, tv)
		}
	}
}

func diffArray(p *Patch, path string, from, to []any) {
	common := min(len(from), len(to))
	for i := range common {
		diff(p, Append(path, strconv.Itoa(i)), from[i], to[i])
	}
	for i := common; i < len(to); i++ {
		*p = append(*p, Operation{Op: OpAdd, Path: Append(path, strconv.Itoa(i)), Value: to[i]})
	}
	for i := len(from) - 1; i >= common; i-- {
		*p = append(*p, Operation{Op: OpRemove, Path: Append(path, strconv.Itoa(i))})
	}
}

// Apply returns doc with p applied. doc is left untouched. Operations on the
// whole document are applied directly; everything else goes through
// jsonpatch in batches.
func Apply(doc any, p Patch) (any, error) {
	var batch Patch
	for _, op := range p {
		if op.Path != "" {
			batch = append(batch, op)
			continue
		}
		if len(batch) > 0 {
			next, err := applyBatch(doc, batch)
			if err != nil {
				return nil, err
			}
			doc, batch = next, nil
		}
		switch op.Op {
		case OpAdd, OpReplace:
			norm, err := Normalize(op.Value)
			if err != nil {
				return nil, err
			}
			doc = norm
		case OpRemove:
			doc = nil
		default:
			return nil, fmt.Errorf("%w: unsupported op %q", ErrApply, op.Op)
		}
	}
	if len(batch) == 0 {
		return doc, nil
	}
	return applyBatch(doc, batch)
}

func applyBatch(doc any, p Patch) (any, error) {
	src, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode document: %w", ErrApply, err)
	}
	ops, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: encode patch: %w", ErrApply, err)
	}
	decoded, err := jsonpatch.DecodePatch(ops)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrApply, err)
	}

	out, err := decoded.ApplyWithOptions(src, jsonpatch.NewApplyOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrApply, err)
	}
	return decode(bytes.TrimSpace(out))
}
