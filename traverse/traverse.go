// Package traverse walks arbitrary Go value graphs and emits a JSON-shaped
// tree (map[string]any, []any and scalars). Hooks registered per runtime type
// can reshape the emitted node without touching the domain type, which is
// how redaction and computed projections attach.
//
// Nesting is bounded by a depth counter. Past the limit, containers are
// emitted as nil and their paths recorded in Result.Truncated; the rest of
// the value is still emitted.
package traverse

import (
	"context"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/tailored-agentic-units/mesh/observability"
)

const DefaultMaxDepth = 64

// Hook reshapes the emitted node for one runtime type. The node starts empty;
// the hook fills it through the Context.
type Hook func(c *Context) error

type Option func(*Traverser)

func WithMaxDepth(depth int) Option {
	return func(t *Traverser) {
		if depth > 0 {
			t.maxDepth = depth
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Traverser) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithObserver(observer observability.Observer) Option {
	return func(t *Traverser) {
		if observer != nil {
			t.observer = observer
		}
	}
}

type Traverser struct {
	hooks    map[reflect.Type]Hook
	mu       sync.RWMutex
	fields   sync.Map
	maxDepth int
	logger   *slog.Logger
	observer observability.Observer
}

func New(opts ...Option) *Traverser {
	t := &Traverser{
		hooks:    make(map[reflect.Type]Hook),
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default(),
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register installs hook for values whose runtime type is exactly typ.
// Registering again replaces the previous hook.
func (t *Traverser) Register(typ reflect.Type, hook Hook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks[typ] = hook
}

// Handle registers a typed hook for T.
func Handle[T any](t *Traverser, fn func(c *Context, v T) error) {
	t.Register(reflect.TypeFor[T](), func(c *Context) error {
		v, _ := c.Value().(T)
		return fn(c, v)
	})
}

func (t *Traverser) MaxDepth() int {
	return t.maxDepth
}

func (t *Traverser) hook(typ reflect.Type) Hook {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hooks[typ]
}

// Result is the emitted tree plus the paths that were cut at the depth limit.
type Result struct {
	Value     any
	Truncated []string
}

// Err returns an error wrapping ErrRecursionLimit when the result is partial.
func (r Result) Err() error {
	if len(r.Truncated) == 0 {
		return nil
	}
	return fmt.Errorf("%w at %d path(s), first %q", ErrRecursionLimit, len(r.Truncated), r.Truncated[0])
}

// Traverse emits v. Errors come only from hooks and json.Marshaler
// implementations; hitting the depth limit yields a partial Result.
func (t *Traverser) Traverse(ctx context.Context, v any) (Result, error) {
	w := &walk{t: t, ctx: ctx}
	out, err := w.visit(reflect.ValueOf(v), "", 0)
	if err != nil {
		return Result{}, err
	}

	result := Result{Value: out, Truncated: w.truncated}
	if len(w.truncated) > 0 {
		t.logger.WarnContext(
			ctx,
			"traversal depth limit reached",
			slog.Int("max_depth", t.maxDepth),
			slog.Int("truncated", len(w.truncated)),
			slog.String("first_path", w.truncated[0]),
		)
		observability.Emit(ctx, t.observer, EventRecursionLimit, observability.LevelWarning, "traverse", map[string]any{
			"max_depth": t.maxDepth,
			"truncated": len(w.truncated),
			"path":      w.truncated[0],
		})
	}
	return result, nil
}

type walk struct {
	t         *Traverser
	ctx       context.Context
	truncated []string
}

// pointerChain records the pointers dereferenced on the way to one node. A
// pointer seen twice means the chain loops without reaching a container.
type pointerChain map[uintptr]struct{}

func (c *pointerChain) revisits(v reflect.Value) bool {
	if v.Kind() != reflect.Pointer {
		return false
	}
	if *c == nil {
		*c = make(pointerChain)
	}
	p := v.Pointer()
	if _, ok := (*c)[p]; ok {
		return true
	}
	(*c)[p] = struct{}{}
	return false
}

func (w *walk) visit(v reflect.Value, path string, depth int) (any, error) {
	var (
		hook  Hook
		chain pointerChain
	)
	for v.IsValid() {
		if v.CanInterface() {
			if h := w.t.hook(v.Type()); h != nil {
				hook = h
				break
			}
		}
		if v.Kind() != reflect.Interface && v.Kind() != reflect.Pointer {
			break
		}
		if v.IsNil() {
			return nil, nil
		}
		if chain.revisits(v) {
			w.truncated = append(w.truncated, path)
			return nil, nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, nil
	}

	if depth > w.t.maxDepth && (hook != nil || isContainer(v)) {
		w.truncated = append(w.truncated, path)
		return nil, nil
	}

	if hook != nil {
		c := &Context{w: w, value: v, path: path, depth: depth}
		if err := hook(c); err != nil {
			return nil, fmt.Errorf("traverse hook at %q: %w", path, err)
		}
		return c.out, nil
	}

	return w.emit(v, path, depth)
}

var (
	marshalerType     = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

func isContainer(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
		return true
	}
	return false
}

// emit produces the default node for v, bypassing any hook on v's own type.
// Children still go through visit.
func (w *walk) emit(v reflect.Value, path string, depth int) (any, error) {
	var chain pointerChain
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		if chain.revisits(v) {
			w.truncated = append(w.truncated, path)
			return nil, nil
		}
		v = v.Elem()
	}

	if m, ok := marshaler(v); ok {
		raw, err := m.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal %s at %q: %w", v.Type(), path, err)
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode %s at %q: %w", v.Type(), path, err)
		}
		return out, nil
	}

	if m, ok := textMarshaler(v); ok {
		text, err := m.MarshalText()
		if err != nil {
			return nil, fmt.Errorf("marshal %s at %q: %w", v.Type(), path, err)
		}
		return string(text), nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Struct:
		return w.emitStruct(v, path, depth)
	case reflect.Map:
		return w.emitMap(v, path, depth)
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(v.Bytes()), nil
		}
		return w.emitList(v, path, depth)
	case reflect.Array:
		return w.emitList(v, path, depth)
	default:
		// chans, funcs and complex numbers have no JSON form
		return nil, nil
	}
}

func (w *walk) emitStruct(v reflect.Value, path string, depth int) (any, error) {
	out := make(map[string]any)
	for _, f := range w.t.structFields(v.Type()) {
		fv, ok := fieldValue(v, f.index)
		if !ok || (f.omitEmpty && fv.IsZero()) {
			continue
		}
		child, err := w.visit(fv, path+"/"+escape(f.name), depth+1)
		if err != nil {
			return nil, err
		}
		out[f.name] = child
	}
	return out, nil
}

func (w *walk) emitMap(v reflect.Value, path string, depth int) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, fmt.Errorf("map key at %q: %w", path, err)
		}
		child, err := w.visit(iter.Value(), path+"/"+escape(key), depth+1)
		if err != nil {
			return nil, err
		}
		out[key] = child
	}
	return out, nil
}

func (w *walk) emitList(v reflect.Value, path string, depth int) (any, error) {
	out := make([]any, v.Len())
	for i := range v.Len() {
		child, err := w.visit(v.Index(i), path+"/"+strconv.Itoa(i), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = child
	}
	return out, nil
}

type field struct {
	name      string
	index     []int
	omitEmpty bool
}

func (t *Traverser) structFields(typ reflect.Type) []field {
	if cached, ok := t.fields.Load(typ); ok {
		return cached.([]field)
	}
	fields := collectFields(typ, nil, map[string]bool{})
	t.fields.Store(typ, fields)
	return fields
}

// collectFields follows encoding/json naming: tags win, "-" skips, untagged
// embedded structs are inlined with outer fields shadowing inner ones.
func collectFields(typ reflect.Type, prefix []int, seen map[string]bool) []field {
	var fields []field
	var embedded []reflect.StructField

	for i := range typ.NumField() {
		sf := typ.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				embedded = append(embedded, sf)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		fields = append(fields, field{
			name:      name,
			index:     append(append([]int(nil), prefix...), i),
			omitEmpty: strings.Contains(opts, "omitempty") || strings.Contains(opts, "omitzero"),
		})
	}

	for _, sf := range embedded {
		ft := sf.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		index := append(append([]int(nil), prefix...), sf.Index...)
		fields = append(fields, collectFields(ft, index, seen)...)
	}
	return fields
}

func fieldValue(v reflect.Value, index []int) (reflect.Value, bool) {
	fv, err := v.FieldByIndexErr(index)
	if err != nil {
		return reflect.Value{}, false
	}
	return fv, true
}

func marshaler(v reflect.Value) (json.Marshaler, bool) {
	if !v.CanInterface() {
		return nil, false
	}
	if v.Type().Implements(marshalerType) {
		return v.Interface().(json.Marshaler), true
	}
	if reflect.PointerTo(v.Type()).Implements(marshalerType) {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p.Interface().(json.Marshaler), true
	}
	return nil, false
}

func textMarshaler(v reflect.Value) (encoding.TextMarshaler, bool) {
	if !v.CanInterface() {
		return nil, false
	}
	if v.Type().Implements(textMarshalerType) {
		return v.Interface().(encoding.TextMarshaler), true
	}
	if reflect.PointerTo(v.Type()).Implements(textMarshalerType) {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p.Interface().(encoding.TextMarshaler), true
	}
	return nil, false
}

func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if m, ok := textMarshaler(k); ok {
		text, err := m.MarshalText()
		return string(text), err
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", fmt.Errorf("unsupported key type %s", k.Type())
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func escape(token string) string {
	return pointerEscaper.Replace(token)
}
