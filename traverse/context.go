package traverse

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
)

// Context is handed to a Hook for one node. Recursion is explicit: the hook
// decides which parts of the value are emitted and how.
type Context struct {
	w     *walk
	value reflect.Value
	path  string
	depth int
	out   any
}

// Context returns the context Traverse was called with.
func (c *Context) Context() context.Context {
	return c.w.ctx
}

// Value returns the node's Go value.
func (c *Context) Value() any {
	return c.value.Interface()
}

// Path is the JSON pointer of the node within the emitted tree.
func (c *Context) Path() string {
	return c.path
}

func (c *Context) Depth() int {
	return c.depth
}

// Output returns what the hook has emitted so far.
func (c *Context) Output() any {
	return c.out
}

// TraverseAll emits the node the way it would be emitted without a hook.
// Children still pass through their own hooks.
func (c *Context) TraverseAll() error {
	out, err := c.w.emit(c.value, c.path, c.depth)
	if err != nil {
		return err
	}
	c.out = out
	return nil
}

// TraverseProperty emits a single struct field (by JSON name) or map entry
// into the node's object and returns the emitted child.
func (c *Context) TraverseProperty(name string) (any, error) {
	child, ok := c.property(name)
	if !ok {
		return nil, fmt.Errorf("no property %q on %s", name, c.value.Type())
	}
	out, err := c.w.visit(child, c.path+"/"+escape(name), c.depth+1)
	if err != nil {
		return nil, err
	}
	c.SetProperty(name, out)
	return out, nil
}

// TraverseValue emits an arbitrary value as a child of this node without
// attaching it. Use SetProperty or Replace to place the result.
func (c *Context) TraverseValue(name string, v any) (any, error) {
	path := c.path
	if name != "" {
		path += "/" + escape(name)
	}
	return c.w.visit(reflect.ValueOf(v), path, c.depth+1)
}

// SetProperty sets a key on the node's object, turning the node into an
// object if it is not one yet.
func (c *Context) SetProperty(name string, v any) {
	obj, ok := c.out.(map[string]any)
	if !ok {
		obj = make(map[string]any)
		c.out = obj
	}
	obj[name] = v
}

func (c *Context) DeleteProperty(name string) {
	if obj, ok := c.out.(map[string]any); ok {
		delete(obj, name)
	}
}

// Replace sets the node's output verbatim.
func (c *Context) Replace(v any) {
	c.out = v
}

func (c *Context) property(name string) (reflect.Value, bool) {
	v := c.value
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		for _, f := range c.w.t.structFields(v.Type()) {
			if f.name == name {
				return fieldValue(v, f.index)
			}
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
			return mv, mv.IsValid()
		}
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(name)
		if err == nil && i >= 0 && i < v.Len() {
			return v.Index(i), true
		}
	}
	return reflect.Value{}, false
}
