package typereg_test

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/tailored-agentic-units/mesh/typereg"
)

type Widget struct {
	Name string
}

type Box[T any] struct {
	Value T
}

type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want string
	}{
		{"named struct", reflect.TypeFor[Widget](), "typereg_test.Widget"},
		{"pointer", reflect.TypeFor[*Widget](), "*typereg_test.Widget"},
		{"builtin", reflect.TypeFor[string](), "string"},
		{"generic builtin arg", reflect.TypeFor[Box[int]](), "typereg_test.Box[int]"},
		{"generic named arg", reflect.TypeFor[Box[Widget]](), "typereg_test.Box[typereg_test.Widget]"},
		{"generic two args", reflect.TypeFor[Pair[string, Widget]](), "typereg_test.Pair[string,typereg_test.Widget]"},
		{"slice", reflect.TypeFor[[]Widget](), "[]typereg_test.Widget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := typereg.CanonicalName(tt.typ); got != tt.want {
				t.Errorf("CanonicalName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistry_RoundTrip(t *testing.T) {
	r := typereg.New()

	types := []reflect.Type{
		reflect.TypeFor[Widget](),
		reflect.TypeFor[*Widget](),
		reflect.TypeFor[Box[Widget]](),
		reflect.TypeFor[Box[Box[int]]](),
		reflect.TypeFor[Pair[string, *Widget]](),
	}

	for _, typ := range types {
		name := r.GetOrAddTypeName(typ)
		got, ok := r.TryGetType(name)
		if !ok {
			t.Fatalf("TryGetType(%q) not found", name)
		}
		if got != typ {
			t.Errorf("TryGetType(%q) = %v, want %v", name, got, typ)
		}
	}
}

func TestRegistry_GetOrAddTypeName_Stable(t *testing.T) {
	r := typereg.New()
	first := r.GetOrAddTypeName(reflect.TypeFor[Widget]())
	second := r.GetOrAddTypeName(reflect.TypeFor[Widget]())
	if first != second {
		t.Errorf("GetOrAddTypeName() = %q then %q, want stable name", first, second)
	}
}

func TestRegistry_CollisionFallsBackToQualifiedName(t *testing.T) {
	r := typereg.New()
	if err := r.Register(reflect.TypeFor[int](), "typereg_test.Widget"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	name := r.GetOrAddTypeName(reflect.TypeFor[Widget]())
	want := "github.com/tailored-agentic-units/mesh/typereg_test.Widget"
	if name != want {
		t.Errorf("GetOrAddTypeName() = %q, want %q", name, want)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := typereg.New()

	if err := r.Register(reflect.TypeFor[Widget](), "widget"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(reflect.TypeFor[Widget](), "widget"); err != nil {
		t.Errorf("Register() same pair error = %v, want nil", err)
	}
	if err := r.Register(reflect.TypeFor[int](), "widget"); !errors.Is(err, typereg.ErrNameConflict) {
		t.Errorf("Register() name conflict error = %v, want ErrNameConflict", err)
	}
	if err := r.Register(reflect.TypeFor[Widget](), "other"); !errors.Is(err, typereg.ErrNameConflict) {
		t.Errorf("Register() type conflict error = %v, want ErrNameConflict", err)
	}
	if err := r.Register(reflect.TypeFor[Widget](), ""); !errors.Is(err, typereg.ErrEmptyName) {
		t.Errorf("Register() empty name error = %v, want ErrEmptyName", err)
	}

	if got := r.NameOf(Widget{}); got != "widget" {
		t.Errorf("NameOf() = %q, want %q", got, "widget")
	}
}

func TestRegistry_Resolve(t *testing.T) {
	t.Run("unknown", func(t *testing.T) {
		r := typereg.New()
		_, err := r.Resolve("nope.Missing")
		if !errors.Is(err, typereg.ErrUnknownType) {
			t.Errorf("Resolve() error = %v, want ErrUnknownType", err)
		}
	})

	t.Run("bootstrap", func(t *testing.T) {
		r := typereg.New(typereg.WithTypes(reflect.TypeFor[Widget]()))
		got, err := r.Resolve("typereg_test.Widget")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got != reflect.TypeFor[Widget]() {
			t.Errorf("Resolve() = %v, want Widget", got)
		}
	})

	t.Run("fallback registers", func(t *testing.T) {
		calls := 0
		r := typereg.New(typereg.WithFallback(func(name string) (reflect.Type, bool) {
			calls++
			if name == "legacy.Widget" {
				return reflect.TypeFor[Widget](), true
			}
			return nil, false
		}))

		for range 2 {
			got, err := r.Resolve("legacy.Widget")
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != reflect.TypeFor[Widget]() {
				t.Errorf("Resolve() = %v, want Widget", got)
			}
		}
		if calls != 1 {
			t.Errorf("fallback calls = %d, want 1", calls)
		}
		if _, err := r.Resolve("legacy.Other"); !errors.Is(err, typereg.ErrUnknownType) {
			t.Errorf("Resolve() error = %v, want ErrUnknownType", err)
		}
	})
}

func TestRegistry_Add(t *testing.T) {
	r := typereg.New()
	name := typereg.Add[Box[Widget]](r)
	if name != "typereg_test.Box[typereg_test.Widget]" {
		t.Errorf("Add() = %q", name)
	}
	if len(r.Names()) != 1 {
		t.Errorf("Names() len = %d, want 1", len(r.Names()))
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := typereg.New()

	var wg sync.WaitGroup
	names := make([]string, 32)
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			names[i] = r.GetOrAddTypeName(reflect.TypeFor[Pair[int, Widget]]())
		}(i)
	}
	wg.Wait()

	for _, name := range names {
		if name != names[0] {
			t.Fatalf("concurrent names differ: %q vs %q", name, names[0])
		}
	}
}
