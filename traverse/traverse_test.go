package traverse_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/mesh/observability"
	"github.com/tailored-agentic-units/mesh/traverse"
)

type Address struct {
	City string `json:"city"`
}

type Base struct {
	ID string `json:"id"`
}

type Customer struct {
	Base
	Name     string            `json:"name"`
	Password string            `json:"password"`
	Email    string            `json:"email,omitempty"`
	Internal string            `json:"-"`
	Address  *Address          `json:"address"`
	Tags     []string          `json:"tags"`
	Labels   map[string]string `json:"labels,omitempty"`
	Joined   time.Time         `json:"joined"`
	secret   string
}

type Node struct {
	Name string `json:"name"`
	Next *Node  `json:"next"`
}

func TestTraverse_Default(t *testing.T) {
	joined := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := Customer{
		Base:     Base{ID: "c-1"},
		Name:     "Ada",
		Password: "hunter2",
		Internal: "hidden",
		Address:  &Address{City: "London"},
		Tags:     []string{"vip"},
		Joined:   joined,
		secret:   "x",
	}

	res, err := traverse.New().Traverse(context.Background(), c)
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}

	want := map[string]any{
		"id":       "c-1",
		"name":     "Ada",
		"password": "hunter2",
		"address":  map[string]any{"city": "London"},
		"tags":     []any{"vip"},
		"joined":   "2024-03-01T12:00:00Z",
	}
	if diff := cmp.Diff(want, res.Value); diff != "" {
		t.Errorf("Traverse() mismatch (-want +got):\n%s", diff)
	}
	if res.Err() != nil {
		t.Errorf("Result.Err() = %v, want nil", res.Err())
	}
}

func TestTraverse_Scalars(t *testing.T) {
	type Status string

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"int", 42, int64(42)},
		{"uint", uint8(7), uint64(7)},
		{"float", 1.5, 1.5},
		{"bool", true, true},
		{"named string", Status("open"), "open"},
		{"bytes", []byte("hi"), "aGk="},
		{"nil pointer", (*Address)(nil), nil},
		{"int keys", map[int]string{1: "a"}, map[string]any{"1": "a"}},
		{"array", [2]int{1, 2}, []any{int64(1), int64(2)}},
	}

	tr := traverse.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tr.Traverse(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Traverse() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, res.Value); diff != "" {
				t.Errorf("Traverse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTraverse_RedactionHook(t *testing.T) {
	tr := traverse.New()
	traverse.Handle(tr, func(c *traverse.Context, v Customer) error {
		if err := c.TraverseAll(); err != nil {
			return err
		}
		c.DeleteProperty("password")
		c.SetProperty("display", v.Name+" <"+v.Address.City+">")
		return nil
	})

	res, err := tr.Traverse(context.Background(), &Customer{
		Name:     "Ada",
		Password: "hunter2",
		Address:  &Address{City: "London"},
	})
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}

	obj := res.Value.(map[string]any)
	if _, ok := obj["password"]; ok {
		t.Error("password should be deleted")
	}
	if obj["display"] != "Ada <London>" {
		t.Errorf("display = %v, want %q", obj["display"], "Ada <London>")
	}
}

func TestTraverse_ProjectionHook(t *testing.T) {
	tr := traverse.New()
	traverse.Handle(tr, func(c *traverse.Context, v Customer) error {
		if _, err := c.TraverseProperty("name"); err != nil {
			return err
		}
		city, err := c.TraverseValue("city", v.Address.City)
		if err != nil {
			return err
		}
		c.SetProperty("city", city)
		return nil
	})
	traverse.Handle(tr, func(c *traverse.Context, v Address) error {
		c.Replace(v.City)
		return nil
	})

	res, err := tr.Traverse(context.Background(), map[string]any{
		"customer": Customer{Name: "Ada", Address: &Address{City: "Paris"}},
		"shipping": Address{City: "Rome"},
	})
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}

	want := map[string]any{
		"customer": map[string]any{"name": "Ada", "city": "Paris"},
		"shipping": "Rome",
	}
	if diff := cmp.Diff(want, res.Value); diff != "" {
		t.Errorf("Traverse() mismatch (-want +got):\n%s", diff)
	}
}

func TestTraverse_HookPath(t *testing.T) {
	tr := traverse.New()
	var paths []string
	traverse.Handle(tr, func(c *traverse.Context, v Address) error {
		paths = append(paths, c.Path())
		return c.TraverseAll()
	})

	_, err := tr.Traverse(context.Background(), map[string]any{
		"a/b": []Address{{City: "X"}},
	})
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}
	if diff := cmp.Diff([]string{"/a~1b/0"}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestTraverse_HookError(t *testing.T) {
	tr := traverse.New()
	boom := errors.New("boom")
	traverse.Handle(tr, func(c *traverse.Context, v Address) error {
		return boom
	})

	_, err := tr.Traverse(context.Background(), Customer{Address: &Address{}})
	if !errors.Is(err, boom) {
		t.Errorf("Traverse() error = %v, want %v", err, boom)
	}
}

func TestTraverse_CycleIsBounded(t *testing.T) {
	a := &Node{Name: "a"}
	b := &Node{Name: "b", Next: a}
	a.Next = b

	rec := observability.NewRecorder()
	tr := traverse.New(traverse.WithMaxDepth(2), traverse.WithObserver(rec))

	res, err := tr.Traverse(context.Background(), a)
	if err != nil {
		t.Fatalf("Traverse() error = %v, want partial result", err)
	}

	want := map[string]any{
		"name": "a",
		"next": map[string]any{
			"name": "b",
			"next": map[string]any{
				"name": "a",
				"next": nil,
			},
		},
	}
	if diff := cmp.Diff(want, res.Value); diff != "" {
		t.Errorf("Traverse() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/next/next/next"}, res.Truncated); diff != "" {
		t.Errorf("Truncated mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(res.Err(), traverse.ErrRecursionLimit) {
		t.Errorf("Result.Err() = %v, want ErrRecursionLimit", res.Err())
	}
	if got := rec.Count(traverse.EventRecursionLimit); got != 1 {
		t.Errorf("recursion events = %d, want 1", got)
	}
}

func TestTraverse_PointerCycleIsBounded(t *testing.T) {
	var x any
	x = &x

	tests := []struct {
		name  string
		value any
		want  any
		cut   []string
	}{
		{name: "root", value: x, want: nil, cut: []string{""}},
		{name: "nested", value: map[string]any{"loop": &x, "ok": 1}, want: map[string]any{"loop": nil, "ok": int64(1)}, cut: []string{"/loop"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := make(chan traverse.Result, 1)
			go func() {
				res, err := traverse.New().Traverse(context.Background(), tt.value)
				if err != nil {
					t.Errorf("Traverse() error = %v", err)
				}
				done <- res
			}()

			select {
			case res := <-done:
				if diff := cmp.Diff(tt.want, res.Value); diff != "" {
					t.Errorf("Traverse() mismatch (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff(tt.cut, res.Truncated); diff != "" {
					t.Errorf("Truncated mismatch (-want +got):\n%s", diff)
				}
				if !errors.Is(res.Err(), traverse.ErrRecursionLimit) {
					t.Errorf("Result.Err() = %v, want ErrRecursionLimit", res.Err())
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Traverse() did not return on a pointer cycle")
			}
		})
	}
}

func TestTraverse_DefaultDepth(t *testing.T) {
	tr := traverse.New()
	if tr.MaxDepth() != traverse.DefaultMaxDepth {
		t.Errorf("MaxDepth() = %d, want %d", tr.MaxDepth(), traverse.DefaultMaxDepth)
	}
}
