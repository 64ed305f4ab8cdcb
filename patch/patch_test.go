package patch_test

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/mesh/patch"
)

func tree(t *testing.T, src string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(src), &v))
	return v
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want patch.Patch
	}{
		{
			name: "equal",
			from: `{"a":1,"b":[1,2]}`,
			to:   `{"a":1,"b":[1,2]}`,
			want: nil,
		},
		{
			name: "nested replace",
			from: `{"orders":{"42":{"status":"Pending","total":10}}}`,
			to:   `{"orders":{"42":{"status":"Shipped","total":10}}}`,
			want: patch.Patch{{Op: patch.OpReplace, Path: "/orders/42/status", Value: "Shipped"}},
		},
		{
			name: "keys added and removed in sorted order",
			from: `{"b":1,"d":2}`,
			to:   `{"a":0,"b":1,"c":3}`,
			want: patch.Patch{
				{Op: patch.OpAdd, Path: "/a", Value: float64(0)},
				{Op: patch.OpAdd, Path: "/c", Value: float64(3)},
				{Op: patch.OpRemove, Path: "/d"},
			},
		},
		{
			name: "array grows",
			from: `[1]`,
			to:   `[1,2,3]`,
			want: patch.Patch{
				{Op: patch.OpAdd, Path: "/1", Value: float64(2)},
				{Op: patch.OpAdd, Path: "/2", Value: float64(3)},
			},
		},
		{
			name: "array shrinks from the end",
			from: `[1,2,3]`,
			to:   `[9]`,
			want: patch.Patch{
				{Op: patch.OpReplace, Path: "/0", Value: float64(9)},
				{Op: patch.OpRemove, Path: "/2"},
				{Op: patch.OpRemove, Path: "/1"},
			},
		},
		{
			name: "kind change replaces",
			from: `{"a":[1]}`,
			to:   `{"a":{"x":1}}`,
			want: patch.Patch{{Op: patch.OpReplace, Path: "/a", Value: map[string]any{"x": float64(1)}}},
		},
		{
			name: "escaped keys",
			from: `{"a/b":1,"m~n":1}`,
			to:   `{"a/b":2,"m~n":1}`,
			want: patch.Patch{{Op: patch.OpReplace, Path: "/a~1b", Value: float64(2)}},
		},
		{
			name: "root scalar",
			from: `1`,
			to:   `"x"`,
			want: patch.Patch{{Op: patch.OpReplace, Path: "", Value: "x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := patch.Diff("", tree(t, tt.from), tree(t, tt.to))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiff_Prefix(t *testing.T) {
	got := patch.Diff("/orders/42", tree(t, `{"status":"Pending"}`), tree(t, `{"status":"Shipped"}`))
	assert.Equal(t, []string{"/orders/42/status"}, got.Paths())
}

func TestApply(t *testing.T) {
	doc := tree(t, `{"orders":{"42":{"status":"Pending"}},"tags":["a"]}`)
	p := patch.Patch{
		{Op: patch.OpReplace, Path: "/orders/42/status", Value: "Shipped"},
		{Op: patch.OpAdd, Path: "/tags/-", Value: "b"},
		{Op: patch.OpAdd, Path: "/note", Value: nil},
	}

	got, err := patch.Apply(doc, p)
	require.NoError(t, err)
	assert.Equal(t, tree(t, `{"orders":{"42":{"status":"Shipped"}},"tags":["a","b"],"note":null}`), got)
	assert.Equal(t, tree(t, `{"orders":{"42":{"status":"Pending"}},"tags":["a"]}`), doc, "input left untouched")
}

func TestApply_RootOperations(t *testing.T) {
	got, err := patch.Apply(nil, patch.Patch{
		{Op: patch.OpReplace, Path: "", Value: map[string]any{"a": 1}},
		{Op: patch.OpAdd, Path: "/b", Value: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, tree(t, `{"a":1,"b":2}`), got)

	got, err = patch.Apply(got, patch.Patch{{Op: patch.OpRemove, Path: ""}})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApply_Errors(t *testing.T) {
	doc := tree(t, `{"a":1}`)
	tests := []struct {
		name string
		p    patch.Patch
	}{
		{"missing parent", patch.Patch{{Op: patch.OpAdd, Path: "/x/y", Value: 1}}},
		{"remove missing", patch.Patch{{Op: patch.OpRemove, Path: "/nope"}}},
		{"unsupported op", patch.Patch{{Op: "move", Path: ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := patch.Apply(doc, tt.p)
			assert.ErrorIs(t, err, patch.ErrApply)
		})
	}
}

func TestOperation_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(patch.Patch{
		{Op: patch.OpReplace, Path: "/a", Value: nil},
		{Op: patch.OpRemove, Path: "/b", Value: "ignored"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"op":"replace","path":"/a","value":null},{"op":"remove","path":"/b"}]`, string(data))
}

func TestNormalize(t *testing.T) {
	type order struct {
		ID     int      `json:"id"`
		Status string   `json:"status"`
		Tags   []string `json:"tags,omitempty"`
	}
	got, err := patch.Normalize(order{ID: 42, Status: "Pending"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": float64(42), "status": "Pending"}, got)

	_, err = patch.Normalize(make(chan int))
	assert.Error(t, err)
}

func TestPointer(t *testing.T) {
	assert.Equal(t, "/a~1b/m~0n/0", patch.Join("a/b", "m~n", "0"))

	tokens, err := patch.Split("/a~1b/m~0n/0")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b", "m~n", "0"}, tokens)

	tokens, err = patch.Split("")
	require.NoError(t, err)
	assert.Empty(t, tokens)

	_, err = patch.Split("a/b")
	assert.ErrorIs(t, err, patch.ErrInvalidPointer)

	assert.True(t, patch.Within("/orders/42/status", "/orders/42"))
	assert.True(t, patch.Within("/orders/42", "/orders/42"))
	assert.True(t, patch.Within("/anything", ""))
	assert.False(t, patch.Within("/orders/420", "/orders/42"))
}

func TestGet(t *testing.T) {
	doc := tree(t, `{"orders":{"42":{"items":["x","y"]}}}`)

	v, err := patch.Get(doc, "/orders/42/items/1")
	require.NoError(t, err)
	assert.Equal(t, "y", v)

	v, err = patch.Get(doc, "")
	require.NoError(t, err)
	assert.Equal(t, doc, v)

	for _, p := range []string{"/orders/43", "/orders/42/items/2", "/orders/42/items/x", "/orders/42/items/0/deeper"} {
		_, err := patch.Get(doc, p)
		assert.ErrorIs(t, err, patch.ErrPathNotFound, p)
	}
}

func randomTree(r *rand.Rand, depth int) any {
	if depth == 0 {
		switch r.IntN(4) {
		case 0:
			return float64(r.IntN(5))
		case 1:
			return fmt.Sprintf("s%d", r.IntN(3))
		case 2:
			return r.IntN(2) == 0
		default:
			return nil
		}
	}
	switch r.IntN(3) {
	case 0:
		n := r.IntN(4)
		arr := make([]any, n)
		for i := range arr {
			arr[i] = randomTree(r, depth-1)
		}
		return arr
	case 1:
		obj := map[string]any{}
		for range r.IntN(4) {
			obj[fmt.Sprintf("k%d", r.IntN(5))] = randomTree(r, depth-1)
		}
		return obj
	default:
		return randomTree(r, 0)
	}
}

// Applying the diff between two trees to the first yields the second.
func TestDiffApply_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for i := range 500 {
		from := randomTree(r, 3)
		to := randomTree(r, 3)

		p := patch.Diff("", from, to)
		got, err := patch.Apply(from, p)
		require.NoError(t, err, "case %d: patch %v", i, p)
		if diff := cmp.Diff(to, got); diff != "" {
			t.Fatalf("case %d: Apply(Diff) mismatch (-want +got):\n%s", i, diff)
		}
	}
}
