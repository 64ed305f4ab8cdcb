package workspace

import (
	"context"

	"github.com/tailored-agentic-units/mesh/patch"
	"github.com/tailored-agentic-units/mesh/traverse"
)

// Normalizer turns domain values into workspace trees. Hooks registered on
// the traverser apply, so redacted or projected fields never reach a store.
type Normalizer struct {
	traverser *traverse.Traverser
}

func NewNormalizer(t *traverse.Traverser) *Normalizer {
	if t == nil {
		t = traverse.New()
	}
	return &Normalizer{traverser: t}
}

func (n *Normalizer) Normalize(ctx context.Context, v any) (any, error) {
	res, err := n.traverser.Traverse(ctx, v)
	if err != nil {
		return nil, err
	}
	return patch.Normalize(res.Value)
}
