package workspace

import (
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/tailored-agentic-units/mesh/patch"
)

// ContentVersion identifies v by content: a CIDv1 (raw codec, sha2-256)
// over its canonical JSON encoding. Object keys are encoded sorted, so equal
// trees always share a version.
func ContentVersion(v any) (string, error) {
	norm, err := patch.Normalize(v)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("content version: %w", err)
	}
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("content version: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// VersionOf is the content version of the slice ref addresses in tree.
func VersionOf(tree any, ref Reference) (string, error) {
	return ContentVersion(ref.Get(tree))
}
