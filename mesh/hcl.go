package mesh

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclNodesFile is the top-level structure of a node descriptor file.
type hclNodesFile struct {
	Nodes []Node `hcl:"node,block"`
}

// LoadNodesHCL reads node blocks from an HCL file. vars are exposed to
// expressions as the env object.
func LoadNodesHCL(path string, vars map[string]string) ([]Node, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	return decodeNodes(file, path, vars)
}

// ParseNodesHCL is LoadNodesHCL for in-memory sources.
func ParseNodesHCL(src []byte, filename string, vars map[string]string) ([]Node, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL %s: %w", filename, diags)
	}
	return decodeNodes(file, filename, vars)
}

func decodeNodes(file *hcl.File, filename string, vars map[string]string) ([]Node, error) {
	var parsed hclNodesFile
	if diags := gohcl.DecodeBody(file.Body, evalContext(vars), &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL %s: %w", filename, diags)
	}

	seen := make(map[string]bool, len(parsed.Nodes))
	for _, node := range parsed.Nodes {
		if err := node.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		key := node.Address().String()
		if seen[key] {
			return nil, fmt.Errorf("%s: %w: duplicate node %s", filename, ErrInvalidNode, key)
		}
		seen[key] = true
	}
	return parsed.Nodes, nil
}

func evalContext(vars map[string]string) *hcl.EvalContext {
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		values := make(map[string]cty.Value, len(vars))
		for k, v := range vars {
			values[k] = cty.StringVal(v)
		}
		env = cty.ObjectVal(values)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}
