// Package loader decodes graph descriptions from JSON, YAML, and HCL.
//
// All three formats produce the same graph.GraphData. Values, params, and
// inputs keep JSON shapes: numbers are float64, objects are map[string]any.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/agentgraph-go/graph"
)

// LoadFile reads path and picks the decoder from its extension: .json,
// .yaml/.yml, or .hcl.
func LoadFile(path string) (*graph.GraphData, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(src)
	case ".yaml", ".yml":
		return LoadYAML(src)
	case ".hcl":
		return LoadHCL(src, path)
	default:
		return nil, fmt.Errorf("unsupported graph file extension %q", filepath.Ext(path))
	}
}

// LoadJSON decodes a JSON graph description.
func LoadJSON(src []byte) (*graph.GraphData, error) {
	var data graph.GraphData
	if err := json.Unmarshal(src, &data); err != nil {
		return nil, fmt.Errorf("invalid graph JSON: %w", err)
	}
	if err := check(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// check rejects descriptions no graph can be built from. Deeper validation
// happens in graph.NewGraph.
func check(data *graph.GraphData) error {
	if len(data.Nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	for id, nd := range data.Nodes {
		if nd == nil {
			return fmt.Errorf("node %q is empty", id)
		}
		if nd.Graph != nil {
			if err := check(nd.Graph); err != nil {
				return fmt.Errorf("node %q: %w", id, err)
			}
		}
	}
	return nil
}
