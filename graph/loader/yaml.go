package loader

import (
	"encoding/json"
	"fmt"

	"go.yaml.in/yaml/v2"

	"github.com/dshills/agentgraph-go/graph"
)

// LoadYAML decodes a YAML graph description. Keys use the JSON field names
// (isResult, anyInput, injectionTo).
func LoadYAML(src []byte) (*graph.GraphData, error) {
	var raw interface{}
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return nil, fmt.Errorf("invalid graph YAML: %w", err)
	}
	normalized, err := normalizeYAML(raw)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to convert graph YAML: %w", err)
	}
	return LoadJSON(data)
}

// normalizeYAML turns map[interface{}]interface{} into map[string]interface{}
// so the tree can go through encoding/json.
func normalizeYAML(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}
