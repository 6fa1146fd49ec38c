package agents

import (
	"context"
	"fmt"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/tool"
)

// ToolAgent exposes t as an agent. The tool input is the node's params
// overlaid with the first input when that input is an object.
//
//	"fetch": {"agent": "fetch", "inputs": [":request"], "params": {"method": "GET"}}
func ToolAgent(t tool.Tool) graph.AgentFunc {
	return func(ctx context.Context, ac *graph.AgentContext) (any, error) {
		input := make(map[string]interface{}, len(ac.Params))
		for k, v := range ac.Params {
			input[k] = v
		}
		if len(ac.Inputs) > 0 {
			if m, ok := ac.Inputs[0].(map[string]any); ok {
				for k, v := range m {
					input[k] = v
				}
			}
		}
		out, err := t.Call(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name(), err)
		}
		return out, nil
	}
}
