package loader

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/dshills/agentgraph-go/graph"
)

// hclGraph is the HCL form of a graph:
//
//	concurrency = 4
//
//	loop {
//	  count = 3
//	}
//
//	node "a" {
//	  value = 2
//	}
//
//	node "sum" {
//	  agent     = "add"
//	  inputs    = [":a", 3]
//	  is_result = true
//	}
//
// A node's graph block holds a nested graph with the same layout.
type hclGraph struct {
	Version     *float64   `hcl:"version,optional"`
	Concurrency *int       `hcl:"concurrency,optional"`
	Loop        *hclLoop   `hcl:"loop,block"`
	Nodes       []*hclNode `hcl:"node,block"`
}

type hclLoop struct {
	Count *int    `hcl:"count,optional"`
	While *string `hcl:"while,optional"`
}

type hclFork struct {
	InjectionTo *string `hcl:"injection_to,optional"`
}

type hclNode struct {
	ID string `hcl:"id,label"`

	Value  hcl.Expression `hcl:"value,optional"`
	Update *string        `hcl:"update,optional"`

	Agent    *string           `hcl:"agent,optional"`
	Params   hcl.Expression    `hcl:"params,optional"`
	Inputs   hcl.Expression    `hcl:"inputs,optional"`
	AnyInput *bool             `hcl:"any_input,optional"`
	Retry    *int              `hcl:"retry,optional"`
	Timeout  *int              `hcl:"timeout,optional"`
	Outputs  map[string]string `hcl:"outputs,optional"`

	If     *string `hcl:"if,optional"`
	Unless *string `hcl:"unless,optional"`

	IsResult   *bool `hcl:"is_result,optional"`
	Accumulate *bool `hcl:"accumulate,optional"`

	Graph *hclGraph `hcl:"graph,block"`
	Fork  *hclFork  `hcl:"fork,block"`
}

// LoadHCL decodes an HCL graph description. filename is used in
// diagnostics only.
func LoadHCL(src []byte, filename string) (*graph.GraphData, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var parsed hclGraph
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	data, err := parsed.toGraphData()
	if err != nil {
		return nil, fmt.Errorf("HCL file %s: %w", filename, err)
	}
	if err := check(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (g *hclGraph) toGraphData() (*graph.GraphData, error) {
	out := &graph.GraphData{Nodes: make(map[string]*graph.NodeData, len(g.Nodes))}
	if g.Version != nil {
		out.Version = *g.Version
	}
	if g.Concurrency != nil {
		out.Concurrency = *g.Concurrency
	}
	if g.Loop != nil {
		out.Loop = &graph.LoopData{}
		if g.Loop.Count != nil {
			out.Loop.Count = *g.Loop.Count
		}
		if g.Loop.While != nil {
			out.Loop.While = *g.Loop.While
		}
	}
	for _, n := range g.Nodes {
		if _, dup := out.Nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node %q", n.ID)
		}
		nd, err := n.toNodeData()
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
		out.Nodes[n.ID] = nd
	}
	return out, nil
}

func (n *hclNode) toNodeData() (*graph.NodeData, error) {
	nd := &graph.NodeData{
		Update:     deref(n.Update),
		Agent:      deref(n.Agent),
		AnyInput:   derefBool(n.AnyInput),
		Outputs:    n.Outputs,
		If:         deref(n.If),
		Unless:     deref(n.Unless),
		IsResult:   derefBool(n.IsResult),
		Accumulate: derefBool(n.Accumulate),
	}
	if n.Retry != nil {
		nd.Retry = *n.Retry
	}
	if n.Timeout != nil {
		nd.Timeout = *n.Timeout
	}

	var err error
	if nd.Value, err = exprValue(n.Value); err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	params, err := exprValue(n.Params)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	if params != nil {
		m, ok := params.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("params must be an object")
		}
		nd.Params = m
	}
	inputs, err := exprValue(n.Inputs)
	if err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	if inputs != nil {
		list, ok := inputs.([]any)
		if !ok {
			return nil, fmt.Errorf("inputs must be a list")
		}
		nd.Inputs = list
	}

	if n.Graph != nil {
		if nd.Graph, err = n.Graph.toGraphData(); err != nil {
			return nil, fmt.Errorf("graph: %w", err)
		}
	}
	if n.Fork != nil {
		nd.Fork = &graph.ForkData{InjectionTo: deref(n.Fork.InjectionTo)}
	}
	return nd, nil
}

// exprValue evaluates a literal expression and converts it to the JSON
// shapes the engine uses. A missing attribute yields nil.
func exprValue(expr hcl.Expression) (any, error) {
	if expr == nil {
		return nil, nil
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	raw, err := ctyjson.SimpleJSONValue{Value: v}.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	return b != nil && *b
}
