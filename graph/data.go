package graph

// GraphData is the declarative description of a graph. It is usually decoded
// from JSON, YAML, or HCL by the loader package.
type GraphData struct {
	Version     float64              `json:"version,omitempty"`
	Nodes       map[string]*NodeData `json:"nodes"`
	Loop        *LoopData            `json:"loop,omitempty"`
	Concurrency int                  `json:"concurrency,omitempty"`
}

// LoopData makes a graph repeat. Count bounds the number of passes; While
// names a node whose value must stay truthy for the next pass to start.
type LoopData struct {
	Count int    `json:"count,omitempty"`
	While string `json:"while,omitempty"`
}

// ForkData turns a nested graph node into a map over its input collection.
type ForkData struct {
	InjectionTo string `json:"injectionTo,omitempty"`
}

// NodeData describes one node. A node without Agent and Graph is static.
type NodeData struct {
	Value  any    `json:"value,omitempty"`
	Update string `json:"update,omitempty"`

	Agent    string            `json:"agent,omitempty"`
	Params   map[string]any    `json:"params,omitempty"`
	Inputs   []any             `json:"inputs,omitempty"`
	AnyInput bool              `json:"anyInput,omitempty"`
	Retry    int               `json:"retry,omitempty"`
	Timeout  int               `json:"timeout,omitempty"` // milliseconds
	Outputs  map[string]string `json:"outputs,omitempty"`

	If     string `json:"if,omitempty"`
	Unless string `json:"unless,omitempty"`

	IsResult   bool `json:"isResult,omitempty"`
	Accumulate bool `json:"accumulate,omitempty"`

	Graph *GraphData `json:"graph,omitempty"`
	Fork  *ForkData  `json:"fork,omitempty"`
}

// IsStatic reports whether the node holds data instead of running an agent.
func (d *NodeData) IsStatic() bool {
	return d.Agent == "" && d.Graph == nil
}

// agentID resolves the agent a computed node runs, including the implicit
// nested and map agents for nodes that only declare a sub-graph.
func (d *NodeData) agentID() string {
	if d.Agent != "" {
		return d.Agent
	}
	if d.Fork != nil {
		return MapAgentID
	}
	return NestedAgentID
}

// Clone returns a copy of the graph description whose node map and node
// records can be modified without affecting the receiver. Values and params
// are shared.
func (g *GraphData) Clone() *GraphData {
	if g == nil {
		return nil
	}
	out := *g
	out.Nodes = make(map[string]*NodeData, len(g.Nodes))
	for id, nd := range g.Nodes {
		if nd == nil {
			out.Nodes[id] = nil
			continue
		}
		cp := *nd
		out.Nodes[id] = &cp
	}
	if g.Loop != nil {
		loop := *g.Loop
		out.Loop = &loop
	}
	return &out
}
