package graph

import (
	"context"
	"sort"
	"time"
)

type nodeKind int

const (
	kindStatic nodeKind = iota
	kindComputed
)

// input is one positional argument: a reference to another node, or a
// literal value taken verbatim from the description.
type input struct {
	ref     *Ref
	literal any
}

// gate is an if/unless condition. A gate holds when the referenced value is
// truthy, or falsy when negate is set.
type gate struct {
	ref    Ref
	negate bool
}

// node is the shared core record of both node variants. Exactly one of static
// and computed is non-nil, matching kind. All fields are guarded by the owning
// graph's mutex.
type node struct {
	id   string
	kind nodeKind

	inputs   []input
	sources  map[string][]Ref // source node id -> refs to it among inputs
	gates    []gate
	pendings map[string]struct{}
	gating   map[string]struct{}
	waitlist []string

	anyInput   bool
	isResult   bool
	accumulate bool
	forkIndex  *int

	state     NodeState
	result    any
	hasResult bool
	err       error

	static   *staticPayload
	computed *computedPayload
}

type staticPayload struct {
	value    any
	hasValue bool
	update   *Ref
}

type computedPayload struct {
	agentID    string
	params     map[string]any
	retryLimit int
	retryCount int
	timeout    time.Duration
	outputs    map[string]string
	subgraph   *GraphData
	fork       *ForkData

	// generation identifies the current attempt; callbacks carrying any
	// other value are stale.
	generation uint64
	cancel     context.CancelFunc
	timer      *time.Timer
	started    time.Time
}

// NodeSnapshot is a read-only copy of a node's observable state.
type NodeSnapshot struct {
	ID         string
	Static     bool
	State      NodeState
	Result     any
	HasResult  bool
	Err        error
	RetryCount int
	Generation uint64
	Pendings   []string
	ForkIndex  *int
}

func newNode(id string, nd *NodeData, forkIndex *int, defaultTimeout time.Duration) (*node, error) {
	n := &node{
		id:         id,
		anyInput:   nd.AnyInput,
		isResult:   nd.IsResult,
		accumulate: nd.Accumulate,
		forkIndex:  forkIndex,
		sources:    make(map[string][]Ref),
	}

	if nd.IsStatic() {
		n.kind = kindStatic
		n.static = &staticPayload{value: nd.Value, hasValue: nd.Value != nil}
		if nd.Update != "" {
			ref, err := ParseRef(nd.Update)
			if err != nil {
				return nil, err
			}
			n.static.update = &ref
		}
		n.resetPendings()
		return n, nil
	}

	n.kind = kindComputed
	for _, raw := range nd.Inputs {
		s, isRef := raw.(string)
		if !isRef {
			n.inputs = append(n.inputs, input{literal: raw})
			continue
		}
		ref, err := ParseRef(s)
		if err != nil {
			return nil, err
		}
		n.inputs = append(n.inputs, input{ref: &ref})
		n.sources[ref.NodeID] = append(n.sources[ref.NodeID], ref)
	}
	for _, cond := range []struct {
		expr   string
		negate bool
	}{{nd.If, false}, {nd.Unless, true}} {
		if cond.expr == "" {
			continue
		}
		ref, err := ParseRef(cond.expr)
		if err != nil {
			return nil, err
		}
		n.gates = append(n.gates, gate{ref: ref, negate: cond.negate})
	}

	timeout := getNodeTimeout(nd.Timeout, defaultTimeout)
	n.computed = &computedPayload{
		agentID:    nd.agentID(),
		params:     nd.Params,
		retryLimit: nd.Retry,
		timeout:    timeout,
		outputs:    nd.Outputs,
		subgraph:   nd.Graph,
		fork:       nd.Fork,
	}
	if n.computed.params == nil {
		n.computed.params = map[string]any{}
	}
	n.resetPendings()
	return n, nil
}

// dependencies lists every node id this node waits on, inputs first.
func (n *node) dependencies() []string {
	seen := make(map[string]struct{})
	var deps []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		deps = append(deps, id)
	}
	for _, in := range n.inputs {
		if in.ref != nil {
			add(in.ref.NodeID)
		}
	}
	for _, g := range n.gates {
		add(g.ref.NodeID)
	}
	return deps
}

func (n *node) resetPendings() {
	n.pendings = make(map[string]struct{}, len(n.sources))
	for id := range n.sources {
		n.pendings[id] = struct{}{}
	}
	n.gating = make(map[string]struct{}, len(n.gates))
	for _, g := range n.gates {
		n.gating[g.ref.NodeID] = struct{}{}
	}
}

// removePending records that sourceID has resolved. lookup returns the
// source node's current result.
func (n *node) removePending(sourceID string, lookup func(string) (any, bool)) {
	delete(n.gating, sourceID)

	refs, isInput := n.sources[sourceID]
	if !isInput {
		return
	}
	if !n.anyInput {
		delete(n.pendings, sourceID)
		return
	}
	result, ok := lookup(sourceID)
	if !ok {
		return
	}
	for _, ref := range refs {
		if _, defined := ref.Resolve(result); defined {
			clear(n.pendings)
			return
		}
	}
}

func (n *node) setResult(result any, state NodeState) {
	n.state = state
	n.result = result
	n.hasResult = result != nil
}

func (n *node) snapshot() NodeSnapshot {
	s := NodeSnapshot{
		ID:        n.id,
		Static:    n.kind == kindStatic,
		State:     n.state,
		Result:    n.result,
		HasResult: n.hasResult,
		Err:       n.err,
		ForkIndex: n.forkIndex,
	}
	if n.computed != nil {
		s.RetryCount = n.computed.retryCount
		s.Generation = n.computed.generation
	}
	for id := range n.pendings {
		s.Pendings = append(s.Pendings, id)
	}
	for id := range n.gating {
		if _, dup := n.pendings[id]; !dup {
			s.Pendings = append(s.Pendings, id)
		}
	}
	sort.Strings(s.Pendings)
	return s
}
