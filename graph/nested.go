package graph

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// NestedAgent runs the node's graph as a child graph on the parent's
// scheduler. Inputs are bound to the child's static nodes named by the
// "namedInputs" param, defaulting to $0, $1, ... The result is the child's
// isResult map.
func NestedAgent(ctx context.Context, ac *AgentContext) (any, error) {
	if ac.Graph == nil {
		return nil, newEngineError(ErrInvalidGraph, "NO_SUBGRAPH", "node %s has no nested graph", ac.NodeID)
	}
	sched := ac.Scheduler()
	if err := checkNestingCapacity(sched, ac.NodeID); err != nil {
		return nil, err
	}

	data := ac.Graph.Clone()
	for i, name := range namedInputs(ac.Params, len(ac.Inputs)) {
		if i >= len(ac.Inputs) {
			break
		}
		nd := data.Nodes[name]
		if nd == nil {
			data.Nodes[name] = &NodeData{Value: ac.Inputs[i]}
			continue
		}
		if !nd.IsStatic() {
			return nil, newEngineError(ErrNotStatic, "INVALID_INJECTION", "nested input %s of node %s is not static", name, ac.NodeID)
		}
		nd.Value = ac.Inputs[i]
	}

	child, err := ac.NewChildGraph(data)
	if err != nil {
		return nil, err
	}

	sched.PrepareForNesting()
	defer sched.RestoreAfterNesting()

	results, err := child.Run(ctx)
	ac.Log(child.TransactionLogs()...)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// MapAgent runs one child graph per input item, all concurrently, and
// returns a map from each child isResult node id to the per-item values in
// fork order. A child that leaves a result undefined contributes nil at its
// index.
func MapAgent(ctx context.Context, ac *AgentContext) (any, error) {
	if ac.Graph == nil {
		return nil, newEngineError(ErrInvalidGraph, "NO_SUBGRAPH", "node %s has no nested graph", ac.NodeID)
	}
	sched := ac.Scheduler()
	if err := checkNestingCapacity(sched, ac.NodeID); err != nil {
		return nil, err
	}

	items := mapItems(ac.Inputs)
	injectionTo := "$0"
	if ac.Fork != nil && ac.Fork.InjectionTo != "" {
		injectionTo = ac.Fork.InjectionTo
	}
	if s, ok := ac.Params["injectionTo"].(string); ok && s != "" {
		injectionTo = s
	}

	template := ac.Graph.Clone()
	if nd := template.Nodes[injectionTo]; nd == nil {
		template.Nodes[injectionTo] = &NodeData{}
	} else if !nd.IsStatic() {
		return nil, newEngineError(ErrNotStatic, "INVALID_INJECTION", "map target %s of node %s is not static", injectionTo, ac.NodeID)
	}

	var resultIDs []string
	for id, nd := range template.Nodes {
		if nd != nil && nd.IsResult {
			resultIDs = append(resultIDs, id)
		}
	}
	if len(resultIDs) == 0 {
		return nil, newEngineError(ErrInvalidGraph, "NO_RESULTS", "map graph of node %s has no isResult node", ac.NodeID)
	}
	sort.Strings(resultIDs)

	parentRunID := ac.parent.runID
	children := make([]*Graph, len(items))
	for i, item := range items {
		child, err := ac.NewChildGraph(template.Clone(),
			WithForkIndex(i),
			WithRunID(fmt.Sprintf("%s/%s#%d", parentRunID, ac.NodeID, i)),
		)
		if err != nil {
			return nil, err
		}
		if err := child.InjectValue(injectionTo, item); err != nil {
			return nil, err
		}
		children[i] = child
	}
	ac.parent.metrics.IncrementForkedGraphs(parentRunID, len(children))

	sched.PrepareForNesting()
	defer sched.RestoreAfterNesting()

	outcomes := make([]map[string]any, len(children))
	var eg errgroup.Group
	for i, child := range children {
		eg.Go(func() error {
			res, err := child.Run(ctx)
			if err != nil {
				ac.parent.logger.Warnf("node %s: fork %d: %v", ac.NodeID, i, err)
			}
			outcomes[i] = res
			return nil
		})
	}
	_ = eg.Wait()

	for _, child := range children {
		ac.Log(child.TransactionLogs()...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	composite := make(map[string]any, len(resultIDs))
	for _, id := range resultIDs {
		values := make([]any, len(outcomes))
		for i, res := range outcomes {
			values[i] = res[id]
		}
		composite[id] = values
	}
	return composite, nil
}

func checkNestingCapacity(sched *Scheduler, nodeID string) error {
	if sched == nil {
		return newEngineError(nil, "NO_PARENT", "nested node %s must run inside a graph", nodeID)
	}
	st := sched.Status()
	if st.Concurrency <= st.Running {
		return newEngineError(ErrConcurrencyTooLow, "CONCURRENCY_TOO_LOW",
			"node %s needs a free slot for its child graph (concurrency %d, running %d)", nodeID, st.Concurrency, st.Running)
	}
	return nil
}

func namedInputs(params map[string]any, n int) []string {
	switch v := params["namedInputs"].(type) {
	case []string:
		return v
	case []any:
		names := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("$%d", i)
	}
	return names
}

func mapItems(inputs []any) []any {
	if len(inputs) > 0 {
		if items, ok := asSlice(inputs[0]); ok {
			return items
		}
	}
	return inputs
}
