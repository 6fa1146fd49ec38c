package graph

import (
	"context"
	"fmt"
	"sync"
)

// AgentFunc is the callback a computed node runs. The context is cancelled
// when the attempt is superseded (timeout, abandoned run); results returned
// after that are discarded.
type AgentFunc func(ctx context.Context, ac *AgentContext) (any, error)

// AgentTable resolves agent ids to callbacks. Each graph receives its own
// table; child graphs inherit their parent's.
type AgentTable map[string]AgentFunc

// Reserved agent ids for the nested runtime. A table entry under the same id
// takes precedence.
const (
	NestedAgentID = "nestedAgent"
	MapAgentID    = "mapAgent"
)

// AgentContext carries one attempt's arguments to an agent.
type AgentContext struct {
	NodeID    string
	Retry     int
	Params    map[string]any
	Inputs    []any
	ForkIndex *int

	// Graph and Fork are the node's nested description, used by the nested
	// and map agents.
	Graph *GraphData
	Fork  *ForkData

	Agents AgentTable

	parent *Graph

	mu   sync.Mutex
	logs []TransactionLog
}

// Log pushes auxiliary entries into the owning graph's transaction log. They
// are appended when the attempt's callback is accepted.
func (ac *AgentContext) Log(entries ...TransactionLog) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.logs = append(ac.logs, entries...)
}

func (ac *AgentContext) takeLogs() []TransactionLog {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	logs := ac.logs
	ac.logs = nil
	return logs
}

// RunID returns the owning graph's run id, or "" outside a graph.
func (ac *AgentContext) RunID() string {
	if ac.parent == nil {
		return ""
	}
	return ac.parent.runID
}

// Scheduler returns the scheduler shared with the owning graph, or nil when
// the context was built outside a graph.
func (ac *AgentContext) Scheduler() *Scheduler {
	if ac.parent == nil {
		return nil
	}
	return ac.parent.sched
}

// NewChildGraph builds a graph that shares the owning graph's scheduler,
// agents, logger, emitter, and metrics. Extra options are applied last.
func (ac *AgentContext) NewChildGraph(data *GraphData, opts ...Option) (*Graph, error) {
	if ac.parent == nil {
		return nil, newEngineError(nil, "NO_PARENT", "agent context for %s has no owning graph", ac.NodeID)
	}
	p := ac.parent
	runID := p.runID + "/" + ac.NodeID
	if ac.ForkIndex != nil {
		runID = fmt.Sprintf("%s#%d", runID, *ac.ForkIndex)
	}
	base := []Option{
		WithScheduler(p.sched),
		WithLogger(p.logger),
		WithEmitter(p.emitter),
		WithRunID(runID),
		WithDefaultTimeout(p.cfg.defaultTimeout),
		WithRetryBackoff(p.cfg.backoff),
		WithMaxPasses(p.cfg.maxPasses),
	}
	if p.metrics != nil {
		base = append(base, WithMetrics(p.metrics))
	}
	if ac.ForkIndex != nil {
		base = append(base, WithForkIndex(*ac.ForkIndex))
	}
	agents := ac.Agents
	if agents == nil {
		agents = p.agents
	}
	return NewGraph(data, agents, append(base, opts...)...)
}

func (g *Graph) resolveAgent(id string) (AgentFunc, bool) {
	if fn, ok := g.agents[id]; ok && fn != nil {
		return fn, true
	}
	switch id {
	case NestedAgentID:
		return NestedAgent, true
	case MapAgentID:
		return MapAgent, true
	}
	return nil, false
}
