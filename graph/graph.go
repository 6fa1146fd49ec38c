// Package graph implements a declarative, dependency-driven graph scheduler.
// Nodes wait on references to other nodes' results and run as soon as those
// results are available, bounded by a shared concurrency limit.
package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/agentgraph-go/graph/emit"
	"github.com/dshills/agentgraph-go/graph/log"
	"github.com/dshills/agentgraph-go/graph/store"
)

// Graph is one single-use instance of a graph description. It owns its nodes
// exclusively; child graphs created by the nested runtime are separate
// instances sharing only the scheduler.
//
// All node state is guarded by mu. Agent callbacks run outside the lock on
// scheduler workers and re-acquire it to report their outcome.
type Graph struct {
	mu sync.Mutex

	runID     string
	data      *GraphData
	nodes     map[string]*node
	order     []string
	whileRef  *Ref
	agents    AgentTable
	sched     *Scheduler
	ownsSched bool
	cfg       graphConfig

	logger  log.Logger
	emitter emit.Emitter
	metrics *PrometheusMetrics
	store   store.Store[TransactionLog]

	logs        []TransactionLog
	outstanding int
	passes      int
	history     map[string][]any

	started  bool
	running  bool
	finished bool
	runErr   error

	runCtx    context.Context
	cancelRun context.CancelFunc
	startedAt time.Time
	done      chan struct{}
}

// NewGraph builds every node, wires waitlists in a second pass, validates the
// description, and seeds static values. Nothing executes until Run.
func NewGraph(data *GraphData, agents AgentTable, opts ...Option) (*Graph, error) {
	if data == nil || len(data.Nodes) == 0 {
		return nil, newEngineError(ErrInvalidGraph, "INVALID_GRAPH", "graph has no nodes")
	}

	var cfg graphConfig
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	g := &Graph{
		runID:   cfg.runID,
		data:    data,
		nodes:   make(map[string]*node, len(data.Nodes)),
		agents:  agents,
		cfg:     cfg,
		logger:  cfg.logger,
		emitter: cfg.emitter,
		metrics: cfg.metrics,
		store:   cfg.store,
		history: make(map[string][]any),
		done:    make(chan struct{}),
	}
	if g.runID == "" {
		g.runID = uuid.NewString()
	}
	if g.logger == nil {
		g.logger = log.Default
	}
	if g.emitter == nil {
		g.emitter = emit.NewNullEmitter()
	}
	if g.agents == nil {
		g.agents = AgentTable{}
	}

	if err := g.build(); err != nil {
		return nil, err
	}

	g.sched = cfg.scheduler
	if g.sched == nil {
		concurrency := cfg.concurrency
		if concurrency == 0 {
			concurrency = data.Concurrency
		}
		if concurrency == 0 {
			concurrency = DefaultConcurrency
		}
		sched, err := NewScheduler(concurrency, WithSchedulerMetrics(cfg.metrics))
		if err != nil {
			return nil, err
		}
		g.sched = sched
		g.ownsSched = true
	}

	g.mu.Lock()
	g.seedStatics()
	g.mu.Unlock()
	return g, nil
}

func (g *Graph) build() error {
	for id := range g.data.Nodes {
		g.order = append(g.order, id)
	}
	sort.Strings(g.order)

	for _, id := range g.order {
		nd := g.data.Nodes[id]
		if nd == nil {
			return newEngineError(ErrInvalidGraph, "INVALID_NODE", "node %s has no description", id)
		}
		n, err := newNode(id, nd, g.cfg.forkIndex, g.cfg.defaultTimeout)
		if err != nil {
			return err
		}
		g.nodes[id] = n
	}

	if loop := g.data.Loop; loop != nil {
		if loop.Count < 0 {
			return newEngineError(ErrInvalidGraph, "INVALID_LOOP", "loop count %d is negative", loop.Count)
		}
		if loop.Count == 0 && loop.While == "" {
			return newEngineError(ErrInvalidGraph, "INVALID_LOOP", "loop needs a count or a while condition")
		}
		if loop.While != "" {
			ref, err := ParseRef(loop.While)
			if err != nil {
				return err
			}
			if _, ok := g.nodes[ref.NodeID]; !ok {
				return newEngineError(ErrUnknownNode, "UNKNOWN_SOURCE", "loop condition references unknown node %s", ref.NodeID)
			}
			g.whileRef = &ref
		}
	}

	for _, id := range g.order {
		n := g.nodes[id]
		for _, dep := range n.dependencies() {
			src, ok := g.nodes[dep]
			if !ok {
				return newEngineError(ErrUnknownNode, "UNKNOWN_SOURCE", "node %s references unknown node %s", id, dep)
			}
			src.waitlist = append(src.waitlist, id)
		}
		if n.static != nil && n.static.update != nil {
			if _, ok := g.nodes[n.static.update.NodeID]; !ok {
				return newEngineError(ErrUnknownNode, "UNKNOWN_SOURCE", "node %s updates from unknown node %s", id, n.static.update.NodeID)
			}
		}
		if n.computed != nil {
			for field, target := range n.computed.outputs {
				dst, ok := g.nodes[target]
				if !ok {
					return newEngineError(ErrUnknownNode, "UNKNOWN_OUTPUT", "node %s routes %q to unknown node %s", id, field, target)
				}
				if dst.kind != kindStatic {
					return newEngineError(ErrNotStatic, "INVALID_OUTPUT", "node %s routes %q to computed node %s", id, field, target)
				}
			}
		}
	}
	return nil
}

// seedStatics injects the initial value of every static node that has one.
func (g *Graph) seedStatics() {
	for _, id := range g.order {
		n := g.nodes[id]
		if n.kind == kindStatic && n.static.hasValue {
			g.injectLocked(n, n.static.value, "")
		}
	}
}

// RunID returns the identifier used for logs, events, metrics, and the store.
func (g *Graph) RunID() string {
	return g.runID
}

// Scheduler returns the scheduler the graph dispatches to.
func (g *Graph) Scheduler() *Scheduler {
	return g.sched
}

// Run admits every ready node and blocks until the graph completes or ctx is
// done. It returns the isResult values; nodes whose dependency chain failed
// are absent. A graph runs once.
func (g *Graph) Run(ctx context.Context) (map[string]any, error) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return nil, newEngineError(ErrAlreadyRun, "ALREADY_RUN", "graph %s has already been run", g.runID)
	}
	g.started = true
	g.running = true
	g.startedAt = time.Now()
	g.runCtx, g.cancelRun = context.WithCancel(ctx)
	g.pushReadyNodes()
	g.checkIdle()
	g.mu.Unlock()

	select {
	case <-g.done:
	case <-ctx.Done():
		g.abandon(ctx.Err())
		<-g.done
	}

	g.mu.Lock()
	results := g.resultsLocked()
	runErr := g.runErr
	g.mu.Unlock()

	g.persist(ctx, results, runErr)
	if g.ownsSched {
		g.sched.Close()
	}
	return results, runErr
}

// abandon stops waiting for in-flight attempts. Their generations are bumped
// so any late callback is stale, and their slots are returned.
func (g *Graph) abandon(cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finished {
		return
	}
	for _, id := range g.order {
		n := g.nodes[id]
		switch n.state {
		case StateExecuting:
			c := n.computed
			g.stopAttempt(c)
			c.generation++
			n.state = StateFailed
			n.err = &AgentError{NodeID: n.id, Retry: c.retryCount, Err: cause}
			g.sched.release()
		case StateQueued:
			// The scheduler still holds the work item; execute releases the
			// slot when it sees the graph is no longer running.
			n.state = StateFailed
			n.err = &AgentError{NodeID: n.id, Err: cause}
		}
	}
	g.outstanding = 0
	g.runErr = cause
	g.finish()
}

func (g *Graph) finish() {
	if g.finished {
		return
	}
	g.running = false
	g.finished = true
	if g.cancelRun != nil {
		g.cancelRun()
	}
	close(g.done)
}

// Done is closed when the graph completes.
func (g *Graph) Done() <-chan struct{} {
	return g.done
}

// InjectValue sets the value of a static node and propagates it to
// dependents. It is safe to call while the graph runs. Values injected before
// Run also become the node's value for later loop passes.
func (g *Graph) InjectValue(nodeID string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[nodeID]
	if !ok {
		return newEngineError(ErrUnknownNode, "UNKNOWN_NODE", "cannot inject into unknown node %s", nodeID)
	}
	if n.kind != kindStatic {
		return newEngineError(ErrNotStatic, "NOT_STATIC", "cannot inject into computed node %s", nodeID)
	}
	if !g.started {
		n.static.value = value
		n.static.hasValue = value != nil
	}
	g.injectLocked(n, value, "")
	return nil
}

func (g *Graph) injectLocked(n *node, value any, from string) {
	g.appendLog(TransactionLog{
		Kind:       LogInjected,
		NodeID:     n.id,
		State:      StateInjected,
		Result:     value,
		InjectFrom: from,
	})
	n.setResult(value, StateInjected)
	g.propagate(n)
}

// propagate clears n from the pendings of every dependent.
func (g *Graph) propagate(n *node) {
	for _, id := range n.waitlist {
		dep := g.nodes[id]
		dep.removePending(n.id, g.lookup)
		g.pushQueueIfReady(dep)
	}
}

func (g *Graph) lookup(id string) (any, bool) {
	n := g.nodes[id]
	return n.result, n.hasResult
}

func (g *Graph) pushReadyNodes() {
	for _, id := range g.order {
		g.pushQueueIfReady(g.nodes[id])
	}
}

// pushQueueIfReady queues a waiting computed node once its pendings and gates
// are clear, every property-addressed input exists, and its conditions hold.
func (g *Graph) pushQueueIfReady(n *node) {
	if !g.running || n.kind != kindComputed || n.state != StateWaiting {
		return
	}
	if len(n.pendings) > 0 || len(n.gating) > 0 {
		return
	}

	count := 0
	for _, in := range n.inputs {
		if in.ref != nil && in.ref.HasPath() {
			src := g.nodes[in.ref.NodeID]
			if _, ok := in.ref.Resolve(src.result); !ok {
				continue
			}
		}
		count++
	}
	if count != len(n.inputs) && !(n.anyInput && count > 0) {
		return
	}

	for _, gt := range n.gates {
		v, _ := gt.ref.Resolve(g.nodes[gt.ref.NodeID].result)
		if Truthy(v) == gt.negate {
			g.logger.Debugf("node %s: condition %s not met, staying idle", n.id, gt.ref)
			return
		}
	}

	g.pushQueue(n)
}

func (g *Graph) pushQueue(n *node) {
	n.state = StateQueued
	g.outstanding++
	g.sched.enqueue(workItem{
		runID:  g.runID,
		nodeID: n.id,
		run:    func() { g.execute(n) },
	})
}

// removeRunning is called once per node when it leaves the outstanding set:
// completed, dispatched, or terminally failed.
func (g *Graph) removeRunning(n *node) {
	g.outstanding--
	g.sched.release()
	g.checkIdle()
}

// checkIdle finishes the pass when nothing is outstanding, starting the next
// loop pass or completing the graph.
func (g *Graph) checkIdle() {
	for g.running && g.outstanding == 0 {
		if !g.nextPass() {
			g.finish()
			return
		}
	}
}

func (g *Graph) appendLog(entry TransactionLog) {
	if entry.RunID == "" {
		entry.RunID = g.runID
	}
	if entry.ForkIndex == nil {
		entry.ForkIndex = g.cfg.forkIndex
	}
	entry.Pass = g.passes
	entry.Time = time.Now()
	g.logs = append(g.logs, entry)
	g.emitter.Emit(entry.event(len(g.logs)))
}

// appendChildLogs flattens entries produced by child graphs. They were
// already emitted by the child.
func (g *Graph) appendChildLogs(entries []TransactionLog) {
	g.logs = append(g.logs, entries...)
}

// TransactionLogs returns a copy of the ordered log.
func (g *Graph) TransactionLogs() []TransactionLog {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]TransactionLog, len(g.logs))
	copy(out, g.logs)
	return out
}

// Results returns the values of isResult nodes. Accumulating nodes report
// their per-pass history.
func (g *Graph) Results() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resultsLocked()
}

func (g *Graph) resultsLocked() map[string]any {
	out := make(map[string]any)
	for _, id := range g.order {
		n := g.nodes[id]
		if !n.isResult {
			continue
		}
		if n.accumulate && g.data.Loop != nil {
			hist := make([]any, len(g.history[id]))
			copy(hist, g.history[id])
			out[id] = hist
			continue
		}
		if n.hasResult {
			out[id] = n.result
		}
	}
	return out
}

// AllResults returns the current value of every node that has one.
func (g *Graph) AllResults() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]any)
	for _, id := range g.order {
		if n := g.nodes[id]; n.hasResult {
			out[id] = n.result
		}
	}
	return out
}

// Errors returns the terminal error of every failed or timed-out node.
func (g *Graph) Errors() map[string]error {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]error)
	for _, id := range g.order {
		if n := g.nodes[id]; n.err != nil {
			out[id] = n.err
		}
	}
	return out
}

// Node returns a snapshot of one node.
func (g *Graph) Node(id string) (NodeSnapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return NodeSnapshot{}, false
	}
	return n.snapshot(), true
}

// Passes returns the number of completed passes.
func (g *Graph) Passes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.passes
}

// BlockedNodes lists waiting nodes that can never run because an ancestor
// failed, timed out, or dispatched its result elsewhere. Failure leaves these
// nodes in StateWaiting; this is the only place the cause is surfaced.
func (g *Graph) BlockedNodes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	memo := make(map[string]bool)
	var blocked func(id string, visiting map[string]bool) bool
	blocked = func(id string, visiting map[string]bool) bool {
		if v, ok := memo[id]; ok {
			return v
		}
		if visiting[id] {
			return false
		}
		visiting[id] = true
		n := g.nodes[id]
		result := false
		for _, dep := range n.dependencies() {
			src := g.nodes[dep]
			if src.state.failedLike() || (src.state == StateWaiting && blocked(dep, visiting)) {
				result = true
				break
			}
		}
		memo[id] = result
		return result
	}

	var out []string
	for _, id := range g.order {
		if g.nodes[id].state == StateWaiting && blocked(id, map[string]bool{}) {
			out = append(out, id)
		}
	}
	return out
}

func (g *Graph) persist(ctx context.Context, results map[string]any, runErr error) {
	if g.store == nil {
		return
	}
	rec := store.RunRecord[TransactionLog]{
		RunID:      g.runID,
		Entries:    g.TransactionLogs(),
		Results:    results,
		StartedAt:  g.startedAt,
		FinishedAt: time.Now(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := g.store.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		g.logger.Errorf("run %s: failed to persist run: %v", g.runID, err)
	}
}
