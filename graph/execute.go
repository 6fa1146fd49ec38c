package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// attempt is one invocation of a computed node's agent.
type attempt struct {
	gen   uint64
	ctx   context.Context
	fn    AgentFunc
	ac    *AgentContext
	delay time.Duration
}

// execute runs on a scheduler worker holding one slot.
func (g *Graph) execute(n *node) {
	g.mu.Lock()
	if !g.running || n.state != StateQueued {
		g.mu.Unlock()
		g.sched.release()
		return
	}
	att := g.startAttempt(n)
	g.mu.Unlock()

	g.invoke(n, att)
}

// startAttempt mints a new generation and records the execute entry.
func (g *Graph) startAttempt(n *node) attempt {
	c := n.computed
	inputs := g.collectInputs(n)

	c.generation++
	n.state = StateExecuting
	c.started = time.Now()
	ctx, cancel := context.WithCancel(g.runCtx)
	c.cancel = cancel

	g.appendLog(TransactionLog{
		Kind:          LogExecute,
		NodeID:        n.id,
		State:         StateExecuting,
		TransactionID: c.generation,
		Retry:         c.retryCount,
		AgentID:       c.agentID,
		Params:        c.params,
		Inputs:        inputs,
	})

	fn, _ := g.resolveAgent(c.agentID)
	return attempt{
		gen: c.generation,
		ctx: ctx,
		fn:  fn,
		ac: &AgentContext{
			NodeID:    n.id,
			Retry:     c.retryCount,
			Params:    c.params,
			Inputs:    inputs,
			ForkIndex: n.forkIndex,
			Graph:     c.subgraph,
			Fork:      c.fork,
			Agents:    g.agents,
			parent:    g,
		},
		delay: g.cfg.backoff.delay(c.retryCount, nil),
	}
}

// collectInputs resolves inputs in declared order. Under anyInput undefined
// sources are dropped instead of passed as holes.
func (g *Graph) collectInputs(n *node) []any {
	values := make([]any, 0, len(n.inputs))
	for _, in := range n.inputs {
		if in.ref == nil {
			values = append(values, in.literal)
			continue
		}
		v, ok := in.ref.Resolve(g.nodes[in.ref.NodeID].result)
		if !ok && n.anyInput {
			continue
		}
		values = append(values, v)
	}
	return values
}

// invoke calls the agent outside the graph lock and reports the outcome.
func (g *Graph) invoke(n *node, att attempt) {
	if att.fn == nil {
		g.complete(n, att, nil, newEngineError(ErrUnknownAgent, "UNKNOWN_AGENT", "no agent registered as %q", n.computed.agentID))
		return
	}

	if att.delay > 0 {
		timer := time.NewTimer(att.delay)
		select {
		case <-timer.C:
		case <-att.ctx.Done():
			timer.Stop()
		}
	}

	g.mu.Lock()
	if n.state != StateExecuting || n.computed.generation != att.gen {
		g.mu.Unlock()
		return
	}
	g.armTimeout(n, att.gen)
	g.mu.Unlock()

	result, err := callAgent(att.ctx, att.fn, att.ac)
	g.complete(n, att, result, err)
}

func callAgent(ctx context.Context, fn AgentFunc, ac *AgentContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()
	return fn(ctx, ac)
}

// complete applies an attempt's outcome if the attempt is still current.
func (g *Graph) complete(n *node, att attempt, result any, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := n.computed
	if n.state != StateExecuting || c.generation != att.gen {
		g.logger.Debugf("node %s: discarding stale callback (generation %d, current %d)", n.id, att.gen, c.generation)
		g.metrics.IncrementStaleCallbacks(g.runID, n.id)
		return
	}
	if g.runCtx.Err() != nil {
		// The caller gave up; Run settles in-flight nodes through abandon.
		return
	}
	g.stopAttempt(c)
	g.appendChildLogs(att.ac.takeLogs())

	if err != nil {
		g.appendLog(TransactionLog{
			Kind:          LogError,
			NodeID:        n.id,
			State:         StateFailed,
			TransactionID: att.gen,
			Retry:         c.retryCount,
			AgentID:       c.agentID,
			Error:         err.Error(),
		})
		g.recordLatency(n, "error")
		if errors.Is(err, ErrUnknownAgent) {
			g.fail(n, StateFailed, err)
			return
		}
		g.retry(n, StateFailed, &AgentError{NodeID: n.id, Retry: c.retryCount, Err: err})
		return
	}

	g.recordLatency(n, "success")

	if c.outputs != nil {
		g.appendLog(TransactionLog{
			Kind:          LogCallback,
			NodeID:        n.id,
			State:         StateDispatched,
			TransactionID: att.gen,
			Retry:         c.retryCount,
			AgentID:       c.agentID,
			Result:        result,
		})
		n.setResult(nil, StateDispatched)
		g.dispatchOutputs(n, result)
		g.removeRunning(n)
		return
	}

	g.appendLog(TransactionLog{
		Kind:          LogCallback,
		NodeID:        n.id,
		State:         StateCompleted,
		TransactionID: att.gen,
		Retry:         c.retryCount,
		AgentID:       c.agentID,
		Result:        result,
	})
	n.setResult(result, StateCompleted)
	g.propagate(n)
	g.removeRunning(n)
}

// dispatchOutputs injects named result fields into their target static nodes.
func (g *Graph) dispatchOutputs(n *node, result any) {
	fields := make([]string, 0, len(n.computed.outputs))
	for field := range n.computed.outputs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		target := n.computed.outputs[field]
		v, ok := lookupKey(result, field)
		if !ok || v == nil {
			g.logger.Warnf("node %s: result has no field %q for output %s", n.id, field, target)
			continue
		}
		g.injectLocked(g.nodes[target], v, n.id)
	}
}

// retry re-invokes the node with a fresh generation while budget remains,
// keeping its scheduler slot; otherwise the node fails terminally.
func (g *Graph) retry(n *node, state NodeState, err error) {
	c := n.computed
	g.stopAttempt(c)
	if c.retryCount < c.retryLimit {
		c.retryCount++
		reason := "error"
		if state == StateTimedOut {
			reason = "timeout"
		}
		g.metrics.IncrementRetries(g.runID, n.id, reason)
		att := g.startAttempt(n)
		g.sched.spawn(func() { g.invoke(n, att) })
		return
	}
	g.fail(n, state, err)
}

// fail settles a node in Failed or TimedOut. The generation is bumped so any
// callback still in flight is stale. Dependents are not notified.
func (g *Graph) fail(n *node, state NodeState, err error) {
	c := n.computed
	g.stopAttempt(c)
	c.generation++
	n.setResult(nil, state)
	n.err = err
	g.logger.Debugf("node %s: %s: %v", n.id, state, err)
	g.removeRunning(n)
}

func (g *Graph) stopAttempt(c *computedPayload) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (g *Graph) recordLatency(n *node, status string) {
	g.metrics.RecordStepLatency(g.runID, n.id, time.Since(n.computed.started), status)
}
