package graph

import "time"

// getNodeTimeout resolves the attempt timeout for a node.
//
// Precedence:
//  1. the node's own timeout (milliseconds), when positive
//  2. the graph default from WithDefaultTimeout
//  3. no timeout
func getNodeTimeout(nodeMillis int, defaultTimeout time.Duration) time.Duration {
	if nodeMillis > 0 {
		return time.Duration(nodeMillis) * time.Millisecond
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// armTimeout starts the timer for attempt gen of n. The timer only acts if the
// node is still executing the same generation when it fires.
func (g *Graph) armTimeout(n *node, gen uint64) {
	c := n.computed
	if c.timeout <= 0 {
		return
	}
	c.timer = time.AfterFunc(c.timeout, func() {
		g.onTimeout(n, gen)
	})
}

func (g *Graph) onTimeout(n *node, gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := n.computed
	if n.state != StateExecuting || c.generation != gen || g.runCtx.Err() != nil {
		return
	}
	g.logger.Debugf("node %s: timeout after %v (generation %d)", n.id, c.timeout, gen)
	g.appendLog(TransactionLog{
		Kind:          LogTimeout,
		NodeID:        n.id,
		State:         StateTimedOut,
		TransactionID: gen,
		Retry:         c.retryCount,
		AgentID:       c.agentID,
		Error:         ErrTimeout.Error(),
	})
	g.recordLatency(n, "timeout")
	g.retry(n, StateTimedOut, &AgentError{NodeID: n.id, Retry: c.retryCount, Timeout: true, Err: ErrTimeout})
}
