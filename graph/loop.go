package graph

// nextPass runs when a pass has nothing outstanding. It records the pass and
// reports whether another one was started.
func (g *Graph) nextPass() bool {
	g.passes++
	g.recordHistory()

	loop := g.data.Loop
	if loop == nil {
		return false
	}

	carried := g.carriedValues()
	if loop.Count > 0 && g.passes >= loop.Count {
		g.settleCarried(carried)
		return false
	}
	if g.whileRef != nil && !g.whileHolds(carried) {
		g.settleCarried(carried)
		return false
	}
	if g.cfg.maxPasses > 0 && g.passes >= g.cfg.maxPasses {
		g.settleCarried(carried)
		g.runErr = newEngineError(ErrMaxPassesExceeded, "MAX_PASSES", "loop stopped after %d passes", g.passes)
		return false
	}

	g.logger.Debugf("run %s: starting pass %d", g.runID, g.passes+1)
	prev := g.computedSnapshot()
	g.rearm(carried)
	g.pushReadyNodes()
	if g.outstanding == 0 {
		// Nothing can run, so another pass would look the same.
		g.logger.Warnf("run %s: pass %d queued no nodes, stopping loop", g.runID, g.passes+1)
		g.restoreComputed(prev)
		return false
	}
	return true
}

type computedState struct {
	result any
	state  NodeState
	err    error
}

func (g *Graph) computedSnapshot() map[string]computedState {
	out := make(map[string]computedState)
	for _, id := range g.order {
		n := g.nodes[id]
		if n.computed == nil {
			continue
		}
		out[id] = computedState{result: n.result, state: n.state, err: n.err}
	}
	return out
}

// restoreComputed puts computed nodes back to how the previous pass left them.
// Static nodes keep the carried values rearm injected.
func (g *Graph) restoreComputed(prev map[string]computedState) {
	for id, st := range prev {
		n := g.nodes[id]
		n.setResult(st.result, st.state)
		n.err = st.err
	}
}

// carriedValues computes the value each static node starts the next pass
// with: its update source's previous result when defined, else its own value.
func (g *Graph) carriedValues() map[string]any {
	carried := make(map[string]any)
	for _, id := range g.order {
		n := g.nodes[id]
		if n.kind != kindStatic {
			continue
		}
		v, has := n.static.value, n.static.hasValue
		if up := n.static.update; up != nil {
			if uv, ok := up.Resolve(g.nodes[up.NodeID].result); ok {
				v, has = uv, true
			}
		}
		if has {
			carried[id] = v
		}
	}
	return carried
}

// settleCarried applies the final update to static nodes when the loop
// stops. Computed nodes keep their results from the last pass. Dependents are
// not notified.
func (g *Graph) settleCarried(carried map[string]any) {
	for _, id := range g.order {
		if v, ok := carried[id]; ok {
			g.nodes[id].setResult(v, StateInjected)
		}
	}
}

// whileHolds evaluates the loop condition. A static source is read at its
// carried value; a computed source at its result from the pass just run.
func (g *Graph) whileHolds(carried map[string]any) bool {
	src := g.nodes[g.whileRef.NodeID]
	var base any
	if src.kind == kindStatic {
		base = carried[src.id]
	} else {
		base = src.result
	}
	v, _ := g.whileRef.Resolve(base)
	return Truthy(v)
}

// rearm returns every node to Waiting and injects carried static values.
// Generations keep counting so callbacks from the previous pass stay stale.
func (g *Graph) rearm(carried map[string]any) {
	for _, id := range g.order {
		n := g.nodes[id]
		n.setResult(nil, StateWaiting)
		n.err = nil
		n.resetPendings()
		if n.computed != nil {
			g.stopAttempt(n.computed)
			n.computed.retryCount = 0
		}
	}
	for _, id := range g.order {
		n := g.nodes[id]
		v, ok := carried[id]
		if !ok {
			continue
		}
		from := ""
		if up := n.static.update; up != nil {
			from = up.String()
		}
		g.injectLocked(n, v, from)
	}
}

func (g *Graph) recordHistory() {
	for _, id := range g.order {
		n := g.nodes[id]
		if n.accumulate && n.isResult {
			g.history[id] = append(g.history[id], n.result)
		}
	}
}
