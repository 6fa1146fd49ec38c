// Package emit delivers graph transaction events to observability backends.
package emit

// Event is one observability record. The graph engine emits one Event per
// transaction log entry.
type Event struct {
	// RunID identifies the graph instance. Child graphs use
	// "<parent>/<node>" and, inside a map fork, "<parent>/<node>#<index>".
	RunID string

	// Step is the entry's 1-based position in the graph's transaction log.
	Step int

	// NodeID identifies the node the entry concerns.
	NodeID string

	// Msg is the entry kind: node_injected, node_execute, node_timeout,
	// node_callback or node_error.
	Msg string

	// Meta carries structured details. Keys written by the engine:
	//   - "state": node state after the entry
	//   - "transaction_id": attempt generation
	//   - "attempt": retry count (0 for the first attempt)
	//   - "pass": loop pass, 0-based
	//   - "agent", "inject_from", "fork_index", "error" when present
	Meta map[string]interface{}
}
