package graph

import (
	"time"

	"github.com/dshills/agentgraph-go/graph/emit"
)

// LogKind classifies a transaction log entry.
type LogKind string

const (
	LogInjected LogKind = "injected"
	LogExecute  LogKind = "execute"
	LogTimeout  LogKind = "timeout"
	LogCallback LogKind = "callback"
	LogError    LogKind = "error"
)

// TransactionLog is one append-only audit record. Entries flattened from a
// child graph keep the child's RunID and carry its ForkIndex.
type TransactionLog struct {
	Kind          LogKind        `json:"kind"`
	RunID         string         `json:"runId"`
	NodeID        string         `json:"nodeId"`
	State         NodeState      `json:"state"`
	TransactionID uint64         `json:"transactionId,omitempty"`
	Retry         int            `json:"retry"`
	AgentID       string         `json:"agentId,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
	Inputs        []any          `json:"inputs,omitempty"`
	Result        any            `json:"result,omitempty"`
	InjectFrom    string         `json:"injectFrom,omitempty"`
	Error         string         `json:"error,omitempty"`
	ForkIndex     *int           `json:"forkIndex,omitempty"`
	Pass          int            `json:"pass"`
	Time          time.Time      `json:"time"`
}

// event converts the entry to an emit.Event. Step is the entry's position in
// the owning graph's log.
func (l TransactionLog) event(step int) emit.Event {
	meta := map[string]interface{}{
		"state":          l.State.String(),
		"transaction_id": int64(l.TransactionID),
		"attempt":        l.Retry,
		"pass":           l.Pass,
	}
	if l.AgentID != "" {
		meta["agent"] = l.AgentID
	}
	if l.InjectFrom != "" {
		meta["inject_from"] = l.InjectFrom
	}
	if l.ForkIndex != nil {
		meta["fork_index"] = *l.ForkIndex
	}
	if l.Error != "" {
		meta["error"] = l.Error
	}
	return emit.Event{
		RunID:  l.RunID,
		Step:   step,
		NodeID: l.NodeID,
		Msg:    "node_" + string(l.Kind),
		Meta:   meta,
	}
}

// CountLogs returns how many entries of the given kind exist for a node.
func CountLogs(logs []TransactionLog, nodeID string, kind LogKind) int {
	n := 0
	for _, l := range logs {
		if l.NodeID == nodeID && l.Kind == kind {
			n++
		}
	}
	return n
}
