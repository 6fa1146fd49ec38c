package graph

import "fmt"

// NodeState is the lifecycle state of a node.
type NodeState int

const (
	StateWaiting NodeState = iota
	StateQueued
	StateExecuting
	StateCompleted
	StateFailed
	StateTimedOut
	StateDispatched
	StateInjected
)

var stateNames = [...]string{
	StateWaiting:    "waiting",
	StateQueued:     "queued",
	StateExecuting:  "executing",
	StateCompleted:  "completed",
	StateFailed:     "failed",
	StateTimedOut:   "timed-out",
	StateDispatched: "dispatched",
	StateInjected:   "injected",
}

func (s NodeState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("NodeState(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name so logs and stored runs stay readable.
func (s NodeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *NodeState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = NodeState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown node state %q", text)
}

// Terminal reports whether no further execution happens for the node in the
// current pass.
func (s NodeState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateDispatched, StateInjected:
		return true
	}
	return false
}

// failedLike reports states that never propagate to the waitlist.
func (s NodeState) failedLike() bool {
	return s == StateFailed || s == StateTimedOut || s == StateDispatched
}
