package graph

import (
	"errors"
	"fmt"
)

// EngineError is the error type returned by graph construction and execution.
// Code is a stable machine-readable identifier; Message is human readable.
type EngineError struct {
	Message string
	Code    string
	// Err is the sentinel this error classifies as, if any.
	Err error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap allows errors.Is against the sentinel errors below.
func (e *EngineError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidGraph indicates a structurally invalid graph description.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrUnknownNode is returned when an operation names a node that does not exist.
	ErrUnknownNode = errors.New("unknown node")

	// ErrNotStatic is returned when a value is injected into a computed node.
	ErrNotStatic = errors.New("node is not a static node")

	// ErrUnknownAgent marks a node whose agent id has no registered callback.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrTimeout is raised by the engine when an attempt outlives its timeout.
	ErrTimeout = errors.New("timeout")

	// ErrAlreadyRun is returned by a second call to Graph.Run.
	ErrAlreadyRun = errors.New("graph already run")

	// ErrInvalidConcurrency is returned for a scheduler limit of zero or less.
	ErrInvalidConcurrency = errors.New("concurrency must be greater than zero")

	// ErrConcurrencyTooLow is returned by nested agents when the shared
	// scheduler has no free slot for child graphs.
	ErrConcurrencyTooLow = errors.New("concurrency too low for nested graph")

	// ErrMaxPassesExceeded is returned when a looping graph hits WithMaxPasses.
	ErrMaxPassesExceeded = errors.New("loop exceeded maximum passes")
)

func newEngineError(sentinel error, code, format string, args ...any) *EngineError {
	return &EngineError{
		Message: fmt.Sprintf(format, args...),
		Code:    code,
		Err:     sentinel,
	}
}

// ParseError reports a malformed node reference. It is only ever produced
// while a graph is being built.
type ParseError struct {
	Ref    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("PARSE_ERROR: reference %q: %s", e.Ref, e.Reason)
}

// AgentError wraps a failure reported by (or on behalf of) an agent callback.
type AgentError struct {
	NodeID string
	Retry  int
	// Timeout is set when the engine raised the error because the attempt
	// exceeded the node timeout.
	Timeout bool
	Err     error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("AGENT_ERROR: node %s (retry %d): %v", e.NodeID, e.Retry, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}
