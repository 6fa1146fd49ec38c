package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Store[E].
//
// Records are kept as JSON so callers never share maps or slices with the
// store, and values read back have the same shapes the SQL stores return.
// Data is lost when the process exits.
type MemStore[E any] struct {
	mu     sync.RWMutex
	runs   map[string]memRun
	closed bool
}

type memRun struct {
	data    []byte
	started int64
}

// NewMemStore creates a new in-memory store.
//
//	st := store.NewMemStore[graph.TransactionLog]()
//	g, _ := graph.NewGraph(data, agents, graph.WithStore(st))
func NewMemStore[E any]() *MemStore[E] {
	return &MemStore[E]{
		runs: make(map[string]memRun),
	}
}

// SaveRun stores a copy of rec.
func (m *MemStore[E]) SaveRun(_ context.Context, rec RunRecord[E]) error {
	if rec.RunID == "" {
		return fmt.Errorf("run record has empty run ID")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.runs[rec.RunID] = memRun{data: data, started: rec.StartedAt.UnixNano()}
	return nil
}

// LoadRun returns a copy of the stored record.
func (m *MemStore[E]) LoadRun(_ context.Context, runID string) (RunRecord[E], error) {
	m.mu.RLock()
	run, ok := m.runs[runID]
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return RunRecord[E]{}, ErrClosed
	}
	if !ok {
		return RunRecord[E]{}, ErrNotFound
	}

	var rec RunRecord[E]
	if err := json.Unmarshal(run.data, &rec); err != nil {
		return RunRecord[E]{}, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return rec, nil
}

// ListRuns returns run IDs ordered by start time, then ID.
func (m *MemStore[E]) ListRuns(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.runs[ids[i]], m.runs[ids[j]]
		if a.started != b.started {
			return a.started < b.started
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

// Close drops all records.
func (m *MemStore[E]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.runs = nil
	return nil
}
