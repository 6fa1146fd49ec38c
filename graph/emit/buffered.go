package emit

import (
	"sort"
	"strings"
	"sync"
)

// BufferedEmitter keeps every event in memory, grouped by run id, for tests
// and post-run inspection. Nothing is evicted; call Clear when done.
//
//	buf := emit.NewBufferedEmitter()
//	g, _ := graph.NewGraph(data, agents, graph.WithEmitter(buf), graph.WithRunID("run-001"))
//	g.Run(ctx)
//	errs := buf.GetHistoryWithFilter("run-001", emit.HistoryFilter{Msg: "node_error"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter selects events. Set fields are combined with AND. State and
// ForkIndex match the "state" and "fork_index" meta keys of engine events.
type HistoryFilter struct {
	NodeID    string
	Msg       string
	State     string
	ForkIndex *int
	MinStep   *int
	MaxStep   *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of the events of one run in emission order.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns a copy of the matching events of one run.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// RunIDs lists the runs with buffered events, sorted.
func (b *BufferedEmitter) RunIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.events))
	for id := range b.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Children lists the child graph runs of runID, sorted. Child run ids have
// the form "<parent>/<node>" or "<parent>/<node>#<fork>".
func (b *BufferedEmitter) Children(runID string) []string {
	var out []string
	for _, id := range b.RunIDs() {
		if strings.HasPrefix(id, runID+"/") {
			out = append(out, id)
		}
	}
	return out
}

func (f HistoryFilter) matches(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.State != "" && event.Meta["state"] != f.State {
		return false
	}
	if f.ForkIndex != nil {
		if idx, ok := event.Meta["fork_index"].(int); !ok || idx != *f.ForkIndex {
			return false
		}
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// Clear removes the events of one run, or of all runs when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
