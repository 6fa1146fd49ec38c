package graph

import (
	"sync"

	"github.com/panjf2000/ants/v2"
)

// workItem is a ready node admitted to the scheduler queue.
type workItem struct {
	runID  string
	nodeID string
	run    func()
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	Concurrency int
	Running     int
	Queued      int
}

// Scheduler bounds how many computed nodes execute at once. Ready nodes are
// dispatched first-in first-out as slots free up. One scheduler may be shared
// by a graph and all of its nested child graphs.
//
// The scheduler never calls into a graph while holding its own lock, so
// graphs may call it while holding theirs.
type Scheduler struct {
	mu          sync.Mutex
	concurrency int
	running     int
	queue       []workItem

	pool     *ants.Pool
	ownsPool bool
	metrics  *PrometheusMetrics
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerMetrics reports queue depth and in-flight counts.
func WithSchedulerMetrics(m *PrometheusMetrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithPool runs agent calls on a caller-owned ants pool. The pool must not be
// bounded below the scheduler concurrency plus in-flight stale attempts, so
// an unbounded pool is the usual choice.
func WithPool(pool *ants.Pool) SchedulerOption {
	return func(s *Scheduler) {
		s.pool = pool
		s.ownsPool = false
	}
}

// NewScheduler creates a scheduler admitting at most concurrency nodes.
func NewScheduler(concurrency int, opts ...SchedulerOption) (*Scheduler, error) {
	if concurrency <= 0 {
		return nil, newEngineError(ErrInvalidConcurrency, "INVALID_CONCURRENCY", "concurrency %d must be greater than zero", concurrency)
	}
	s := &Scheduler{concurrency: concurrency}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		// Timed-out attempts keep their goroutine until the agent returns,
		// so the pool itself is unbounded and the slot count does the limiting.
		pool, err := ants.NewPool(-1)
		if err != nil {
			return nil, newEngineError(nil, "POOL_INIT", "failed to create worker pool: %v", err)
		}
		s.pool = pool
		s.ownsPool = true
	}
	return s, nil
}

// Status returns the configured limit and current usage.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		Concurrency: s.concurrency,
		Running:     s.running,
		Queued:      len(s.queue),
	}
}

// enqueue adds a ready node and dispatches whatever fits.
func (s *Scheduler) enqueue(item workItem) {
	s.mu.Lock()
	s.queue = append(s.queue, item)
	ready := s.drainLocked()
	s.mu.Unlock()

	s.dispatch(ready)
}

// release frees one running slot.
func (s *Scheduler) release() {
	s.mu.Lock()
	if s.running > 0 {
		s.running--
	}
	ready := s.drainLocked()
	s.mu.Unlock()

	s.dispatch(ready)
}

// PrepareForNesting lends one extra slot to a nested agent whose own slot is
// held while its child graphs run.
func (s *Scheduler) PrepareForNesting() {
	s.mu.Lock()
	s.concurrency++
	ready := s.drainLocked()
	s.mu.Unlock()

	s.dispatch(ready)
}

// RestoreAfterNesting returns the slot lent by PrepareForNesting.
func (s *Scheduler) RestoreAfterNesting() {
	s.mu.Lock()
	s.concurrency--
	s.mu.Unlock()
}

// spawn runs fn on the worker pool without taking a slot. Used for retries,
// which keep the slot of the attempt they replace.
func (s *Scheduler) spawn(fn func()) {
	if err := s.pool.Submit(fn); err != nil {
		go fn()
	}
}

// Close releases the worker pool if the scheduler created it.
func (s *Scheduler) Close() {
	if s.ownsPool {
		s.pool.Release()
	}
}

func (s *Scheduler) drainLocked() []workItem {
	var ready []workItem
	for s.running < s.concurrency && len(s.queue) > 0 {
		item := s.queue[0]
		s.queue[0] = workItem{}
		s.queue = s.queue[1:]
		s.running++
		ready = append(ready, item)
	}
	if s.metrics != nil {
		s.metrics.UpdateQueueDepth(len(s.queue))
		s.metrics.UpdateInflightNodes(s.running)
	}
	return ready
}

func (s *Scheduler) dispatch(items []workItem) {
	for _, item := range items {
		s.spawn(item.run)
	}
}
