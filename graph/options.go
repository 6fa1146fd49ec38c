package graph

import (
	"time"

	"github.com/dshills/agentgraph-go/graph/emit"
	"github.com/dshills/agentgraph-go/graph/log"
	"github.com/dshills/agentgraph-go/graph/store"
)

// DefaultConcurrency is the scheduler limit used when neither WithScheduler,
// WithConcurrency, nor GraphData.Concurrency is given.
const DefaultConcurrency = 8

// Option is a functional option for configuring a Graph.
//
// Example:
//
//	g, err := graph.NewGraph(data, agents,
//	    graph.WithConcurrency(4),
//	    graph.WithDefaultTimeout(30*time.Second),
//	    graph.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
type Option func(*graphConfig) error

type graphConfig struct {
	scheduler      *Scheduler
	concurrency    int
	emitter        emit.Emitter
	metrics        *PrometheusMetrics
	logger         log.Logger
	store          store.Store[TransactionLog]
	runID          string
	forkIndex      *int
	maxPasses      int
	defaultTimeout time.Duration
	backoff        RetryBackoff
}

// WithScheduler shares an existing scheduler. Child graphs created by nested
// agents always share their parent's.
func WithScheduler(s *Scheduler) Option {
	return func(cfg *graphConfig) error {
		cfg.scheduler = s
		return nil
	}
}

// WithConcurrency creates a private scheduler with the given limit. Ignored
// when WithScheduler is also given.
func WithConcurrency(n int) Option {
	return func(cfg *graphConfig) error {
		if n <= 0 {
			return newEngineError(ErrInvalidConcurrency, "INVALID_CONCURRENCY", "concurrency %d must be greater than zero", n)
		}
		cfg.concurrency = n
		return nil
	}
}

// WithEmitter sends every transaction log entry to e as an emit.Event.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *graphConfig) error {
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	metrics := graph.NewPrometheusMetrics(prometheus.DefaultRegisterer)
//	g, _ := graph.NewGraph(data, agents, graph.WithMetrics(metrics))
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *graphConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithLogger replaces the engine diagnostic logger (log.Default).
func WithLogger(l log.Logger) Option {
	return func(cfg *graphConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithStore persists the run record (logs and results) when Run returns.
func WithStore(s store.Store[TransactionLog]) Option {
	return func(cfg *graphConfig) error {
		cfg.store = s
		return nil
	}
}

// WithRunID sets the run identifier used in logs, events, metrics, and the
// store. Defaults to a random UUID.
func WithRunID(id string) Option {
	return func(cfg *graphConfig) error {
		cfg.runID = id
		return nil
	}
}

// WithForkIndex tags every node and log entry of the graph with a fork index.
// Set by the map agent on its child graphs.
func WithForkIndex(i int) Option {
	return func(cfg *graphConfig) error {
		if i < 0 {
			return newEngineError(nil, "INVALID_FORK_INDEX", "fork index %d is negative", i)
		}
		idx := i
		cfg.forkIndex = &idx
		return nil
	}
}

// WithMaxPasses bounds the number of loop passes. Zero means unbounded.
func WithMaxPasses(n int) Option {
	return func(cfg *graphConfig) error {
		if n < 0 {
			return newEngineError(nil, "INVALID_MAX_PASSES", "max passes %d is negative", n)
		}
		cfg.maxPasses = n
		return nil
	}
}

// WithDefaultTimeout applies to computed nodes that declare no timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(cfg *graphConfig) error {
		if d < 0 {
			return newEngineError(nil, "INVALID_TIMEOUT", "default timeout %v is negative", d)
		}
		cfg.defaultTimeout = d
		return nil
	}
}

// WithRetryBackoff delays retries instead of re-invoking immediately.
func WithRetryBackoff(b RetryBackoff) Option {
	return func(cfg *graphConfig) error {
		if err := b.Validate(); err != nil {
			return err
		}
		cfg.backoff = b
		return nil
	}
}
