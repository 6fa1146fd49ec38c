package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects scheduler and node execution metrics.
//
// Metrics exposed (all namespaced with "agentgraph_"):
//
//  1. inflight_nodes (gauge): nodes holding a scheduler slot.
//  2. queue_depth (gauge): ready nodes waiting for a slot.
//  3. step_latency_ms (histogram): attempt duration in milliseconds.
//     Labels: run_id, node_id, status (success/error/timeout).
//  4. retries_total (counter): retry attempts. Labels: run_id, node_id, reason.
//  5. stale_callbacks_total (counter): agent results discarded because their
//     attempt was superseded. Labels: run_id, node_id.
//  6. forked_graphs_total (counter): child graphs started by map nodes.
//     Labels: run_id.
//
// A nil *PrometheusMetrics is valid and records nothing.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	g, _ := graph.NewGraph(data, agents, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	inflightNodes prometheus.Gauge
	queueDepth    prometheus.Gauge

	stepLatency *prometheus.HistogramVec

	retries        *prometheus.CounterVec
	staleCallbacks *prometheus.CounterVec
	forkedGraphs   *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all metrics with registry, or
// with prometheus.DefaultRegisterer when registry is nil.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentgraph",
		Name:      "inflight_nodes",
		Help:      "Current number of nodes holding a scheduler slot",
	})

	pm.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentgraph",
		Name:      "queue_depth",
		Help:      "Number of ready nodes waiting for a scheduler slot",
	})

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentgraph",
		Name:      "step_latency_ms",
		Help:      "Agent attempt duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"run_id", "node_id", "status"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentgraph",
		Name:      "retries_total",
		Help:      "Cumulative count of node retry attempts",
	}, []string{"run_id", "node_id", "reason"})

	pm.staleCallbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentgraph",
		Name:      "stale_callbacks_total",
		Help:      "Agent results discarded because the attempt was superseded",
	}, []string{"run_id", "node_id"})

	pm.forkedGraphs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentgraph",
		Name:      "forked_graphs_total",
		Help:      "Child graphs started by map nodes",
	}, []string{"run_id"})

	return pm
}

func (pm *PrometheusMetrics) active() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency observes one attempt's duration.
func (pm *PrometheusMetrics) RecordStepLatency(runID, nodeID string, latency time.Duration, status string) {
	if !pm.active() {
		return
	}
	pm.stepLatency.WithLabelValues(runID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries counts one retry; reason is "error" or "timeout".
func (pm *PrometheusMetrics) IncrementRetries(runID, nodeID, reason string) {
	if !pm.active() {
		return
	}
	pm.retries.WithLabelValues(runID, nodeID, reason).Inc()
}

// IncrementStaleCallbacks counts one discarded agent result.
func (pm *PrometheusMetrics) IncrementStaleCallbacks(runID, nodeID string) {
	if !pm.active() {
		return
	}
	pm.staleCallbacks.WithLabelValues(runID, nodeID).Inc()
}

// IncrementForkedGraphs counts n child graphs started by a map node.
func (pm *PrometheusMetrics) IncrementForkedGraphs(runID string, n int) {
	if !pm.active() {
		return
	}
	pm.forkedGraphs.WithLabelValues(runID).Add(float64(n))
}

// UpdateQueueDepth sets the number of ready nodes waiting for a slot.
func (pm *PrometheusMetrics) UpdateQueueDepth(depth int) {
	if !pm.active() {
		return
	}
	pm.queueDepth.Set(float64(depth))
}

// UpdateInflightNodes sets the number of nodes holding a slot.
func (pm *PrometheusMetrics) UpdateInflightNodes(count int) {
	if !pm.active() {
		return
	}
	pm.inflightNodes.Set(float64(count))
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges. Counters and histograms are cumulative.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightNodes.Set(0)
	pm.queueDepth.Set(0)
}
