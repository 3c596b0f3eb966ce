package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsNamespace prefixes every collector this package registers.
const metricsNamespace = "phaseflow"

// Metrics publishes engine health to Prometheus: scheduler pressure
// (inflight nodes, ready-set size), node latency by outcome, retry and
// policy-block counts, and executions by terminal status.
//
// A nil *Metrics is valid and records nothing, so the engine never has
// to check whether metrics are configured.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	m := flow.NewMetrics(registry)
//	exec, err := flow.NewDAGExecutor(flow.WithMetrics(m), ...)
type Metrics struct {
	inflightNodes prometheus.Gauge
	readySetSize  prometheus.Gauge
	nodeLatency   *prometheus.HistogramVec
	retriesTotal  *prometheus.CounterVec
	policyBlocks  *prometheus.CounterVec
	executions    *prometheus.CounterVec
}

// NewMetrics registers the engine's collectors with the given
// registerer. A nil registerer uses the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "inflight_nodes",
			Help:      "Number of node executors currently running.",
		}),
		readySetSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ready_set_size",
			Help:      "Number of nodes ready for dispatch in the last scheduler iteration.",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "node_latency_ms",
			Help:      "Executor attempt latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"status"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Retry attempts scheduled, by node id.",
		}, []string{"node_id"}),
		policyBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "policy_blocks_total",
			Help:      "Nodes failed by a blocking quality gate, by phase id.",
		}, []string{"phase_id"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executions_total",
			Help:      "Workflow executions reaching a terminal status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) setInflight(n int) {
	if m == nil {
		return
	}
	m.inflightNodes.Set(float64(n))
}

func (m *Metrics) setReadySet(n int) {
	if m == nil {
		return
	}
	m.readySetSize.Set(float64(n))
}

func (m *Metrics) observeNodeLatency(status NodeStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeLatency.WithLabelValues(string(status)).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) incRetry(nodeID string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(nodeID).Inc()
}

func (m *Metrics) incPolicyBlock(phaseID string) {
	if m == nil {
		return
	}
	m.policyBlocks.WithLabelValues(phaseID).Inc()
}

func (m *Metrics) incExecution(status ExecutionStatus) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(string(status)).Inc()
}
