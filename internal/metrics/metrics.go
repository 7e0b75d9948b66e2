// Package metrics defines Prometheus counters/histograms for this spec's
// iteration/tool-execution/sandbox-failure observability surface. It uses
// prometheus/client_golang only (no OpenTelemetry), and no other package
// in the module records to it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide instrument set.
type Metrics struct {
	Iterations      prometheus.Histogram
	ToolExecutions  *prometheus.CounterVec
	SandboxFailures *prometheus.CounterVec
	QueriesTotal    prometheus.Counter
}

// New registers every instrument against the default registry.
func New() *Metrics {
	return &Metrics{
		Iterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentrtd_query_iterations",
			Help:    "Number of THINK/ACT/OBSERVE iterations per query.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		ToolExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrtd_tool_executions_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		SandboxFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrtd_sandbox_failures_total",
			Help: "Sandbox substrate failures by executor kind.",
		}, []string{"executor"}),
		QueriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentrtd_queries_total",
			Help: "Total processed queries.",
		}),
	}
}

// ObserveQuery records the iteration count for one completed query.
func (m *Metrics) ObserveQuery(iterations int) {
	m.QueriesTotal.Inc()
	m.Iterations.Observe(float64(iterations))
}

// ObserveToolExecution records one tool execution outcome.
func (m *Metrics) ObserveToolExecution(tool string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
}

// ObserveSandboxFallback records a substrate failure that triggered a
// fallback to the in-process executor.
func (m *Metrics) ObserveSandboxFallback() {
	m.SandboxFailures.WithLabelValues("container").Inc()
}
