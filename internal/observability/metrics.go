// Package observability exposes Prometheus metrics for the
// orchestration engine.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type engineMetrics struct {
	plannerCallsTotal   *prometheus.CounterVec
	plannerCallDuration prometheus.Histogram

	toolExecutionsTotal   *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	policyRejectionsTotal *prometheus.CounterVec

	turnCycles     prometheus.Histogram
	activeSessions prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *engineMetrics
)

func getMetrics() *engineMetrics {
	metricsOnce.Do(func() {
		m := &engineMetrics{
			plannerCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "planner_calls_total",
					Help: "Total planner backend calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			plannerCallDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "planner_call_duration_seconds",
					Help:    "Planner backend call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			toolExecutionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_executions_total",
					Help: "Total tool executions by provider and status.",
				},
				[]string{"provider", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			policyRejectionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "policy_rejections_total",
					Help: "Total invocations rejected before dispatch, by reason.",
				},
				[]string{"reason"},
			),
			turnCycles: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "turn_cycles",
					Help:    "Plan-execute cycles used per turn.",
					Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current session count.",
				},
			),
		}

		prometheus.MustRegister(
			m.plannerCallsTotal,
			m.plannerCallDuration,
			m.toolExecutionsTotal,
			m.toolExecutionDuration,
			m.policyRejectionsTotal,
			m.turnCycles,
			m.activeSessions,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered registers all metrics with the default registry.
// Idempotent; call from package constructors.
func EnsureRegistered() {
	getMetrics()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordPlannerCall records one planner backend call.
func RecordPlannerCall(provider string, d time.Duration, success bool) {
	m := getMetrics()
	m.plannerCallsTotal.WithLabelValues(provider, status(success)).Inc()
	m.plannerCallDuration.Observe(d.Seconds())
}

// RecordToolExecution records one dispatched tool execution.
func RecordToolExecution(provider string, d time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionsTotal.WithLabelValues(provider, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordPolicyRejection records an invocation refused before dispatch.
func RecordPolicyRejection(reason string) {
	getMetrics().policyRejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveTurnCycles records how many cycles a finished turn used.
func ObserveTurnCycles(n int) {
	getMetrics().turnCycles.Observe(float64(n))
}

// SetActiveSessions sets the live session gauge.
func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

// Handler returns the metrics HTTP handler for an optional listener.
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}
