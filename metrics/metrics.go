// Package metrics exposes the Prometheus gauges/counters/histograms the
// orchestration core's cross-cutting concerns call out: tool
// queue-depth, trace-append counts, per-stage job-step duration, and
// lease renewals (spec §4.6 step 9's "per-job metrics sink" and the
// DOMAIN STACK's prometheus/client_golang wiring). Grounded in the
// teacher's pkg/observability/metrics.go Namespace/Subsystem/*Vec shape,
// scaled down to this system's own metric families.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the orchestration core's metrics. A nil *Registry is
// valid and every method is a no-op on it, so components can accept
// "*Registry or nil" without branching at every call site.
type Registry struct {
	registry *prometheus.Registry

	toolQueueDepth   *prometheus.GaugeVec
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	traceAppends *prometheus.CounterVec

	stepDuration *prometheus.HistogramVec
	stepErrors   *prometheus.CounterVec

	leaseRenewals *prometheus.CounterVec
	leaseExpiries *prometheus.CounterVec

	inflightPending *prometheus.GaugeVec
	dispatchQueued  *prometheus.GaugeVec
}

// New constructs a Registry with all metric families registered against
// a fresh prometheus.Registry.
func New(namespace string) *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.toolQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "tool", Name: "queue_depth",
		Help: "Current queue depth per tool (§4.2.3).",
	}, []string{"tool_name"})

	r.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tool", Name: "calls_total",
		Help: "Total tool executions by terminal status.",
	}, []string{"tool_name", "status"})

	r.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "tool", Name: "call_duration_seconds",
		Help:    "Tool execution latency.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tool_name"})

	r.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tool", Name: "errors_total",
		Help: "Total tool execution errors by code.",
	}, []string{"tool_name", "error_code"})

	r.traceAppends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "trace", Name: "appends_total",
		Help: "Total ToolTraceRecord appends by stage.",
	}, []string{"stage"})

	r.stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "step_duration_seconds",
		Help:    "JobRunner.step duration by stage (§4.6 step 9).",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"stage"})

	r.stepErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "scheduler", Name: "step_errors_total",
		Help: "Total scheduler step errors by classified code.",
	}, []string{"stage", "code"})

	r.leaseRenewals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "lease", Name: "renewals_total",
		Help: "Total lease renewals by owner op.",
	}, []string{"op"})

	r.leaseExpiries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "lease", Name: "expiries_total",
		Help: "Total observed lease expiries by backend.",
	}, []string{"backend"})

	r.inflightPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "inflight", Name: "pending",
		Help: "Current pending in-flight request rows.",
	}, []string{"task_type"})

	r.dispatchQueued = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "dispatch", Name: "queue_length",
		Help: "Current remote-executor dispatch queue length.",
	}, nil)

	r.registry.MustRegister(
		r.toolQueueDepth, r.toolCalls, r.toolCallDuration, r.toolErrors,
		r.traceAppends, r.stepDuration, r.stepErrors,
		r.leaseRenewals, r.leaseExpiries, r.inflightPending, r.dispatchQueued,
	)
	return r
}

func (r *Registry) SetToolQueueDepth(toolName string, depth int) {
	if r == nil {
		return
	}
	r.toolQueueDepth.WithLabelValues(toolName).Set(float64(depth))
}

func (r *Registry) RecordToolCall(toolName, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.toolCalls.WithLabelValues(toolName, status).Inc()
	r.toolCallDuration.WithLabelValues(toolName).Observe(d.Seconds())
}

func (r *Registry) RecordToolError(toolName, errorCode string) {
	if r == nil {
		return
	}
	r.toolErrors.WithLabelValues(toolName, errorCode).Inc()
}

func (r *Registry) RecordTraceAppend(stage string) {
	if r == nil {
		return
	}
	r.traceAppends.WithLabelValues(stage).Inc()
}

func (r *Registry) RecordStep(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stepDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Registry) RecordStepError(stage, code string) {
	if r == nil {
		return
	}
	r.stepErrors.WithLabelValues(stage, code).Inc()
}

func (r *Registry) RecordLeaseRenewal(op string) {
	if r == nil {
		return
	}
	r.leaseRenewals.WithLabelValues(op).Inc()
}

func (r *Registry) RecordLeaseExpiry(backend string) {
	if r == nil {
		return
	}
	r.leaseExpiries.WithLabelValues(backend).Inc()
}

func (r *Registry) SetInflightPending(taskType string, n int) {
	if r == nil {
		return
	}
	r.inflightPending.WithLabelValues(taskType).Set(float64(n))
}

func (r *Registry) SetDispatchQueueLength(n int) {
	if r == nil {
		return
	}
	r.dispatchQueued.WithLabelValues().Set(float64(n))
}

// Handler serves the Prometheus text exposition format. A nil Registry
// returns 503, matching the teacher's nil-Metrics Handler behavior.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
