// Package metrics instruments the agent loop with Prometheus
// collectors on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	StageTotal       *prometheus.CounterVec
	InferenceSeconds prometheus.Histogram
	ToolCallsTotal   *prometheus.CounterVec
	ToolSeconds      *prometheus.HistogramVec
	ApprovalsTotal   *prometheus.CounterVec
}

// New creates collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StageTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hodie_stage_total",
			Help: "Agent stages run, by stage and outcome.",
		}, []string{"stage", "status"}),
		InferenceSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hodie_inference_seconds",
			Help:    "Model call latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hodie_tool_calls_total",
			Help: "Tool calls executed, by tool and outcome.",
		}, []string{"tool", "status"}),
		ToolSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hodie_tool_seconds",
			Help:    "Tool call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		ApprovalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hodie_approvals_total",
			Help: "Approval gate outcomes.",
		}, []string{"decision"}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStage counts one stage run.
func (m *Metrics) RecordStage(stage string, err error) {
	if m == nil {
		return
	}
	m.StageTotal.WithLabelValues(stage, status(err)).Inc()
}

// RecordInference observes one model call.
func (m *Metrics) RecordInference(d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceSeconds.Observe(d.Seconds())
}

// RecordToolCall counts and times one tool call.
func (m *Metrics) RecordToolCall(tool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status(err)).Inc()
	m.ToolSeconds.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordApproval counts one gate outcome ("granted", "denied", "pending").
func (m *Metrics) RecordApproval(decision string) {
	if m == nil {
		return
	}
	m.ApprovalsTotal.WithLabelValues(decision).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
