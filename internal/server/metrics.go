// Package server: metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/ragent-go/internal/agent"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// Ask outcomes.
const (
	outcomeOK      = "ok"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// askRequestsTotal counts completed /api/ask requests, partitioned by
	// outcome: "ok", "timeout", or "error".
	askRequestsTotal *prometheus.CounterVec

	// askDurationSeconds records the wall-clock duration of each /api/ask run.
	askDurationSeconds *prometheus.HistogramVec

	// askInFlight is the number of agent runs currently executing.
	askInFlight prometheus.Gauge

	// askRoutesTotal counts runs by router classification.
	askRoutesTotal *prometheus.CounterVec

	// stageDurationSeconds records agent stage timings (route, plan, tools,
	// answer) reported in the run result.
	stageDurationSeconds *prometheus.HistogramVec

	// toolCallsTotal counts executed tool steps by tool and outcome.
	toolCallsTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		askRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragent",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total number of /api/ask requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		askDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragent",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/ask agent runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		askInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ragent",
			Subsystem: "ask",
			Name:      "in_flight",
			Help:      "Number of agent runs currently executing.",
		}),

		askRoutesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragent",
			Subsystem: "ask",
			Name:      "routes_total",
			Help:      "Agent runs partitioned by router classification.",
		}, []string{"route"}),

		stageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragent",
			Subsystem: "agent",
			Name:      "stage_duration_seconds",
			Help:      "Duration of agent stages (route, plan, tool, answer).",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),

		toolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragent",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Executed tool steps partitioned by tool and outcome.",
		}, []string{"tool", "outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragent",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragent",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// observeResult records the per-stage and per-tool metrics of one run.
func (m *serverMetrics) observeResult(res *agent.Result) {
	if res == nil {
		return
	}
	m.askRoutesTotal.WithLabelValues(string(res.Route)).Inc()
	for stage, ms := range res.StageTimings {
		m.stageDurationSeconds.WithLabelValues(stageLabel(stage)).Observe(ms / 1000)
	}
	for _, tr := range res.Traces {
		m.toolCallsTotal.WithLabelValues(string(tr.Tool), tr.Outcome()).Inc()
	}
}

// stageLabel collapses per-round stage names so the label set stays
// bounded: "plan.2" becomes "plan", "tool.1.2.retrieve" becomes
// "tool.retrieve".
func stageLabel(stage string) string {
	head, rest, ok := strings.Cut(stage, ".")
	if !ok {
		return stage
	}
	if head == "tool" {
		return "tool." + rest[strings.LastIndexByte(rest, '.')+1:]
	}
	return head
}
