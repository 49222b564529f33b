package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime metrics for assistant invocations.
//
// Tracked dimensions:
//   - Assistant run counts, outcomes, and latency
//   - Token consumption per provider and model
//   - Tool execution patterns and latencies
//   - HTTP API request latency by route and status
type Metrics struct {
	// AssistantRunCounter counts runs by assistant and status
	// (success|error|denied).
	AssistantRunCounter *prometheus.CounterVec

	// AssistantRunDuration measures full run latency in seconds,
	// including every LLM round trip and tool execution.
	AssistantRunDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by tool and status.
	ToolExecutionCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests by method, path, and code.
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default
// Prometheus registry. Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with a specific registerer. Tests
// pass a fresh registry so parallel suites do not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AssistantRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aide_assistant_runs_total",
				Help: "Total assistant runs by assistant id and status",
			},
			[]string{"assistant", "status"},
		),
		AssistantRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aide_assistant_run_duration_seconds",
				Help:    "Duration of full assistant runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"assistant"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aide_llm_tokens_total",
				Help: "Total tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aide_tool_executions_total",
				Help: "Total tool invocations by tool name and status",
			},
			[]string{"tool", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aide_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aide_http_requests_total",
				Help: "Total HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordRun updates the run counter and duration histogram for one
// completed assistant invocation.
func (m *Metrics) RecordRun(assistantID, status string, seconds float64) {
	if m == nil {
		return
	}
	m.AssistantRunCounter.WithLabelValues(assistantID, status).Inc()
	m.AssistantRunDuration.WithLabelValues(assistantID).Observe(seconds)
}

// RecordTool counts one tool invocation.
func (m *Metrics) RecordTool(tool, status string) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
}

// RecordTokens accumulates prompt and completion token usage.
func (m *Metrics) RecordTokens(provider, model string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completion))
	}
}
