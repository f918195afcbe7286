package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the runtime's Prometheus registry: turn throughput, LLM
// and tool call latency, synthesis activity, and continuity cache
// behavior, all scoped to one entity agent pathway.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.RecordTurn(entity.ID, "completed", time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter counts completed entity turns.
	// Labels: entity_id, outcome (completed|cancelled|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures full turn latency, model round-trips and
	// tool dispatch included.
	// Labels: entity_id
	TurnDuration *prometheus.HistogramVec

	// TurnRounds tracks how many S1-S4 rounds a turn took before it
	// finalized.
	// Labels: entity_id
	TurnRounds *prometheus.HistogramVec

	// LLMRequestDuration measures model-endpoint call latency.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model-endpoint calls by outcome.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption by type.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations dispatched by the
	// turn executor.
	// Labels: tool_name, status (success|error|duplicate)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool dispatch latency.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// BudgetExhaustedTotal counts turns that hit their tool-call budget
	// before the model chose to stop.
	// Labels: entity_id
	BudgetExhaustedTotal *prometheus.CounterVec

	// SynthesisRunsTotal counts background synthesis passes by kind and
	// outcome.
	// Labels: kind (turn|session|deep), status (success|error)
	SynthesisRunsTotal *prometheus.CounterVec

	// SynthesisDuration measures a synthesis pass's wall time.
	// Labels: kind
	SynthesisDuration *prometheus.HistogramVec

	// ContinuityContextCache counts context-builder cache outcomes.
	// Labels: outcome (hit|miss)
	ContinuityContextCache *prometheus.CounterVec

	// ColdMemoryNodesTotal tracks the cold index's node count as a
	// gauge, refreshed on each write.
	// Labels: node_type
	ColdMemoryNodesTotal *prometheus.GaugeVec

	// ErrorCounter tracks errors by component and error kind.
	// Labels: component, error_kind
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures the admin/health server's request
	// latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers every Prometheus collector. Call
// once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexd_turns_total",
				Help: "Total number of entity turns by entity and outcome",
			},
			[]string{"entity_id", "outcome"},
		),

		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortexd_turn_duration_seconds",
				Help:    "Duration of a full entity turn in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"entity_id"},
		),

		TurnRounds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortexd_turn_rounds",
				Help:    "Number of model/tool rounds a turn took before finalizing",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 12},
			},
			[]string{"entity_id"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortexd_llm_request_duration_seconds",
				Help:    "Duration of model-endpoint requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexd_llm_requests_total",
				Help: "Total number of model-endpoint requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexd_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexd_tool_executions_total",
				Help: "Total number of tool pathway executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortexd_tool_execution_duration_seconds",
				Help:    "Duration of tool pathway executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		BudgetExhaustedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexd_turn_budget_exhausted_total",
				Help: "Total number of turns that hit their tool budget before finalizing",
			},
			[]string{"entity_id"},
		),

		SynthesisRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexd_synthesis_runs_total",
				Help: "Total number of synthesis passes by kind and status",
			},
			[]string{"kind", "status"},
		),

		SynthesisDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortexd_synthesis_duration_seconds",
				Help:    "Duration of a synthesis pass in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),

		ContinuityContextCache: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexd_continuity_context_cache_total",
				Help: "Total number of context-builder cache hits and misses",
			},
			[]string{"outcome"},
		),

		ColdMemoryNodesTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cortexd_cold_memory_nodes",
				Help: "Current cold-memory node count by node type",
			},
			[]string{"node_type"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexd_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortexd_http_request_duration_seconds",
				Help:    "Duration of admin/health HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordTurn records one entity turn's outcome and latency.
func (m *Metrics) RecordTurn(entityID, outcome string, durationSeconds float64, rounds int) {
	m.TurnCounter.WithLabelValues(entityID, outcome).Inc()
	m.TurnDuration.WithLabelValues(entityID).Observe(durationSeconds)
	m.TurnRounds.WithLabelValues(entityID).Observe(float64(rounds))
}

// RecordLLMRequest records one model-endpoint call's outcome, latency,
// and token usage.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool pathway dispatch.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordBudgetExhausted records a turn forced to finalize by its tool
// budget rather than the model's own choice.
func (m *Metrics) RecordBudgetExhausted(entityID string) {
	m.BudgetExhaustedTotal.WithLabelValues(entityID).Inc()
}

// RecordSynthesisRun records one background synthesis pass.
func (m *Metrics) RecordSynthesisRun(kind, status string, durationSeconds float64) {
	m.SynthesisRunsTotal.WithLabelValues(kind, status).Inc()
	m.SynthesisDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordContextCacheOutcome records whether the context builder reused
// its cached narrative or rebuilt it.
func (m *Metrics) RecordContextCacheOutcome(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.ContinuityContextCache.WithLabelValues(outcome).Inc()
}

// SetColdMemoryNodeCount sets the current cold-index node count for a
// node type, refreshed periodically rather than on every write.
func (m *Metrics) SetColdMemoryNodeCount(nodeType string, count int64) {
	m.ColdMemoryNodesTotal.WithLabelValues(nodeType).Set(float64(count))
}

// RecordError increments the error counter for a given component and
// error kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// RecordHTTPRequest records one admin/health HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
