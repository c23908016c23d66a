// Package observability provides Prometheus metrics and the process logger.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized collection of Prometheus instruments for the
// platform. Create exactly one per process and pass it down explicitly.
type Metrics struct {
	// TasksStarted counts tasks accepted by agents.
	// Labels: agent_type
	TasksStarted *prometheus.CounterVec

	// TasksCompleted counts tasks finished by terminal status.
	// Labels: agent_type, status (COMPLETED|FAILED)
	TasksCompleted *prometheus.CounterVec

	// ActiveTasks gauges tasks currently being processed. The dispatcher
	// uses this for admission control.
	// Labels: agent_type
	ActiveTasks *prometheus.GaugeVec

	// ToolCalls counts tool invocations.
	// Labels: tool, status (success|error)
	ToolCalls *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokens counts token consumption.
	// Labels: provider, model, type (input|output|cached)
	LLMTokens *prometheus.CounterVec

	// HeartbeatTimestamp gauges the unix time of the last heartbeat.
	// Labels: agent
	HeartbeatTimestamp *prometheus.GaugeVec

	// MemoryOps counts memory tier operations.
	// Labels: tier (hot|warm|cold), op (store|search|boost|decay|archive|deduplicate)
	MemoryOps *prometheus.CounterVec

	// DedupSkipped counts learnings skipped by deduplication.
	DedupSkipped prometheus.Counter

	// SkillOps counts skill library operations.
	// Labels: op (store|search|update)
	SkillOps *prometheus.CounterVec

	// EmbeddingBreakerState gauges the circuit breaker state
	// (0 closed, 1 half-open, 2 open).
	EmbeddingBreakerState prometheus.Gauge
}

// NewMetrics creates and registers all platform metrics with the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use a
// fresh registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pai_tasks_started_total",
				Help: "Total number of tasks accepted by agents",
			},
			[]string{"agent_type"},
		),
		TasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pai_tasks_completed_total",
				Help: "Total number of tasks finished by terminal status",
			},
			[]string{"agent_type", "status"},
		),
		ActiveTasks: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pai_active_tasks",
				Help: "Tasks currently being processed per agent type",
			},
			[]string{"agent_type"},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pai_tool_calls_total",
				Help: "Total number of tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pai_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pai_llm_tokens_total",
				Help: "Total tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		HeartbeatTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pai_agent_heartbeat_timestamp_seconds",
				Help: "Unix timestamp of the last heartbeat per agent",
			},
			[]string{"agent"},
		),
		MemoryOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pai_memory_operations_total",
				Help: "Memory tier operations by tier and operation",
			},
			[]string{"tier", "op"},
		),
		DedupSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pai_memory_deduplicate_skipped_total",
				Help: "Learnings skipped because a near-duplicate already exists",
			},
		),
		SkillOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pai_skill_operations_total",
				Help: "Skill library operations by operation",
			},
			[]string{"op"},
		),
		EmbeddingBreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pai_embedding_breaker_state",
				Help: "Embedding circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
		),
	}
}
