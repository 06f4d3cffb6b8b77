package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_runs_started_total",
			Help: "Total number of pipeline executions started",
		},
		[]string{"mode"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_runs_completed_total",
			Help: "Total number of pipeline executions completed",
		},
		[]string{"mode", "status"},
	)

	RunsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkpress_runs_rejected_total",
			Help: "Executions rejected because the run was already in flight",
		},
	)

	// Stage metrics
	StageExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkpress_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkpress_stage_tokens_used",
			Help:    "Total tokens used per stage execution",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 20000},
		},
		[]string{"stage"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_rate_limit_hits_total",
			Help: "Stage executions that failed with a rate-limit signature",
		},
		[]string{"stage"},
	)

	// Loop metrics
	FactCheckIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkpress_fact_check_iterations",
			Help:    "Write/fact-check iterations per pipeline execution",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	RubricAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkpress_rubric_attempts",
			Help:    "Polish+grade attempts per finalize",
			Buckets: []float64{1, 2, 3, 4},
		},
	)

	RubricOverallScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkpress_rubric_overall_score",
			Help:    "Overall rubric score of the final grading attempt",
			Buckets: []float64{1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5},
		},
	)

	ReviewEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkpress_review_escalations_total",
			Help: "Runs flagged for human review after the quality gate budget",
		},
	)

	// Store and telemetry metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_store_operations_total",
			Help: "Run state store operations by outcome",
		},
		[]string{"operation", "status"},
	)

	TelemetryWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkpress_telemetry_write_failures_total",
			Help: "Best-effort telemetry sink writes that failed",
		},
	)
)
