package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// RunRecord mirrors one row of the runs table
type RunRecord struct {
	ID            string     `db:"id"`
	Status        string     `db:"status"`
	Inputs        JSONB      `db:"inputs"`
	ModelProvider string     `db:"model_provider"`
	ModelName     string     `db:"model_name"`
	UseWebSearch  bool       `db:"use_web_search"`
	Error         *string    `db:"error"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	StartedAt     *time.Time `db:"started_at"`
	FinishedAt    *time.Time `db:"finished_at"`
}

// StepRecord mirrors one row of the run_steps table
type StepRecord struct {
	RunID      string    `db:"run_id"`
	StepName   string    `db:"step_name"`
	Iteration  int       `db:"iteration"`
	Status     string    `db:"status"`
	Input      JSONB     `db:"input"`
	Output     JSONB     `db:"output"`
	LatencyMs  int64     `db:"latency_ms"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
}

// LLMCall mirrors one row of the llm_calls table
type LLMCall struct {
	RunID            string  `db:"run_id"`
	StepName         string  `db:"step_name"`
	ModelProvider    string  `db:"model_provider"`
	ModelName        string  `db:"model_name"`
	PromptTokens     int     `db:"prompt_tokens"`
	CompletionTokens int     `db:"completion_tokens"`
	TotalTokens      int     `db:"total_tokens"`
	LatencyMs        int64   `db:"latency_ms"`
	Error            *string `db:"error"`
}

// RubricRecord mirrors one row of run_rubrics; upserted per run
type RubricRecord struct {
	RunID             string  `db:"run_id"`
	ClarityScore      float64 `db:"clarity_score"`
	CorrectnessScore  float64 `db:"correctness_score"`
	CompletenessScore float64 `db:"completeness_score"`
	OverallScore      float64 `db:"overall_score"`
	Passed            bool    `db:"passed"`
	ReviewRequired    bool    `db:"review_required"`
	Attempts          int     `db:"attempts"`
	Thresholds        JSONB   `db:"thresholds"`
	Summary           JSONB   `db:"summary"`
}

// LogRecord mirrors one row of run_logs
type LogRecord struct {
	RunID   string    `db:"run_id"`
	Level   string    `db:"level"`
	Message string    `db:"message"`
	TS      time.Time `db:"ts"`
}

// MetricsHeadline is the aggregate block of the metrics summary
type MetricsHeadline struct {
	TotalRuns        int      `db:"total_runs" json:"total_runs"`
	CompletedRuns    int      `db:"completed_runs" json:"completed_runs"`
	AvgDurationMs    *int64   `db:"avg_duration_ms" json:"avg_duration_ms"`
	PromptTokens     int64    `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int64    `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int64    `db:"total_tokens" json:"total_tokens"`
	AvgLLMLatencyMs  *int64   `db:"avg_llm_latency_ms" json:"avg_llm_latency_ms"`
	RubricAvgOverall *float64 `db:"rubric_avg_overall" json:"rubric_avg_overall"`
	RubricScoredRuns int      `db:"rubric_scored_runs" json:"rubric_scored_runs"`
	RubricPassedRuns int      `db:"rubric_passed_runs" json:"rubric_passed_runs"`
	RubricPassRate   *float64 `db:"rubric_pass_rate" json:"rubric_pass_rate"`
}

// DailyMetrics is one day of the 14-day run series
type DailyMetrics struct {
	Day    time.Time `db:"day" json:"day"`
	Runs   int       `db:"runs" json:"runs"`
	Errors int       `db:"errors" json:"errors"`
}

// MetricsSummary is the metrics summary response
type MetricsSummary struct {
	Headline MetricsHeadline `json:"headline"`
	Daily    []DailyMetrics  `json:"daily"`
}

// RunMetrics is one row of the recent-runs listing, runs joined with
// per-call aggregates and rubric scores
type RunMetrics struct {
	ID                     string     `db:"id" json:"id"`
	Status                 string     `db:"status" json:"status"`
	ModelProvider          string     `db:"model_provider" json:"model_provider"`
	ModelName              string     `db:"model_name" json:"model_name"`
	UseWebSearch           bool       `db:"use_web_search" json:"use_web_search"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	DurationMs             *float64   `db:"duration_ms" json:"duration_ms"`
	PromptTokens           int64      `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens       int64      `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens            int64      `db:"total_tokens" json:"total_tokens"`
	AvgLLMLatencyMs        *int64     `db:"avg_llm_latency_ms" json:"avg_llm_latency_ms"`
	LLMCallsCount          int        `db:"llm_calls_count" json:"llm_calls_count"`
	RubricClarityScore     *float64   `db:"rubric_clarity_score" json:"rubric_clarity_score"`
	RubricCorrectnessScore *float64   `db:"rubric_correctness_score" json:"rubric_correctness_score"`
	RubricCompletenessScore *float64  `db:"rubric_completeness_score" json:"rubric_completeness_score"`
	RubricOverallScore     *float64   `db:"rubric_overall_score" json:"rubric_overall_score"`
	RubricPassed           *bool      `db:"rubric_passed" json:"rubric_passed"`
	RubricReviewRequired   *bool      `db:"rubric_review_required" json:"rubric_review_required"`
}
