package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	client := NewClientWithDB(sqlx.NewDb(mockDB, "sqlmock"), zaptest.NewLogger(t))
	return client, mock
}

func TestInsertRun(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1", "PENDING", sqlmock.AnyArg(), "groq", "llama-3.1-8b-instant", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.InsertRun(context.Background(), &RunRecord{
		ID:            "run-1",
		Status:        "PENDING",
		Inputs:        JSONB{"tone": "professional"},
		ModelProvider: "groq",
		ModelName:     "llama-3.1-8b-instant",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRunStatusTransitions(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("UPDATE runs").
		WithArgs("run-1", "RUNNING", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, client.SetRunStatus(context.Background(), "run-1", "RUNNING", nil))

	errMsg := "stage writer failed"
	mock.ExpectExec("UPDATE runs").
		WithArgs("run-1", "ERROR", &errMsg).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, client.SetRunStatus(context.Background(), "run-1", "ERROR", &errMsg))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRunStatusPropagatesError(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("UPDATE runs").
		WillReturnError(assert.AnError)

	err := client.SetRunStatus(context.Background(), "run-1", "DONE", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update run run-1 status")
}

func TestInsertStep(t *testing.T) {
	client, mock := newMockClient(t)

	started := time.Now().Add(-2 * time.Second)
	finished := time.Now()
	mock.ExpectExec("INSERT INTO run_steps").
		WithArgs("run-1", "writer", 2, "DONE", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1850), started, finished).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.InsertStep(context.Background(), &StepRecord{
		RunID:      "run-1",
		StepName:   "writer",
		Iteration:  2,
		Status:     "DONE",
		Input:      JSONB{"prd": "Build a cache."},
		Output:     JSONB{"preview": "Draft text"},
		LatencyMs:  1850,
		StartedAt:  started,
		FinishedAt: finished,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLLMCall(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO llm_calls").
		WithArgs("run-1", "fact_checker", "groq", "llama-3.1-8b-instant", 500, 120, 620, int64(900), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.InsertLLMCall(context.Background(), &LLMCall{
		RunID:            "run-1",
		StepName:         "fact_checker",
		ModelProvider:    "groq",
		ModelName:        "llama-3.1-8b-instant",
		PromptTokens:     500,
		CompletionTokens: 120,
		TotalTokens:      620,
		LatencyMs:        900,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRubric(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (run_id) DO UPDATE")).
		WithArgs("run-1", 4.0, 4.5, 4.0, 4.17, true, false, 2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.UpsertRubric(context.Background(), &RubricRecord{
		RunID:             "run-1",
		ClarityScore:      4.0,
		CorrectnessScore:  4.5,
		CompletenessScore: 4.0,
		OverallScore:      4.17,
		Passed:            true,
		ReviewRequired:    false,
		Attempts:          2,
		Thresholds:        JSONB{"overall": 3.5},
		Summary:           JSONB{"strengths": []string{"clear"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsSummary(t *testing.T) {
	client, mock := newMockClient(t)

	avgDuration := int64(42000)
	mock.ExpectQuery("FROM runs").WillReturnRows(
		sqlmock.NewRows([]string{"total_runs", "completed_runs", "avg_duration_ms"}).
			AddRow(10, 8, avgDuration))
	avgLatency := int64(1200)
	mock.ExpectQuery("FROM llm_calls").WillReturnRows(
		sqlmock.NewRows([]string{"prompt_tokens", "completion_tokens", "total_tokens", "avg_llm_latency_ms"}).
			AddRow(int64(50000), int64(12000), int64(62000), avgLatency))
	mock.ExpectQuery("FROM run_rubrics").WillReturnRows(
		sqlmock.NewRows([]string{"rubric_avg_overall", "rubric_scored_runs", "rubric_passed_runs", "rubric_pass_rate"}).
			AddRow(4.1, 8, 6, 75.0))
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("GROUP BY 1").WillReturnRows(
		sqlmock.NewRows([]string{"day", "runs", "errors"}).
			AddRow(day, 5, 1).
			AddRow(day.AddDate(0, 0, 1), 5, 0))

	summary, err := client.MetricsSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Headline.TotalRuns)
	assert.Equal(t, 8, summary.Headline.CompletedRuns)
	require.NotNil(t, summary.Headline.AvgDurationMs)
	assert.Equal(t, avgDuration, *summary.Headline.AvgDurationMs)
	assert.Equal(t, int64(62000), summary.Headline.TotalTokens)
	require.NotNil(t, summary.Headline.RubricAvgOverall)
	assert.Equal(t, 4.1, *summary.Headline.RubricAvgOverall)
	assert.Equal(t, 8, summary.Headline.RubricScoredRuns)
	require.Len(t, summary.Daily, 2)
	assert.Equal(t, 5, summary.Daily[0].Runs)
	assert.Equal(t, 1, summary.Daily[0].Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentRunsDefaultsLimit(t *testing.T) {
	client, mock := newMockClient(t)

	columns := []string{
		"id", "status", "model_provider", "model_name", "use_web_search", "created_at",
		"duration_ms", "prompt_tokens", "completion_tokens", "total_tokens",
		"avg_llm_latency_ms", "llm_calls_count",
		"rubric_clarity_score", "rubric_correctness_score", "rubric_completeness_score",
		"rubric_overall_score", "rubric_passed", "rubric_review_required",
	}
	mock.ExpectQuery("ORDER BY r.created_at DESC").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"run-1", "DONE", "groq", "llama-3.1-8b-instant", false, time.Now(),
			41500.0, int64(50000), int64(12000), int64(62000),
			int64(1200), 6,
			4.0, 4.5, 4.0,
			4.17, true, false,
		))

	rows, err := client.RecentRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "run-1", rows[0].ID)
	assert.Equal(t, 6, rows[0].LLMCallsCount)
	require.NotNil(t, rows[0].RubricOverallScore)
	assert.Equal(t, 4.17, *rows[0].RubricOverallScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueLogDrainsOnClose(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO run_logs").
		WithArgs("run-1", "INFO", "Pipeline execution started", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	client.QueueLog(LogRecord{RunID: "run-1", Level: "INFO", Message: "Pipeline execution started"})
	require.NoError(t, client.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
