package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/inkpress-ai/inkpress/internal/metrics"
)

// InsertRun records a new run row
func (c *Client) InsertRun(ctx context.Context, rec *RunRecord) error {
	query := `
		INSERT INTO runs (id, status, inputs, model_provider, model_name, use_web_search, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())`
	_, err := c.db.ExecContext(ctx, query,
		rec.ID, rec.Status, rec.Inputs, rec.ModelProvider, rec.ModelName, rec.UseWebSearch,
	)
	if err != nil {
		metrics.TelemetryWriteFailures.Inc()
		return fmt.Errorf("insert run %s: %w", rec.ID, err)
	}
	return nil
}

// SetRunStatus updates the run row's status, stamping started_at on the
// first transition to RUNNING and finished_at on terminal statuses
func (c *Client) SetRunStatus(ctx context.Context, runID, status string, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = $2,
		    error = $3,
		    updated_at = now(),
		    started_at = CASE WHEN $2 = 'RUNNING' AND started_at IS NULL THEN now() ELSE started_at END,
		    finished_at = CASE WHEN $2 IN ('DONE', 'DONE_WITH_WARNINGS', 'ERROR') THEN now() ELSE finished_at END
		WHERE id = $1`
	_, err := c.db.ExecContext(ctx, query, runID, status, errMsg)
	if err != nil {
		metrics.TelemetryWriteFailures.Inc()
		return fmt.Errorf("update run %s status: %w", runID, err)
	}
	return nil
}

// InsertStep records one completed stage execution
func (c *Client) InsertStep(ctx context.Context, rec *StepRecord) error {
	query := `
		INSERT INTO run_steps (run_id, step_name, iteration, status, input, output, latency_ms, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := c.db.ExecContext(ctx, query,
		rec.RunID, rec.StepName, rec.Iteration, rec.Status,
		rec.Input, rec.Output, rec.LatencyMs, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		metrics.TelemetryWriteFailures.Inc()
		return fmt.Errorf("insert run step %s/%s: %w", rec.RunID, rec.StepName, err)
	}
	return nil
}

// InsertLLMCall records per-call token and latency accounting
func (c *Client) InsertLLMCall(ctx context.Context, rec *LLMCall) error {
	query := `
		INSERT INTO llm_calls (run_id, step_name, model_provider, model_name, prompt_tokens, completion_tokens, total_tokens, latency_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := c.db.ExecContext(ctx, query,
		rec.RunID, rec.StepName, rec.ModelProvider, rec.ModelName,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.LatencyMs, rec.Error,
	)
	if err != nil {
		metrics.TelemetryWriteFailures.Inc()
		return fmt.Errorf("insert llm call %s/%s: %w", rec.RunID, rec.StepName, err)
	}
	return nil
}

// UpsertRubric saves the final rubric for a run, keyed uniquely per run
func (c *Client) UpsertRubric(ctx context.Context, rec *RubricRecord) error {
	query := `
		INSERT INTO run_rubrics (run_id, clarity_score, correctness_score, completeness_score, overall_score, passed, review_required, attempts, thresholds, summary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (run_id) DO UPDATE SET
			clarity_score = EXCLUDED.clarity_score,
			correctness_score = EXCLUDED.correctness_score,
			completeness_score = EXCLUDED.completeness_score,
			overall_score = EXCLUDED.overall_score,
			passed = EXCLUDED.passed,
			review_required = EXCLUDED.review_required,
			attempts = EXCLUDED.attempts,
			thresholds = EXCLUDED.thresholds,
			summary = EXCLUDED.summary,
			updated_at = now()`
	_, err := c.db.ExecContext(ctx, query,
		rec.RunID, rec.ClarityScore, rec.CorrectnessScore, rec.CompletenessScore, rec.OverallScore,
		rec.Passed, rec.ReviewRequired, rec.Attempts, rec.Thresholds, rec.Summary,
	)
	if err != nil {
		metrics.TelemetryWriteFailures.Inc()
		return fmt.Errorf("upsert rubric %s: %w", rec.RunID, err)
	}
	return nil
}

// MetricsSummary returns headline aggregates plus a 14-day daily series
func (c *Client) MetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	var summary MetricsSummary

	headlineQuery := `
		SELECT
			count(*) AS total_runs,
			count(*) FILTER (WHERE status IN ('DONE', 'DONE_WITH_WARNINGS')) AS completed_runs,
			round(avg(extract(epoch FROM (finished_at - started_at))) * 1000)::bigint AS avg_duration_ms
		FROM runs`
	if err := c.db.GetContext(ctx, &summary.Headline, headlineQuery); err != nil {
		return nil, fmt.Errorf("metrics headline: %w", err)
	}

	llmQuery := `
		SELECT
			coalesce(sum(prompt_tokens), 0)::bigint AS prompt_tokens,
			coalesce(sum(completion_tokens), 0)::bigint AS completion_tokens,
			coalesce(sum(total_tokens), 0)::bigint AS total_tokens,
			round(avg(latency_ms))::bigint AS avg_llm_latency_ms
		FROM llm_calls`
	var llm struct {
		PromptTokens     int64  `db:"prompt_tokens"`
		CompletionTokens int64  `db:"completion_tokens"`
		TotalTokens      int64  `db:"total_tokens"`
		AvgLLMLatencyMs  *int64 `db:"avg_llm_latency_ms"`
	}
	if err := c.db.GetContext(ctx, &llm, llmQuery); err != nil {
		return nil, fmt.Errorf("metrics llm totals: %w", err)
	}
	summary.Headline.PromptTokens = llm.PromptTokens
	summary.Headline.CompletionTokens = llm.CompletionTokens
	summary.Headline.TotalTokens = llm.TotalTokens
	summary.Headline.AvgLLMLatencyMs = llm.AvgLLMLatencyMs

	rubricQuery := `
		SELECT
			round(avg(overall_score)::numeric, 2)::float8 AS rubric_avg_overall,
			count(*)::int AS rubric_scored_runs,
			count(*) FILTER (WHERE passed)::int AS rubric_passed_runs,
			round(100.0 * count(*) FILTER (WHERE passed) / nullif(count(*), 0), 1)::float8 AS rubric_pass_rate
		FROM run_rubrics`
	var rubric struct {
		RubricAvgOverall *float64 `db:"rubric_avg_overall"`
		RubricScoredRuns int      `db:"rubric_scored_runs"`
		RubricPassedRuns int      `db:"rubric_passed_runs"`
		RubricPassRate   *float64 `db:"rubric_pass_rate"`
	}
	if err := c.db.GetContext(ctx, &rubric, rubricQuery); err != nil {
		return nil, fmt.Errorf("metrics rubric totals: %w", err)
	}
	summary.Headline.RubricAvgOverall = rubric.RubricAvgOverall
	summary.Headline.RubricScoredRuns = rubric.RubricScoredRuns
	summary.Headline.RubricPassedRuns = rubric.RubricPassedRuns
	summary.Headline.RubricPassRate = rubric.RubricPassRate

	dailyQuery := `
		SELECT
			date_trunc('day', created_at) AS day,
			count(*)::int AS runs,
			count(*) FILTER (WHERE status = 'ERROR')::int AS errors
		FROM runs
		WHERE created_at > now() - interval '14 days'
		GROUP BY 1
		ORDER BY 1`
	if err := c.db.SelectContext(ctx, &summary.Daily, dailyQuery); err != nil {
		return nil, fmt.Errorf("metrics daily series: %w", err)
	}

	c.logger.Debug("Metrics summary computed",
		zap.Int("total_runs", summary.Headline.TotalRuns),
		zap.Int("days", len(summary.Daily)),
	)
	return &summary, nil
}

// RecentRuns lists recent runs joined with llm_calls aggregates and
// rubric scores
func (c *Client) RecentRuns(ctx context.Context, limit int) ([]RunMetrics, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT
			r.id,
			r.status,
			r.model_provider,
			r.model_name,
			r.use_web_search,
			r.created_at,
			extract(epoch FROM (r.finished_at - r.started_at)) * 1000 AS duration_ms,
			coalesce(sum(c.prompt_tokens), 0)::bigint AS prompt_tokens,
			coalesce(sum(c.completion_tokens), 0)::bigint AS completion_tokens,
			coalesce(sum(c.total_tokens), 0)::bigint AS total_tokens,
			round(avg(c.latency_ms))::bigint AS avg_llm_latency_ms,
			count(c.run_id)::int AS llm_calls_count,
			rr.clarity_score AS rubric_clarity_score,
			rr.correctness_score AS rubric_correctness_score,
			rr.completeness_score AS rubric_completeness_score,
			rr.overall_score AS rubric_overall_score,
			rr.passed AS rubric_passed,
			rr.review_required AS rubric_review_required
		FROM runs r
		LEFT JOIN llm_calls c ON c.run_id = r.id
		LEFT JOIN run_rubrics rr ON rr.run_id = r.id
		GROUP BY
			r.id, r.status, r.model_provider, r.model_name, r.use_web_search, r.created_at, r.started_at, r.finished_at,
			rr.clarity_score, rr.correctness_score, rr.completeness_score, rr.overall_score, rr.passed, rr.review_required
		ORDER BY r.created_at DESC
		LIMIT $1`
	var rows []RunMetrics
	if err := c.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return rows, nil
}
