package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inkpress-ai/inkpress/internal/db"
	"github.com/inkpress-ai/inkpress/internal/metrics"
	"github.com/inkpress-ai/inkpress/internal/templates"
	"github.com/inkpress-ai/inkpress/internal/tracing"
)

const previewLimit = 1000

// CompletionRequest is the wire request to the completion service
type CompletionRequest struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model"`
	System      string  `json:"system"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
}

// CompletionUsage is the token accounting block of a completion response
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the wire response from the completion service
type CompletionResponse struct {
	Text  string          `json:"text"`
	Model string          `json:"model"`
	Usage CompletionUsage `json:"usage"`
}

// CompletionClient is the boundary to the text-generation backend. The
// pipeline treats it as a black box that maps a rendered prompt to text
// plus usage accounting, or fails.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// HTTPCompletionClient talks to the completion service over HTTP JSON
type HTTPCompletionClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCompletionClient builds a client with the configured per-call
// timeout
func NewHTTPCompletionClient(baseURL string, timeout time.Duration) *HTTPCompletionClient {
	return &HTTPCompletionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Complete POSTs the request to /v1/complete
func (h *HTTPCompletionClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}
	url := h.baseURL + "/v1/complete"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("completion service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out CompletionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	return &out, nil
}

// StageActivities executes generation stages against the completion
// service. Telemetry (run_steps and llm_calls rows) is written from
// inside the activity, best-effort; sink failure never fails a stage.
type StageActivities struct {
	client  CompletionClient
	catalog *templates.Catalog
	sink    *db.Client // optional
	logger  *zap.Logger
}

// NewStageActivities wires the stage executor. sink may be nil.
func NewStageActivities(client CompletionClient, catalog *templates.Catalog, sink *db.Client, logger *zap.Logger) *StageActivities {
	return &StageActivities{
		client:  client,
		catalog: catalog,
		sink:    sink,
		logger:  logger,
	}
}

// ExecuteStage renders the stage's prompt, invokes the completion
// service, and returns text plus usage metrics. Any executor failure is
// returned to the workflow, which treats it as fatal to the run; a
// rate-limit signature in the error is logged distinctly but not
// retried against another model.
func (a *StageActivities) ExecuteStage(ctx context.Context, in StageExecutionInput) (StageExecutionResult, error) {
	system, prompt, err := a.catalog.Render(in.Stage, in.Vars)
	if err != nil {
		return StageExecutionResult{}, err
	}

	started := time.Now()
	resp, err := a.client.Complete(ctx, CompletionRequest{
		Provider:    in.Provider,
		Model:       in.Model,
		System:      system,
		Prompt:      prompt,
		Temperature: in.Temperature,
	})
	latencyMs := time.Since(started).Milliseconds()

	if err != nil {
		if isRateLimited(err) {
			metrics.RateLimitHits.WithLabelValues(string(in.Stage)).Inc()
			a.logger.Warn("Rate limit hit during stage execution",
				zap.String("run_id", in.RunID),
				zap.String("stage", string(in.Stage)),
				zap.String("model", in.Model),
			)
		}
		a.logger.Error("Stage execution failed",
			zap.String("run_id", in.RunID),
			zap.String("stage", string(in.Stage)),
			zap.Int("iteration", in.Iteration),
			zap.Error(err),
		)
		metrics.StageExecutions.WithLabelValues(string(in.Stage), "error").Inc()
		a.recordStage(in, StageExecutionResult{LatencyMs: latencyMs}, started, err)
		return StageExecutionResult{}, fmt.Errorf("stage %s failed: %w", in.Stage, err)
	}

	result := StageExecutionResult{
		Text:             resp.Text,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		LatencyMs:        latencyMs,
		ModelUsed:        resp.Model,
	}
	if result.ModelUsed == "" {
		result.ModelUsed = in.Model
	}

	metrics.StageExecutions.WithLabelValues(string(in.Stage), "ok").Inc()
	metrics.StageDuration.WithLabelValues(string(in.Stage)).Observe(time.Since(started).Seconds())
	metrics.StageTokens.WithLabelValues(string(in.Stage)).Observe(float64(result.TotalTokens))
	a.logger.Info("Stage executed",
		zap.String("run_id", in.RunID),
		zap.String("stage", string(in.Stage)),
		zap.Int("iteration", in.Iteration),
		zap.Int("total_tokens", result.TotalTokens),
		zap.Int64("latency_ms", latencyMs),
	)

	a.recordStage(in, result, started, nil)
	return result, nil
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit")
}

// recordStage writes the run_steps and llm_calls rows. The sink is not
// the source of truth, so failures are logged and swallowed.
func (a *StageActivities) recordStage(in StageExecutionInput, result StageExecutionResult, started time.Time, stageErr error) {
	if a.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := "DONE"
	output := db.JSONB{"preview": truncate(result.Text, previewLimit)}
	var callErr *string
	if stageErr != nil {
		status = "ERROR"
		msg := stageErr.Error()
		output = db.JSONB{"error": msg}
		callErr = &msg
	}

	step := &db.StepRecord{
		RunID:      in.RunID,
		StepName:   string(in.Stage),
		Iteration:  in.Iteration,
		Status:     status,
		Input:      previewVars(in.Vars),
		Output:     output,
		LatencyMs:  result.LatencyMs,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if err := a.sink.InsertStep(ctx, step); err != nil {
		a.logger.Warn("Failed to record stage telemetry", zap.String("run_id", in.RunID), zap.Error(err))
	}

	call := &db.LLMCall{
		RunID:            in.RunID,
		StepName:         string(in.Stage),
		ModelProvider:    in.Provider,
		ModelName:        in.Model,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      result.TotalTokens,
		LatencyMs:        result.LatencyMs,
		Error:            callErr,
	}
	if err := a.sink.InsertLLMCall(ctx, call); err != nil {
		a.logger.Warn("Failed to record llm call", zap.String("run_id", in.RunID), zap.Error(err))
	}
}

func previewVars(vars map[string]string) db.JSONB {
	out := make(db.JSONB, len(vars))
	for k, v := range vars {
		out[k] = truncate(v, previewLimit)
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
