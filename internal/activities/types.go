package activities

import (
	"github.com/inkpress-ai/inkpress/internal/run"
)

// StageExecutionInput is the input bundle for one stage execution
type StageExecutionInput struct {
	RunID       string            `json:"run_id"`
	Stage       run.Stage         `json:"stage"`
	Iteration   int               `json:"iteration"`
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	Temperature float64           `json:"temperature"`
	Vars        map[string]string `json:"vars"`
}

// StageExecutionResult carries generated text plus usage and latency
// accounting
type StageExecutionResult struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	LatencyMs        int64  `json:"latency_ms"`
	ModelUsed        string `json:"model_used"`
}

// LoadRunInput asks for the current run document
type LoadRunInput struct {
	RunID string `json:"run_id"`
}

// SetStatusInput transitions the run status; Log, when set, is appended
// in the same activity so the transition and its log line stay adjacent
type SetStatusInput struct {
	RunID  string     `json:"run_id"`
	Status run.Status `json:"status"`
	Error  string     `json:"error,omitempty"`
	Log    string     `json:"log,omitempty"`
	Mode   string     `json:"mode,omitempty"`
}

// SaveResearchInput persists research output; citations are derived
// inside the store
type SaveResearchInput struct {
	RunID    string       `json:"run_id"`
	Research run.Research `json:"research"`
	Log      string       `json:"log,omitempty"`
}

// AppendDraftInput appends one writer output to the drafts history
type AppendDraftInput struct {
	RunID string    `json:"run_id"`
	Draft run.Draft `json:"draft"`
	Log   string    `json:"log,omitempty"`
}

// AppendFactCheckInput appends one fact-check verdict to the history
type AppendFactCheckInput struct {
	RunID     string        `json:"run_id"`
	FactCheck run.FactCheck `json:"fact_check"`
	Log       string        `json:"log,omitempty"`
}

// SaveFinalInput stores the polished markdown
type SaveFinalInput struct {
	RunID    string `json:"run_id"`
	Markdown string `json:"markdown"`
	Log      string `json:"log,omitempty"`
}

// SaveRubricInput stores the rubric result and quality-gate snapshot,
// and upserts the rubric to the telemetry sink best-effort
type SaveRubricInput struct {
	RunID  string          `json:"run_id"`
	Rubric run.Rubric      `json:"rubric"`
	Gate   run.QualityGate `json:"gate"`
	Log    string          `json:"log,omitempty"`
}

// AppendFeedbackInput records a user feedback submission
type AppendFeedbackInput struct {
	RunID    string    `json:"run_id"`
	Stage    run.Stage `json:"stage"`
	Feedback string    `json:"feedback"`
}

// AppendLogInput appends a log line to the run record and log stream
type AppendLogInput struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}
