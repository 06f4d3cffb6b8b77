package workflows

// Activity names used by the pipeline workflows. Activities are invoked
// by name so tests can register lightweight stand-ins.
const (
	ActivityGetPipelineConfig = "GetPipelineConfig"
	ActivityExecuteStage      = "ExecuteStage"
	ActivityLoadRun           = "LoadRun"
	ActivitySetStatus         = "SetStatus"
	ActivitySaveResearch      = "SaveResearch"
	ActivityAppendDraft       = "AppendDraft"
	ActivityAppendFactCheck   = "AppendFactCheck"
	ActivitySaveFinal         = "SaveFinal"
	ActivitySaveRubric        = "SaveRubric"
	ActivityAppendFeedback    = "AppendFeedback"
	ActivityAppendLog         = "AppendLog"
)

// PipelineInput starts a full document-to-article pipeline execution
type PipelineInput struct {
	RunID string `json:"run_id"`
}

// FeedbackInput re-runs the pipeline from a chosen stage with user
// feedback folded into that stage's prompt
type FeedbackInput struct {
	RunID    string `json:"run_id"`
	Stage    string `json:"stage"`
	Feedback string `json:"feedback"`
}

// PipelineResult summarizes an execution; full state lives in the run
// store
type PipelineResult struct {
	RunID          string `json:"run_id"`
	Status         string `json:"status"`
	FactPassed     bool   `json:"fact_passed"`
	RubricPassed   bool   `json:"rubric_passed"`
	ReviewRequired bool   `json:"review_required"`
	RubricAttempts int    `json:"rubric_attempts"`
}
