package run

import (
	"errors"
	"time"
)

var (
	// ErrRunNotFound is returned when a run doesn't exist in the store
	ErrRunNotFound = errors.New("run not found")

	// ErrRunActive is returned when an execution is requested for a run
	// that is already RUNNING
	ErrRunActive = errors.New("run already has an execution in flight")

	// ErrNotSequence is returned when an append targets a non-sequence field
	ErrNotSequence = errors.New("target field is not a sequence")
)

// Status is the lifecycle state of a pipeline run
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusRunning          Status = "RUNNING"
	StatusDone             Status = "DONE"
	StatusDoneWithWarnings Status = "DONE_WITH_WARNINGS"
	StatusError            Status = "ERROR"
)

// Terminal reports whether the status ends an execution attempt
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusDoneWithWarnings, StatusError:
		return true
	}
	return false
}

// Stage identifies one discrete generation step in the pipeline
type Stage string

const (
	StageResearcher   Stage = "researcher"
	StageWriter       Stage = "writer"
	StageFactChecker  Stage = "fact_checker"
	StageStyleEditor  Stage = "style_editor"
	StageRubricGrader Stage = "rubric_grader"
)

// FeedbackStages are the stages a feedback-driven re-run may enter at
var FeedbackStages = map[Stage]bool{
	StageResearcher:  true,
	StageWriter:      true,
	StageFactChecker: true,
	StageStyleEditor: true,
}

// Inputs is the frozen snapshot of the request that created the run
type Inputs struct {
	Document      string `json:"document"`
	Tone          string `json:"tone"`
	Audience      string `json:"audience"`
	WordCount     int    `json:"word_count"`
	UseWebSearch  bool   `json:"use_web_search"`
	ModelProvider string `json:"model_provider"`
	ModelName     string `json:"model_name"`
}

// Source is one research source, referenced from drafts via [S#] markers
type Source struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Query    string   `json:"query,omitempty"`
	KeyFacts []string `json:"key_facts,omitempty"`
}

// Research is the validated output of the researcher stage
type Research struct {
	Queries      []string `json:"queries"`
	Sources      []Source `json:"sources"`
	SummaryFacts []string `json:"summary_facts"`
	Unknowns     []string `json:"unknowns"`
}

// Citation is derived from a research source; never edited independently
type Citation struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// CitationsFromSources derives the citation list for a research result.
// Citations are replaced wholesale whenever research reruns.
func CitationsFromSources(sources []Source) []Citation {
	citations := make([]Citation, 0, len(sources))
	for _, s := range sources {
		citations = append(citations, Citation{ID: s.ID, Title: s.Title, URL: s.URL})
	}
	return citations
}

// Draft is one writer output
type Draft struct {
	Iteration int    `json:"iteration"`
	Text      string `json:"text"`
}

// FactCheckIssue is a single disputed claim raised by the fact checker
type FactCheckIssue struct {
	Claim        string   `json:"claim"`
	Reason       string   `json:"reason"`
	SuggestedFix string   `json:"suggested_fix"`
	SourceIDs    []string `json:"source_ids"`
}

// FactCheck is one fact-checker verdict, paired 1:1 with a draft iteration
type FactCheck struct {
	Iteration           int              `json:"iteration"`
	Passed              bool             `json:"passed"`
	Issues              []FactCheckIssue `json:"issues"`
	RewriteInstructions string           `json:"rewrite_instructions"`
}

// Final is the polished markdown output
type Final struct {
	Markdown string `json:"markdown"`
}

// Thresholds are the per-metric floors for the quality gate, on a 1-5 scale
type Thresholds struct {
	MinClarity      float64 `json:"min_clarity" mapstructure:"min_clarity"`
	MinCorrectness  float64 `json:"min_correctness" mapstructure:"min_correctness"`
	MinCompleteness float64 `json:"min_completeness" mapstructure:"min_completeness"`
	MinOverall      float64 `json:"min_overall" mapstructure:"min_overall"`
}

// RubricScores are the clamped 1-5 quality scores
type RubricScores struct {
	Clarity      float64 `json:"clarity"`
	Correctness  float64 `json:"correctness"`
	Completeness float64 `json:"completeness"`
	Overall      float64 `json:"overall"`
	ScaleMin     float64 `json:"scale_min"`
	ScaleMax     float64 `json:"scale_max"`
}

// Rubric is one graded quality assessment of the polished text
type Rubric struct {
	Scores          RubricScores `json:"scores"`
	Thresholds      Thresholds   `json:"thresholds"`
	Passed          bool         `json:"passed"`
	ReviewRequired  bool         `json:"review_required"`
	Strengths       []string     `json:"strengths"`
	Weaknesses      []string     `json:"weaknesses"`
	Recommendations []string     `json:"recommendations"`
	GraderModel     string       `json:"grader_model"`
	Attempt         int          `json:"attempt"`
	Attempts        int          `json:"attempts"`
	LatencyMs       int64        `json:"latency_ms"`
	Error           string       `json:"error,omitempty"`
}

// QualityGate is the latest quality-gate snapshot for a run
type QualityGate struct {
	Passed         bool         `json:"passed"`
	ReviewRequired bool         `json:"review_required"`
	Attempts       int          `json:"attempts"`
	Scores         RubricScores `json:"scores"`
}

// FeedbackEntry records one user feedback submission
type FeedbackEntry struct {
	Stage     Stage     `json:"stage"`
	Feedback  string    `json:"feedback"`
	Timestamp time.Time `json:"timestamp"`
}

// Steps holds per-stage outputs; drafts and fact_checks are append-only
type Steps struct {
	Research   *Research   `json:"research"`
	Drafts     []Draft     `json:"drafts"`
	FactChecks []FactCheck `json:"fact_checks"`
	Final      *Final      `json:"final"`
	Rubric     *Rubric     `json:"rubric"`
}

// Run is the aggregate root for one pipeline execution
type Run struct {
	ID          string          `json:"run_id"`
	Inputs      Inputs          `json:"inputs"`
	Status      Status          `json:"status"`
	Steps       Steps           `json:"steps"`
	Citations   []Citation      `json:"citations"`
	Feedback    []FeedbackEntry `json:"feedback"`
	QualityGate *QualityGate    `json:"quality_gate"`
	Error       string          `json:"error,omitempty"`
	Logs        []string        `json:"logs"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LatestDraft returns the most recent draft, or nil if none exists
func (r *Run) LatestDraft() *Draft {
	if len(r.Steps.Drafts) == 0 {
		return nil
	}
	return &r.Steps.Drafts[len(r.Steps.Drafts)-1]
}

// LatestFactCheck returns the most recent fact-check verdict, or nil
func (r *Run) LatestFactCheck() *FactCheck {
	if len(r.Steps.FactChecks) == 0 {
		return nil
	}
	return &r.Steps.FactChecks[len(r.Steps.FactChecks)-1]
}
