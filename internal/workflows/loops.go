package workflows

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/inkpress-ai/inkpress/internal/activities"
	"github.com/inkpress-ai/inkpress/internal/config"
	"github.com/inkpress-ai/inkpress/internal/interpret"
	"github.com/inkpress-ai/inkpress/internal/run"
)

const (
	generationTemperature = 0.5
	graderTemperature     = 0.0

	webSearchPrompt = "Web search is ENABLED. Use the search tool to find current, reputable external sources. " +
		"Include at least 3 external sources as S1+ with real URLs."
)

// pipelineEnv bundles the per-execution context shared by the pipeline
// loops: the configuration snapshot, the frozen run inputs, the resolved
// model, and pre-built activity contexts for stage and persistence calls.
type pipelineEnv struct {
	runID    string
	mode     string
	cfg      config.Pipeline
	inputs   run.Inputs
	provider string
	model    string

	stageCtx   workflow.Context
	persistCtx workflow.Context
	logger     log.Logger
}

// gateOutcome is what the quality gate hands back to the workflow for
// final status selection
type gateOutcome struct {
	finalMarkdown  string
	factPassed     bool
	rubric         run.Rubric
	reviewRequired bool
	attempts       int
}

// prepare fetches the pipeline config snapshot, loads the run, and builds
// the shared execution environment. The config is fetched once so hot
// reloads never change retry budgets or thresholds mid-run.
func prepare(ctx workflow.Context, runID, mode string) (*pipelineEnv, *run.Run, error) {
	cfgCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	var cfg config.Pipeline
	if err := workflow.ExecuteActivity(cfgCtx, ActivityGetPipelineConfig).Get(cfgCtx, &cfg); err != nil {
		return nil, nil, fmt.Errorf("fetch pipeline config: %w", err)
	}

	persistCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})
	var r run.Run
	if err := workflow.ExecuteActivity(persistCtx, ActivityLoadRun, activities.LoadRunInput{RunID: runID}).Get(persistCtx, &r); err != nil {
		return nil, nil, fmt.Errorf("load run: %w", err)
	}

	// A stage is never retried: generation is expensive and failures are
	// surfaced to the caller rather than silently re-attempted.
	stageCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: cfg.StageTimeout(),
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	provider := r.Inputs.ModelProvider
	if provider == "" {
		provider = cfg.DefaultProvider
	}
	model := r.Inputs.ModelName
	if model == "" {
		model = cfg.DefaultModel
	}

	env := &pipelineEnv{
		runID:      runID,
		mode:       mode,
		cfg:        cfg,
		inputs:     r.Inputs,
		provider:   provider,
		model:      model,
		stageCtx:   stageCtx,
		persistCtx: persistCtx,
		logger:     workflow.GetLogger(ctx),
	}
	return env, &r, nil
}

// runStage executes one generation stage with the given prompt variables
func (e *pipelineEnv) runStage(stage run.Stage, iteration int, model string, temperature float64, vars map[string]string) (activities.StageExecutionResult, error) {
	var result activities.StageExecutionResult
	err := workflow.ExecuteActivity(e.stageCtx, ActivityExecuteStage, activities.StageExecutionInput{
		RunID:       e.runID,
		Stage:       stage,
		Iteration:   iteration,
		Provider:    e.provider,
		Model:       model,
		Temperature: temperature,
		Vars:        vars,
	}).Get(e.stageCtx, &result)
	return result, err
}

// persist runs a persistence activity against the run store; errors are
// returned to the caller since the store is the source of truth
func (e *pipelineEnv) persist(name string, input interface{}) error {
	return workflow.ExecuteActivity(e.persistCtx, name, input).Get(e.persistCtx, nil)
}

// logProgress appends a progress line to the run's log. Log lines are
// operator breadcrumbs, not state, so a failed append is warned and
// swallowed.
func (e *pipelineEnv) logProgress(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	if err := e.persist(ActivityAppendLog, activities.AppendLogInput{RunID: e.runID, Message: message}); err != nil {
		e.logger.Warn("Failed to append run log", "run_id", e.runID, "message", message, "error", err)
	}
}

// fail transitions the run to ERROR and returns the original error
func (e *pipelineEnv) fail(err error) error {
	statusErr := e.persist(ActivitySetStatus, activities.SetStatusInput{
		RunID:  e.runID,
		Status: run.StatusError,
		Error:  err.Error(),
		Log:    fmt.Sprintf("Pipeline failed: %s", err.Error()),
		Mode:   e.mode,
	})
	if statusErr != nil {
		e.logger.Error("Failed to persist ERROR status", "run_id", e.runID, "error", statusErr)
	}
	return err
}

// webSearchInstructions resolves the researcher's web-search prompt
// addition, gated on the run's flag and provider support
func (e *pipelineEnv) webSearchInstructions() string {
	if !e.inputs.UseWebSearch {
		return ""
	}
	if !e.cfg.WebSearchSupported(e.provider) {
		e.logProgress("Web search disabled: not supported for provider %s", e.provider)
		return ""
	}
	e.logProgress("Web search enabled (provider %s with %s)", e.provider, e.model)
	return webSearchPrompt
}

// runFactCheckLoop drives the writer / fact-checker loop: a first draft
// plus up to MaxFactCheckRetries revisions, each revision carrying the
// previous verdict's rewrite instructions. Returns the last draft text,
// whether the last verdict passed, and the number of drafts written.
func (e *pipelineEnv) runFactCheckLoop(researchJSON string) (string, bool, int, error) {
	maxIterations := 1 + e.cfg.MaxFactCheckRetries
	draftText := ""
	factPassed := false
	drafts := 0
	revisionInstructions := ""

	for iteration := 1; iteration <= maxIterations; iteration++ {
		e.logProgress("Step 2: Writer iteration %d", iteration)
		writeResult, err := e.runStage(run.StageWriter, iteration, e.model, generationTemperature, map[string]string{
			"prd":                   e.inputs.Document,
			"research_json":         researchJSON,
			"tone":                  e.inputs.Tone,
			"audience":              e.inputs.Audience,
			"word_count":            strconv.Itoa(e.inputs.WordCount),
			"revision_instructions": revisionInstructions,
		})
		if err != nil {
			return draftText, factPassed, drafts, err
		}
		draftText = writeResult.Text
		drafts++
		if err := e.persist(ActivityAppendDraft, activities.AppendDraftInput{
			RunID: e.runID,
			Draft: run.Draft{Iteration: iteration, Text: draftText},
			Log:   fmt.Sprintf("Draft %d written (%d chars)", iteration, len(draftText)),
		}); err != nil {
			return draftText, factPassed, drafts, err
		}

		e.logProgress("Step 3: Fact-checker iteration %d", iteration)
		factResult, err := e.runStage(run.StageFactChecker, iteration, e.model, generationTemperature, map[string]string{
			"draft":         draftText,
			"research_json": researchJSON,
		})
		if err != nil {
			return draftText, factPassed, drafts, err
		}
		verdict, _ := interpret.FactCheck(factResult.Text, false)
		if err := e.persist(ActivityAppendFactCheck, activities.AppendFactCheckInput{
			RunID: e.runID,
			FactCheck: run.FactCheck{
				Iteration:           iteration,
				Passed:              verdict.Passed,
				Issues:              verdict.Issues,
				RewriteInstructions: verdict.RewriteInstructions,
			},
			Log: fmt.Sprintf("Fact-check %d: passed=%t, issues=%d", iteration, verdict.Passed, len(verdict.Issues)),
		}); err != nil {
			return draftText, factPassed, drafts, err
		}

		if verdict.Passed {
			factPassed = true
			break
		}
		if iteration < maxIterations {
			revisionInstructions = buildRevisionInstructions(iteration, verdict)
		} else {
			e.logProgress("Max retries reached - proceeding with warnings")
		}
	}
	return draftText, factPassed, drafts, nil
}

// runQualityGate polishes the draft and grades it against the rubric
// thresholds, rolling back to the writer with stricter instructions when
// grading fails and budget remains. Each rollback re-runs a strict
// fact-check whose verdict redefines the factual gate for the new draft.
func (e *pipelineEnv) runQualityGate(draftText, researchJSON string, factPassed bool, draftsTotal int) (gateOutcome, error) {
	graderModel := e.cfg.GraderModelFor(e.model)
	out := gateOutcome{factPassed: factPassed}
	attempt := 0

	for {
		attempt++
		e.logProgress("Step 4: Style polisher attempt %d", attempt)
		polishResult, err := e.runStage(run.StageStyleEditor, attempt, e.model, generationTemperature, map[string]string{
			"draft":    draftText,
			"tone":     e.inputs.Tone,
			"audience": e.inputs.Audience,
		})
		if err != nil {
			return out, err
		}
		out.finalMarkdown = polishResult.Text
		if err := e.persist(ActivitySaveFinal, activities.SaveFinalInput{
			RunID:    e.runID,
			Markdown: out.finalMarkdown,
		}); err != nil {
			return out, err
		}

		e.logProgress("Step 5: Rubric grader attempt %d", attempt)
		rubric := e.gradeRubric(attempt, researchJSON, out.finalMarkdown, graderModel)
		rubric.Attempts = attempt
		rubric.ReviewRequired = false
		gate := run.QualityGate{
			Passed:         rubric.Passed,
			ReviewRequired: false,
			Attempts:       attempt,
			Scores:         rubric.Scores,
		}
		if err := e.persist(ActivitySaveRubric, activities.SaveRubricInput{
			RunID:  e.runID,
			Rubric: rubric,
			Gate:   gate,
		}); err != nil {
			return out, err
		}
		out.rubric = rubric
		out.attempts = attempt

		if rubric.Passed {
			return out, nil
		}

		if attempt > e.cfg.RubricMaxRetries {
			rubric.ReviewRequired = true
			gate.ReviewRequired = true
			if err := e.persist(ActivitySaveRubric, activities.SaveRubricInput{
				RunID:  e.runID,
				Rubric: rubric,
				Gate:   gate,
			}); err != nil {
				return out, err
			}
			out.rubric = rubric
			out.reviewRequired = true
			return out, nil
		}

		e.logProgress("Rubric below threshold (overall=%.2f/5). Rolling back to Writer with stricter instructions.",
			rubric.Scores.Overall)

		writerIteration := draftsTotal + 1
		writeResult, err := e.runStage(run.StageWriter, writerIteration, e.model, generationTemperature, map[string]string{
			"prd":                   e.inputs.Document,
			"research_json":         researchJSON,
			"tone":                  e.inputs.Tone,
			"audience":              e.inputs.Audience,
			"word_count":            strconv.Itoa(e.inputs.WordCount),
			"revision_instructions": rubricRevisionInstructions(rubric),
		})
		if err != nil {
			return out, err
		}
		draftText = writeResult.Text
		draftsTotal++
		if err := e.persist(ActivityAppendDraft, activities.AppendDraftInput{
			RunID: e.runID,
			Draft: run.Draft{Iteration: writerIteration, Text: draftText},
			Log:   fmt.Sprintf("Draft %d written after rubric rollback (%d chars)", writerIteration, len(draftText)),
		}); err != nil {
			return out, err
		}

		factResult, err := e.runStage(run.StageFactChecker, writerIteration, e.model, generationTemperature, map[string]string{
			"draft":         draftText,
			"research_json": researchJSON,
		})
		if err != nil {
			return out, err
		}
		verdict, _ := interpret.FactCheck(factResult.Text, false)
		if err := e.persist(ActivityAppendFactCheck, activities.AppendFactCheckInput{
			RunID: e.runID,
			FactCheck: run.FactCheck{
				Iteration:           writerIteration,
				Passed:              verdict.Passed,
				Issues:              verdict.Issues,
				RewriteInstructions: verdict.RewriteInstructions,
			},
			Log: fmt.Sprintf("Rubric rollback fact-check: passed=%t, issues=%d", verdict.Passed, len(verdict.Issues)),
		}); err != nil {
			return out, err
		}
		// The latest rollback draft defines the factual gate status.
		out.factPassed = verdict.Passed
		factPassed = verdict.Passed
	}
}

// gradeRubric runs the grader stage and interprets its output. Grader
// failure is non-fatal: the attempt is counted against the budget with a
// synthesized failing rubric carrying the error.
func (e *pipelineEnv) gradeRubric(attempt int, researchJSON, finalMarkdown, graderModel string) run.Rubric {
	result, err := e.runStage(run.StageRubricGrader, attempt, graderModel, graderTemperature, map[string]string{
		"prd":            e.inputs.Document,
		"research_json":  researchJSON,
		"final_markdown": finalMarkdown,
	})
	if err != nil {
		e.logProgress("Rubric grader failed: %s", err.Error())
		rubric := interpret.FailedRubric(err.Error(), e.cfg.Thresholds, graderModel)
		rubric.Attempt = attempt
		return rubric
	}
	rubric := interpret.Rubric(result.Text, e.cfg.Thresholds, graderModel)
	rubric.Attempt = attempt
	rubric.LatencyMs = result.LatencyMs
	return rubric
}

// finalStatus maps the gate outcome to the run's terminal status
func finalStatus(out gateOutcome) run.Status {
	if out.factPassed && out.rubric.Passed && !out.reviewRequired {
		return run.StatusDone
	}
	return run.StatusDoneWithWarnings
}

func buildRevisionInstructions(iteration int, verdict interpret.FactCheckResult) string {
	issuesJSON, err := json.MarshalIndent(verdict.Issues, "", "  ")
	if err != nil {
		issuesJSON = []byte("[]")
	}
	return fmt.Sprintf(
		"\n\n--- REVISION REQUIRED (iteration %d) ---\n"+
			"The fact-checker found issues. Rewrite instructions:\n%s\n\n"+
			"Issues:\n%s\n\n"+
			"Please fix ALL issues and ensure every claim is cited with [S#].\n",
		iteration, verdict.RewriteInstructions, issuesJSON,
	)
}

func rubricRevisionInstructions(rubric run.Rubric) string {
	weakText := "- Improve overall editorial quality."
	if len(rubric.Weaknesses) > 0 {
		weakText = bulletList(rubric.Weaknesses)
	}
	recText := "- Tighten structure, factual precision, and completeness."
	if len(rubric.Recommendations) > 0 {
		recText = bulletList(rubric.Recommendations)
	}
	return fmt.Sprintf(
		"\n\n--- RUBRIC QUALITY GATE FAILED ---\n"+
			"Scores (1-5): clarity=%g, correctness=%g, completeness=%g, overall=%g\n\n"+
			"Weaknesses to address:\n%s\n\n"+
			"Revision requirements:\n%s\n\n"+
			"Hard constraints:\n"+
			"- Keep all claims fully supported by the provided research JSON.\n"+
			"- Keep or improve citation coverage using [S#] tags.\n"+
			"- Do not add unsupported facts.\n"+
			"- Improve clarity, correctness, and completeness to meet rubric thresholds.\n",
		rubric.Scores.Clarity, rubric.Scores.Correctness, rubric.Scores.Completeness, rubric.Scores.Overall,
		weakText, recText,
	)
}

func bulletList(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += "\n"
		}
		out += "- " + item
	}
	return out
}

// researchJSONForPrompt renders the research result for downstream
// prompts; on the (practically impossible) marshal failure it degrades to
// an empty object rather than failing the run
func researchJSONForPrompt(research run.Research) string {
	data, err := json.MarshalIndent(research, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
