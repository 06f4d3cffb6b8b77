package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/inkpress-ai/inkpress/internal/activities"
	"github.com/inkpress-ai/inkpress/internal/interpret"
	"github.com/inkpress-ai/inkpress/internal/run"
)

// PipelineWorkflow executes the full document-to-article pipeline:
// research, a writer / fact-checker loop with a bounded revision budget,
// then a style polish graded against rubric thresholds with rollback to
// the writer when grading fails. Stage failures are fatal to the run;
// rubric grader failures burn an attempt and continue.
func PipelineWorkflow(ctx workflow.Context, input PipelineInput) (PipelineResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting PipelineWorkflow", "run_id", input.RunID)

	env, r, err := prepare(ctx, input.RunID, "pipeline")
	if err != nil {
		return PipelineResult{RunID: input.RunID}, err
	}

	if err := env.persist(ActivitySetStatus, activities.SetStatusInput{
		RunID:  input.RunID,
		Status: run.StatusRunning,
		Log:    "Pipeline execution started",
	}); err != nil {
		return PipelineResult{RunID: input.RunID}, err
	}

	webSearch := env.webSearchInstructions()

	env.logProgress("Step 1: Researcher starting")
	researchResult, err := env.runStage(run.StageResearcher, 1, env.model, generationTemperature, map[string]string{
		"prd":                     r.Inputs.Document,
		"web_search_instructions": webSearch,
	})
	if err != nil {
		return PipelineResult{RunID: input.RunID}, env.fail(err)
	}
	research, valid := interpret.Research(researchResult.Text, r.Inputs.Document)
	if !valid {
		env.logProgress("Research output validation soft-failed, proceeding")
	}
	if err := env.persist(ActivitySaveResearch, activities.SaveResearchInput{
		RunID:    input.RunID,
		Research: research,
		Log:      fmt.Sprintf("Research done - %d sources found", len(research.Sources)),
	}); err != nil {
		return PipelineResult{RunID: input.RunID}, env.fail(err)
	}
	researchJSON := researchJSONForPrompt(research)

	draftText, factPassed, draftsTotal, err := env.runFactCheckLoop(researchJSON)
	if err != nil {
		return PipelineResult{RunID: input.RunID}, env.fail(err)
	}

	out, err := env.runQualityGate(draftText, researchJSON, factPassed, draftsTotal)
	if err != nil {
		return PipelineResult{RunID: input.RunID}, env.fail(err)
	}

	status := finalStatus(out)
	if err := env.persist(ActivitySetStatus, activities.SetStatusInput{
		RunID:  input.RunID,
		Status: status,
		Mode:   env.mode,
	}); err != nil {
		return PipelineResult{RunID: input.RunID}, err
	}
	if out.reviewRequired {
		env.logProgress("Rubric threshold not met after retries. Escalating to human review.")
	}
	env.logProgress("Rubric: overall=%.2f/5, passed=%t, attempts=%d",
		out.rubric.Scores.Overall, out.rubric.Passed, out.attempts)
	env.logProgress("Pipeline complete - status=%s", status)

	logger.Info("PipelineWorkflow completed",
		"run_id", input.RunID,
		"status", string(status),
		"fact_passed", out.factPassed,
		"rubric_passed", out.rubric.Passed,
	)
	return PipelineResult{
		RunID:          input.RunID,
		Status:         string(status),
		FactPassed:     out.factPassed,
		RubricPassed:   out.rubric.Passed,
		ReviewRequired: out.reviewRequired,
		RubricAttempts: out.attempts,
	}, nil
}
