package workflows

import (
	"context"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/inkpress-ai/inkpress/internal/activities"
	"github.com/inkpress-ai/inkpress/internal/config"
	"github.com/inkpress-ai/inkpress/internal/run"
)

const (
	validResearchJSON = `{"queries":["q1"],"sources":[{"id":"S1","title":"Release notes","url":"https://example.com/notes","key_facts":["shipped v2"]}],"summary_facts":["shipped v2"],"unknowns":[]}`
	factPassJSON      = `{"passed": true, "issues": [], "rewrite_instructions": ""}`
	factFailJSON      = `{"passed": false, "issues": [{"claim": "v3 shipped", "reason": "not in sources", "suggested_fix": "cite S1", "source_ids": ["S1"]}], "rewrite_instructions": "Remove the unsupported claim."}`
	rubricPassJSON    = `{"clarity": 4.5, "correctness": 4.5, "completeness": 4.0, "overall": 4.3, "strengths": ["clear"], "weaknesses": [], "recommendations": []}`
	rubricFailJSON    = `{"clarity": 4, "correctness": 3, "completeness": 4, "strengths": [], "weaknesses": ["uncited claims"], "recommendations": ["add citations"]}`
)

func testPipelineConfig() config.Pipeline {
	return config.Pipeline{
		DefaultProvider:     "groq",
		DefaultModel:        "groq/llama-3.1-8b-instant",
		MaxFactCheckRetries: 2,
		RubricMaxRetries:    1,
		Thresholds: run.Thresholds{
			MinClarity:      3.0,
			MinCorrectness:  4.0,
			MinCompleteness: 3.0,
			MinOverall:      3.5,
		},
		WebSearchProviders:  []string{"gemini"},
		StageTimeoutSeconds: 60,
	}
}

// fakeBackend stands in for the run store and stage executor: mutations
// land on an in-memory run document and stage calls are scripted per test
type fakeBackend struct {
	mu         sync.Mutex
	run        *run.Run
	cfg        config.Pipeline
	stageCalls []activities.StageExecutionInput
	respond    func(in activities.StageExecutionInput) (string, error)
}

func newFakeBackend(runID string) *fakeBackend {
	now := time.Now().UTC()
	return &fakeBackend{
		run: &run.Run{
			ID: runID,
			Inputs: run.Inputs{
				Document:  "Launch plan for the v2 ingestion service.",
				Tone:      "professional",
				Audience:  "engineers",
				WordCount: 800,
			},
			Status:    run.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		cfg: testPipelineConfig(),
	}
}

func (f *fakeBackend) register(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivityWithOptions(func(ctx context.Context) (config.Pipeline, error) {
		return f.cfg, nil
	}, activity.RegisterOptions{Name: ActivityGetPipelineConfig})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.StageExecutionInput) (activities.StageExecutionResult, error) {
		f.mu.Lock()
		f.stageCalls = append(f.stageCalls, in)
		respond := f.respond
		f.mu.Unlock()
		text, err := respond(in)
		if err != nil {
			return activities.StageExecutionResult{}, err
		}
		return activities.StageExecutionResult{Text: text, TotalTokens: 42, LatencyMs: 7, ModelUsed: in.Model}, nil
	}, activity.RegisterOptions{Name: ActivityExecuteStage})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.LoadRunInput) (*run.Run, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		snapshot := *f.run
		return &snapshot, nil
	}, activity.RegisterOptions{Name: ActivityLoadRun})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SetStatusInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.run.Status = in.Status
		f.run.Error = in.Error
		if in.Log != "" {
			f.run.Logs = append(f.run.Logs, in.Log)
		}
		return nil
	}, activity.RegisterOptions{Name: ActivitySetStatus})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SaveResearchInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		research := in.Research
		f.run.Steps.Research = &research
		f.run.Citations = run.CitationsFromSources(research.Sources)
		return nil
	}, activity.RegisterOptions{Name: ActivitySaveResearch})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.AppendDraftInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.run.Steps.Drafts = append(f.run.Steps.Drafts, in.Draft)
		return nil
	}, activity.RegisterOptions{Name: ActivityAppendDraft})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.AppendFactCheckInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.run.Steps.FactChecks = append(f.run.Steps.FactChecks, in.FactCheck)
		return nil
	}, activity.RegisterOptions{Name: ActivityAppendFactCheck})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SaveFinalInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.run.Steps.Final = &run.Final{Markdown: in.Markdown}
		return nil
	}, activity.RegisterOptions{Name: ActivitySaveFinal})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SaveRubricInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		rubric := in.Rubric
		gate := in.Gate
		f.run.Steps.Rubric = &rubric
		f.run.QualityGate = &gate
		return nil
	}, activity.RegisterOptions{Name: ActivitySaveRubric})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.AppendFeedbackInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.run.Feedback = append(f.run.Feedback, run.FeedbackEntry{
			Stage:     in.Stage,
			Feedback:  in.Feedback,
			Timestamp: time.Now().UTC(),
		})
		return nil
	}, activity.RegisterOptions{Name: ActivityAppendFeedback})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.AppendLogInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.run.Logs = append(f.run.Logs, in.Message)
		return nil
	}, activity.RegisterOptions{Name: ActivityAppendLog})
}

func (f *fakeBackend) stageCallCount(stage run.Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.stageCalls {
		if call.Stage == stage {
			count++
		}
	}
	return count
}

func (f *fakeBackend) callsFor(stage run.Stage) []activities.StageExecutionInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []activities.StageExecutionInput
	for _, call := range f.stageCalls {
		if call.Stage == stage {
			out = append(out, call)
		}
	}
	return out
}
