package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/inkpress-ai/inkpress/internal/db"
	"github.com/inkpress-ai/inkpress/internal/metrics"
	"github.com/inkpress-ai/inkpress/internal/run"
	"github.com/inkpress-ai/inkpress/internal/runstore"
)

// PersistenceActivities mutate run state. The Redis run store is the
// source of truth: a store failure fails the activity and with it the
// run. The Postgres sink is best-effort and never fails an activity.
type PersistenceActivities struct {
	store  *runstore.Store
	sink   *db.Client // optional
	logger *zap.Logger
}

// NewPersistenceActivities wires the persistence layer. sink may be nil.
func NewPersistenceActivities(store *runstore.Store, sink *db.Client, logger *zap.Logger) *PersistenceActivities {
	return &PersistenceActivities{
		store:  store,
		sink:   sink,
		logger: logger,
	}
}

// LoadRun fetches the full run document
func (a *PersistenceActivities) LoadRun(ctx context.Context, in LoadRunInput) (*run.Run, error) {
	return a.store.Load(ctx, in.RunID)
}

// SetStatus updates the run status and mirrors it to the sink
func (a *PersistenceActivities) SetStatus(ctx context.Context, in SetStatusInput) error {
	if err := a.store.SetStatus(ctx, in.RunID, in.Status, in.Error); err != nil {
		return err
	}
	if in.Status.Terminal() {
		mode := in.Mode
		if mode == "" {
			mode = "pipeline"
		}
		metrics.RunsCompleted.WithLabelValues(mode, string(in.Status)).Inc()
	}
	if in.Log != "" {
		if err := a.store.AppendLog(ctx, in.RunID, in.Log); err != nil {
			return err
		}
	}
	if a.sink != nil {
		var errMsg *string
		if in.Error != "" {
			errMsg = &in.Error
		}
		if err := a.sink.SetRunStatus(ctx, in.RunID, string(in.Status), errMsg); err != nil {
			a.logger.Warn("Failed to mirror run status",
				zap.String("run_id", in.RunID),
				zap.String("status", string(in.Status)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// SaveResearch stores the research step output
func (a *PersistenceActivities) SaveResearch(ctx context.Context, in SaveResearchInput) error {
	if err := a.store.SetResearch(ctx, in.RunID, in.Research); err != nil {
		return err
	}
	return a.appendLog(ctx, in.RunID, in.Log)
}

// AppendDraft appends a draft iteration
func (a *PersistenceActivities) AppendDraft(ctx context.Context, in AppendDraftInput) error {
	if err := a.store.AppendToSequence(ctx, in.RunID, "drafts", in.Draft); err != nil {
		return err
	}
	return a.appendLog(ctx, in.RunID, in.Log)
}

// AppendFactCheck appends a fact-check iteration
func (a *PersistenceActivities) AppendFactCheck(ctx context.Context, in AppendFactCheckInput) error {
	if err := a.store.AppendToSequence(ctx, in.RunID, "fact_checks", in.FactCheck); err != nil {
		return err
	}
	metrics.FactCheckIterations.Observe(float64(in.FactCheck.Iteration))
	return a.appendLog(ctx, in.RunID, in.Log)
}

// SaveFinal stores the styled final markdown
func (a *PersistenceActivities) SaveFinal(ctx context.Context, in SaveFinalInput) error {
	if err := a.store.SetFinal(ctx, in.RunID, in.Markdown); err != nil {
		return err
	}
	return a.appendLog(ctx, in.RunID, in.Log)
}

// SaveRubric stores the rubric verdict and quality gate, mirroring the
// scores to the sink
func (a *PersistenceActivities) SaveRubric(ctx context.Context, in SaveRubricInput) error {
	if err := a.store.SetRubric(ctx, in.RunID, in.Rubric, in.Gate); err != nil {
		return err
	}
	metrics.RubricAttempts.Observe(float64(in.Gate.Attempts))
	metrics.RubricOverallScore.Observe(in.Rubric.Scores.Overall)
	if in.Gate.ReviewRequired {
		metrics.ReviewEscalations.Inc()
	}
	if a.sink != nil {
		rec := &db.RubricRecord{
			RunID:             in.RunID,
			ClarityScore:      in.Rubric.Scores.Clarity,
			CorrectnessScore:  in.Rubric.Scores.Correctness,
			CompletenessScore: in.Rubric.Scores.Completeness,
			OverallScore:      in.Rubric.Scores.Overall,
			Passed:            in.Rubric.Passed,
			ReviewRequired:    in.Rubric.ReviewRequired,
			Attempts:          in.Gate.Attempts,
			Thresholds: db.JSONB{
				"min_clarity":      in.Rubric.Thresholds.MinClarity,
				"min_correctness":  in.Rubric.Thresholds.MinCorrectness,
				"min_completeness": in.Rubric.Thresholds.MinCompleteness,
				"min_overall":      in.Rubric.Thresholds.MinOverall,
			},
			Summary: db.JSONB{
				"strengths":       in.Rubric.Strengths,
				"weaknesses":      in.Rubric.Weaknesses,
				"recommendations": in.Rubric.Recommendations,
				"grader_model":    in.Rubric.GraderModel,
			},
		}
		if err := a.sink.UpsertRubric(ctx, rec); err != nil {
			a.logger.Warn("Failed to mirror rubric", zap.String("run_id", in.RunID), zap.Error(err))
		}
	}
	return a.appendLog(ctx, in.RunID, in.Log)
}

// AppendFeedback records a user feedback entry on the run
func (a *PersistenceActivities) AppendFeedback(ctx context.Context, in AppendFeedbackInput) error {
	return a.store.AppendFeedback(ctx, in.RunID, in.Stage, in.Feedback)
}

// AppendLog appends a progress log line to the run
func (a *PersistenceActivities) AppendLog(ctx context.Context, in AppendLogInput) error {
	return a.appendLogLevel(ctx, in.RunID, in.Message, in.Level)
}

func (a *PersistenceActivities) appendLog(ctx context.Context, runID, message string) error {
	if message == "" {
		return nil
	}
	return a.appendLogLevel(ctx, runID, message, "INFO")
}

func (a *PersistenceActivities) appendLogLevel(ctx context.Context, runID, message, level string) error {
	if err := a.store.AppendLog(ctx, runID, message); err != nil {
		return err
	}
	if a.sink != nil {
		if level == "" {
			level = "INFO"
		}
		a.sink.QueueLog(db.LogRecord{
			RunID:   runID,
			Level:   level,
			Message: message,
			TS:      time.Now().UTC(),
		})
	}
	return nil
}
