package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/inkpress-ai/inkpress/internal/config"
	"github.com/inkpress-ai/inkpress/internal/db"
	"github.com/inkpress-ai/inkpress/internal/metrics"
	"github.com/inkpress-ai/inkpress/internal/run"
	"github.com/inkpress-ai/inkpress/internal/runstore"
	"github.com/inkpress-ai/inkpress/internal/workflows"
)

const (
	defaultTone      = "professional"
	defaultAudience  = "engineers"
	defaultWordCount = 800
)

// WorkflowStarter is the slice of the Temporal client the service needs;
// tests substitute a fake.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// CreateRunRequest carries the caller's inputs; zero values take service
// defaults
type CreateRunRequest struct {
	Document      string `json:"document"`
	Tone          string `json:"tone"`
	Audience      string `json:"audience"`
	WordCount     int    `json:"word_count"`
	UseWebSearch  bool   `json:"use_web_search"`
	ModelProvider string `json:"model_provider"`
	ModelName     string `json:"model_name"`
}

// Service coordinates run creation and workflow dispatch
type Service struct {
	temporal  WorkflowStarter
	store     *runstore.Store
	sink      *db.Client // optional
	cfg       *config.Config
	taskQueue string
	logger    *zap.Logger
}

// NewService wires the run service. sink may be nil.
func NewService(temporal WorkflowStarter, store *runstore.Store, sink *db.Client, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		temporal:  temporal,
		store:     store,
		sink:      sink,
		cfg:       cfg,
		taskQueue: cfg.Temporal.TaskQueue,
		logger:    logger,
	}
}

// CreateRun registers a new run in PENDING state. The inputs are frozen
// at creation; later executions reuse them unchanged.
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (*run.Run, error) {
	if req.Document == "" {
		return nil, fmt.Errorf("document is required")
	}

	inputs := run.Inputs{
		Document:      req.Document,
		Tone:          req.Tone,
		Audience:      req.Audience,
		WordCount:     req.WordCount,
		UseWebSearch:  req.UseWebSearch,
		ModelProvider: req.ModelProvider,
		ModelName:     req.ModelName,
	}
	if inputs.Tone == "" {
		inputs.Tone = defaultTone
	}
	if inputs.Audience == "" {
		inputs.Audience = defaultAudience
	}
	if inputs.WordCount <= 0 {
		inputs.WordCount = defaultWordCount
	}
	if inputs.ModelProvider == "" {
		inputs.ModelProvider = s.cfg.Pipeline.DefaultProvider
	}
	if inputs.ModelName == "" {
		inputs.ModelName = s.cfg.Pipeline.DefaultModel
	}

	runID := uuid.New().String()
	r, err := s.store.Create(ctx, runID, inputs)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if s.sink != nil {
		rec := &db.RunRecord{
			ID:     runID,
			Status: string(run.StatusPending),
			Inputs: db.JSONB{
				"tone":       inputs.Tone,
				"audience":   inputs.Audience,
				"word_count": inputs.WordCount,
			},
			ModelProvider: inputs.ModelProvider,
			ModelName:     inputs.ModelName,
			UseWebSearch:  inputs.UseWebSearch,
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     r.UpdatedAt,
		}
		if err := s.sink.InsertRun(ctx, rec); err != nil {
			s.logger.Warn("Failed to mirror run creation", zap.String("run_id", runID), zap.Error(err))
		}
	}

	s.logger.Info("Run created", zap.String("run_id", runID), zap.String("model", inputs.ModelName))
	return r, nil
}

// Execute starts a full pipeline execution for the run. A run admits one
// execution at a time: a RUNNING status or a live workflow with the same
// run-scoped ID rejects the request with ErrRunActive.
func (s *Service) Execute(ctx context.Context, runID string) error {
	if err := s.ensureIdle(ctx, runID); err != nil {
		return err
	}

	_, err := s.temporal.ExecuteWorkflow(ctx, s.startOptions(runID),
		workflows.PipelineWorkflow, workflows.PipelineInput{RunID: runID})
	if err != nil {
		return s.startError(runID, err)
	}
	metrics.RunsStarted.WithLabelValues("pipeline").Inc()
	s.logger.Info("Pipeline execution started", zap.String("run_id", runID))
	return nil
}

// ExecuteWithFeedback starts a feedback-driven partial re-run entering at
// the given stage
func (s *Service) ExecuteWithFeedback(ctx context.Context, runID, stage, feedback string) error {
	if !run.FeedbackStages[run.Stage(stage)] {
		return fmt.Errorf("invalid feedback stage: %q", stage)
	}
	if err := s.ensureIdle(ctx, runID); err != nil {
		return err
	}

	_, err := s.temporal.ExecuteWorkflow(ctx, s.startOptions(runID),
		workflows.FeedbackWorkflow, workflows.FeedbackInput{RunID: runID, Stage: stage, Feedback: feedback})
	if err != nil {
		return s.startError(runID, err)
	}
	metrics.RunsStarted.WithLabelValues("feedback").Inc()
	s.logger.Info("Feedback execution started", zap.String("run_id", runID), zap.String("stage", stage))
	return nil
}

// GetRun returns the current run document
func (s *Service) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	return s.store.Load(ctx, runID)
}

// ensureIdle checks that the run exists and has no execution in flight
func (s *Service) ensureIdle(ctx context.Context, runID string) error {
	r, err := s.store.Load(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status == run.StatusRunning {
		metrics.RunsRejected.Inc()
		return fmt.Errorf("run %s: %w", runID, run.ErrRunActive)
	}
	return nil
}

// startOptions pins the workflow ID to the run so Temporal enforces the
// single-execution rule even when two requests race past the status check
func (s *Service) startOptions(runID string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                    "run-" + runID,
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
}

func (s *Service) startError(runID string, err error) error {
	metrics.RunsRejected.Inc()
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		s.logger.Warn("Execution already in flight", zap.String("run_id", runID))
		return fmt.Errorf("run %s: %w", runID, run.ErrRunActive)
	}
	s.logger.Warn("Failed to start workflow", zap.String("run_id", runID), zap.Error(err))
	return fmt.Errorf("start workflow for run %s: %w", runID, err)
}
