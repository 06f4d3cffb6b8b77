package activities

import (
	"context"

	"github.com/inkpress-ai/inkpress/internal/config"
)

// PipelineConfigProvider supplies the current pipeline configuration.
// The config watcher satisfies it; tests substitute a static provider.
type PipelineConfigProvider interface {
	GetPipeline(ctx context.Context) config.Pipeline
}

// ConfigActivities hand workflows a consistent snapshot of the pipeline
// configuration so hot reloads never change behaviour mid-run.
type ConfigActivities struct {
	provider PipelineConfigProvider
}

func NewConfigActivities(provider PipelineConfigProvider) *ConfigActivities {
	return &ConfigActivities{provider: provider}
}

// GetPipelineConfig returns the pipeline config in effect right now
func (a *ConfigActivities) GetPipelineConfig(ctx context.Context) (config.Pipeline, error) {
	return a.provider.GetPipeline(ctx), nil
}
