package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpress-ai/inkpress/internal/run"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "inkpress-pipeline", cfg.Temporal.TaskQueue)
	assert.Equal(t, "groq", cfg.Pipeline.DefaultProvider)
	assert.Equal(t, 2, cfg.Pipeline.MaxFactCheckRetries)
	assert.Equal(t, 1, cfg.Pipeline.RubricMaxRetries)
	assert.Equal(t, 3.5, cfg.Pipeline.Thresholds.MinOverall)
	assert.Equal(t, 180*time.Second, cfg.Pipeline.StageTimeout())
}

func TestLoadReadsYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inkpress.yaml")
	body := `
http:
  port: 9090
pipeline:
  default_model: gemini-2.0-flash
  max_fact_check_retries: 3
  thresholds:
    min_overall: 4.0
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "gemini-2.0-flash", cfg.Pipeline.DefaultModel)
	assert.Equal(t, 3, cfg.Pipeline.MaxFactCheckRetries)
	assert.Equal(t, 4.0, cfg.Pipeline.Thresholds.MinOverall)
	// Untouched keys keep their defaults.
	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inkpress.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: [not: a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestNormalizedClampsThresholdsAndBudgets(t *testing.T) {
	p := Pipeline{
		MaxFactCheckRetries: -2,
		RubricMaxRetries:    -1,
		Thresholds: run.Thresholds{
			MinClarity:      0,
			MinCorrectness:  9,
			MinCompleteness: 3,
			MinOverall:      -4,
		},
	}.normalized()

	assert.Equal(t, 0, p.MaxFactCheckRetries)
	assert.Equal(t, 0, p.RubricMaxRetries)
	assert.Equal(t, 1.0, p.Thresholds.MinClarity)
	assert.Equal(t, 5.0, p.Thresholds.MinCorrectness)
	assert.Equal(t, 3.0, p.Thresholds.MinCompleteness)
	assert.Equal(t, 1.0, p.Thresholds.MinOverall)
	assert.Equal(t, 180, p.StageTimeoutSeconds)
}

func TestWebSearchSupportedIsCaseInsensitive(t *testing.T) {
	p := Pipeline{WebSearchProviders: []string{"gemini", "openai"}}

	assert.True(t, p.WebSearchSupported("Gemini"))
	assert.True(t, p.WebSearchSupported("OPENAI"))
	assert.False(t, p.WebSearchSupported("groq"))
	assert.False(t, Pipeline{}.WebSearchSupported("gemini"))
}

func TestGraderModelFallsBackToRunModel(t *testing.T) {
	assert.Equal(t, "grader-x", Pipeline{GraderModel: "grader-x"}.GraderModelFor("run-model"))
	assert.Equal(t, "run-model", Pipeline{}.GraderModelFor("run-model"))
}
