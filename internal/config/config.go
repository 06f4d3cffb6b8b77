package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/inkpress-ai/inkpress/internal/run"
)

// Pipeline holds the knobs the orchestrator needs at runtime: model
// selection, retry budgets, and quality-gate thresholds. It is built once
// at startup and handed to workflows explicitly, never read from ambient
// environment inside loop logic.
type Pipeline struct {
	DefaultProvider     string         `mapstructure:"default_provider"`
	DefaultModel        string         `mapstructure:"default_model"`
	GraderModel         string         `mapstructure:"grader_model"`
	MaxFactCheckRetries int            `mapstructure:"max_fact_check_retries"`
	RubricMaxRetries    int            `mapstructure:"rubric_max_retries"`
	Thresholds          run.Thresholds `mapstructure:"thresholds"`
	WebSearchProviders  []string       `mapstructure:"web_search_providers"`
	StageTimeoutSeconds int            `mapstructure:"stage_timeout_seconds"`
}

// StageTimeout bounds each stage executor call
func (p Pipeline) StageTimeout() time.Duration {
	return time.Duration(p.StageTimeoutSeconds) * time.Second
}

// WebSearchSupported reports whether a provider supports tool-backed
// research
func (p Pipeline) WebSearchSupported(provider string) bool {
	for _, candidate := range p.WebSearchProviders {
		if strings.EqualFold(candidate, provider) {
			return true
		}
	}
	return false
}

// GraderModelFor returns the grading model, falling back to the run's
// writing model when no dedicated grader is configured
func (p Pipeline) GraderModelFor(runModel string) string {
	if p.GraderModel != "" {
		return p.GraderModel
	}
	return runModel
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type CompletionConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type TemplatesConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
}

// Config is the full service configuration
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Completion CompletionConfig `mapstructure:"completion"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Templates  TemplatesConfig  `mapstructure:"templates"`
	Pipeline   Pipeline         `mapstructure:"pipeline"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)
	v.SetDefault("logging.level", "info")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "inkpress-pipeline")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "inkpress")
	v.SetDefault("postgres.password", "inkpress")
	v.SetDefault("postgres.database", "inkpress")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("completion.base_url", "http://localhost:8000")
	v.SetDefault("completion.timeout_seconds", 120)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "inkpress-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("templates.catalog_path", "")
	v.SetDefault("pipeline.default_provider", "groq")
	v.SetDefault("pipeline.default_model", "groq/llama-3.1-8b-instant")
	v.SetDefault("pipeline.grader_model", "")
	v.SetDefault("pipeline.max_fact_check_retries", 2)
	v.SetDefault("pipeline.rubric_max_retries", 1)
	v.SetDefault("pipeline.thresholds.min_clarity", 3.0)
	v.SetDefault("pipeline.thresholds.min_correctness", 4.0)
	v.SetDefault("pipeline.thresholds.min_completeness", 3.0)
	v.SetDefault("pipeline.thresholds.min_overall", 3.5)
	v.SetDefault("pipeline.web_search_providers", []string{"gemini"})
	v.SetDefault("pipeline.stage_timeout_seconds", 180)
}

// Load reads configuration from path (or INKPRESS_CONFIG_PATH, or
// ./inkpress.yaml) with INKPRESS_* environment overrides. A missing file
// is not an error; defaults apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("INKPRESS_CONFIG_PATH")
	}
	if path == "" {
		path = "inkpress.yaml"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("INKPRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Pipeline = cfg.Pipeline.normalized()
	return &cfg, nil
}

// normalized clamps thresholds into the rubric scale and floors retry
// budgets at zero
func (p Pipeline) normalized() Pipeline {
	clamp := func(v float64) float64 {
		if v < 1 {
			return 1
		}
		if v > 5 {
			return 5
		}
		return v
	}
	p.Thresholds.MinClarity = clamp(p.Thresholds.MinClarity)
	p.Thresholds.MinCorrectness = clamp(p.Thresholds.MinCorrectness)
	p.Thresholds.MinCompleteness = clamp(p.Thresholds.MinCompleteness)
	p.Thresholds.MinOverall = clamp(p.Thresholds.MinOverall)
	if p.MaxFactCheckRetries < 0 {
		p.MaxFactCheckRetries = 0
	}
	if p.RubricMaxRetries < 0 {
		p.RubricMaxRetries = 0
	}
	if p.StageTimeoutSeconds <= 0 {
		p.StageTimeoutSeconds = 180
	}
	return p
}
