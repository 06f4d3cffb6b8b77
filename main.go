package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inkpress-ai/inkpress/internal/activities"
	"github.com/inkpress-ai/inkpress/internal/config"
	"github.com/inkpress-ai/inkpress/internal/db"
	"github.com/inkpress-ai/inkpress/internal/httpapi"
	"github.com/inkpress-ai/inkpress/internal/runstore"
	"github.com/inkpress-ai/inkpress/internal/server"
	temporaladapter "github.com/inkpress-ai/inkpress/internal/temporal"
	"github.com/inkpress-ai/inkpress/internal/templates"
	"github.com/inkpress-ai/inkpress/internal/tracing"
	"github.com/inkpress-ai/inkpress/internal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "inkpress-orchestrator: %v\n", err)
		os.Exit(1)
	}
}

// staticPipeline serves a fixed pipeline config when the file watcher
// cannot be started
type staticPipeline struct {
	pipeline config.Pipeline
}

func (s staticPipeline) GetPipeline(_ context.Context) config.Pipeline {
	return s.pipeline
}

func run() error {
	configPath := os.Getenv("INKPRESS_CONFIG_PATH")
	if configPath == "" {
		configPath = "inkpress.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	store, err := runstore.NewStore(cfg.Redis.Addr, cfg.Redis.Password, logger)
	if err != nil {
		return fmt.Errorf("connect run store: %w", err)
	}

	var sink *db.Client
	if cfg.Postgres.Enabled {
		sink, err = db.NewClient(&db.Config{
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			Database:        cfg.Postgres.Database,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConnections:  10,
			IdleConnections: 5,
			MaxLifetime:     30 * time.Minute,
		}, logger)
		if err != nil {
			// Telemetry is best-effort; the pipeline runs without it.
			logger.Warn("Telemetry database unavailable", zap.Error(err))
			sink = nil
		} else {
			defer sink.Close()
		}
	}

	catalog, err := templates.Load(cfg.Templates.CatalogPath, logger)
	if err != nil {
		return fmt.Errorf("load prompt templates: %w", err)
	}

	var configProvider activities.PipelineConfigProvider
	watcher, err := config.NewWatcher(configPath, cfg.Pipeline, logger)
	if err != nil {
		logger.Warn("Config hot reload unavailable", zap.Error(err))
		configProvider = staticPipeline{pipeline: cfg.Pipeline}
	} else {
		defer watcher.Stop()
		configProvider = watcher
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporaladapter.NewZapAdapter(logger),
	})
	if err != nil {
		return fmt.Errorf("connect temporal: %w", err)
	}
	defer temporalClient.Close()

	completion := activities.NewHTTPCompletionClient(
		cfg.Completion.BaseURL,
		time.Duration(cfg.Completion.TimeoutSeconds)*time.Second,
	)
	stageActs := activities.NewStageActivities(completion, catalog, sink, logger)
	persistActs := activities.NewPersistenceActivities(store, sink, logger)
	configActs := activities.NewConfigActivities(configProvider)

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.PipelineWorkflow)
	w.RegisterWorkflow(workflows.FeedbackWorkflow)
	w.RegisterActivityWithOptions(configActs.GetPipelineConfig, activity.RegisterOptions{Name: workflows.ActivityGetPipelineConfig})
	w.RegisterActivityWithOptions(stageActs.ExecuteStage, activity.RegisterOptions{Name: workflows.ActivityExecuteStage})
	w.RegisterActivityWithOptions(persistActs.LoadRun, activity.RegisterOptions{Name: workflows.ActivityLoadRun})
	w.RegisterActivityWithOptions(persistActs.SetStatus, activity.RegisterOptions{Name: workflows.ActivitySetStatus})
	w.RegisterActivityWithOptions(persistActs.SaveResearch, activity.RegisterOptions{Name: workflows.ActivitySaveResearch})
	w.RegisterActivityWithOptions(persistActs.AppendDraft, activity.RegisterOptions{Name: workflows.ActivityAppendDraft})
	w.RegisterActivityWithOptions(persistActs.AppendFactCheck, activity.RegisterOptions{Name: workflows.ActivityAppendFactCheck})
	w.RegisterActivityWithOptions(persistActs.SaveFinal, activity.RegisterOptions{Name: workflows.ActivitySaveFinal})
	w.RegisterActivityWithOptions(persistActs.SaveRubric, activity.RegisterOptions{Name: workflows.ActivitySaveRubric})
	w.RegisterActivityWithOptions(persistActs.AppendFeedback, activity.RegisterOptions{Name: workflows.ActivityAppendFeedback})
	w.RegisterActivityWithOptions(persistActs.AppendLog, activity.RegisterOptions{Name: workflows.ActivityAppendLog})

	if err := w.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer w.Stop()

	svc := server.NewService(temporalClient, store, sink, cfg, logger)
	mux := http.NewServeMux()
	httpapi.NewRunsHandler(svc, logger).RegisterRoutes(mux)
	httpapi.NewMetricsHandler(sink, logger).RegisterRoutes(mux)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP API listening", zap.Int("port", cfg.HTTP.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Metrics listening", zap.Int("port", cfg.Metrics.Port))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown error", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics shutdown error", zap.Error(err))
		}
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown error", zap.Error(err))
	}
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(parsed)
	return zcfg.Build()
}
