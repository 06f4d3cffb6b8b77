package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the pipeline section of the config file so
// threshold and retry-budget changes apply to new executions without a
// restart. In-flight executions keep the snapshot they started with.
type Watcher struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current Pipeline

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewWatcher starts watching the config file's directory. initial is the
// pipeline config already loaded at startup.
func NewWatcher(path string, initial Pipeline, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors and config maps replace
	// files atomically via rename.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		logger:  logger,
		watcher: fsw,
		current: initial,
		stopCh:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Pipeline returns the latest pipeline config snapshot
func (w *Watcher) Pipeline() Pipeline {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// GetPipeline satisfies the activities.PipelineConfigProvider contract
func (w *Watcher) GetPipeline(_ context.Context) Pipeline {
	return w.Pipeline()
}

func (w *Watcher) loop() {
	var reloadTimer *time.Timer
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Debounce: editors fire several events per save
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous pipeline config",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.mu.Lock()
	w.current = cfg.Pipeline
	w.mu.Unlock()
	w.logger.Info("Pipeline config reloaded",
		zap.Float64("min_overall", cfg.Pipeline.Thresholds.MinOverall),
		zap.Int("rubric_max_retries", cfg.Pipeline.RubricMaxRetries),
	)
}

// Stop shuts the watcher down
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
}
