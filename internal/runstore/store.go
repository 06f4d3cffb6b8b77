package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/inkpress-ai/inkpress/internal/metrics"
	"github.com/inkpress-ai/inkpress/internal/run"
)

// Store persists one JSON document per run in Redis, with the audit log
// mirrored to a per-run Redis Stream. Mutations are read-modify-write; the
// orchestrator guarantees a single active execution per run, and the
// per-run lock below serializes in-process callers on top of that.
type Store struct {
	client *redis.Client
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore connects to Redis and verifies the connection
func NewStore(addr, password string, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStoreWithClient(client, logger), nil
}

// NewStoreWithClient wraps an existing Redis client (used by tests)
func NewStoreWithClient(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func runKey(runID string) string    { return "run:" + runID }
func streamKey(runID string) string { return "run:" + runID + ":log" }

func (s *Store) lock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[runID] = l
	}
	return l
}

// Create initialises a new run record in PENDING
func (s *Store) Create(ctx context.Context, runID string, inputs run.Inputs) (*run.Run, error) {
	now := time.Now().UTC()
	r := &run.Run{
		ID:     runID,
		Inputs: inputs,
		Status: run.StatusPending,
		Steps: run.Steps{
			Drafts:     []run.Draft{},
			FactChecks: []run.FactCheck{},
		},
		Citations: []run.Citation{},
		Feedback:  []run.FeedbackEntry{},
		Logs:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.save(ctx, r); err != nil {
		return nil, err
	}
	if err := s.AppendLog(ctx, runID, "Run initialised"); err != nil {
		return nil, err
	}
	s.logger.Info("Created run",
		zap.String("run_id", runID),
		zap.String("model", inputs.ModelName),
	)
	return s.Load(ctx, runID)
}

// Load fetches the run document
func (s *Store) Load(ctx context.Context, runID string) (*run.Run, error) {
	data, err := s.client.Get(ctx, runKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("run %s: %w", runID, run.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	var r run.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &r, nil
}

func (s *Store) save(ctx context.Context, r *run.Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", r.ID, err)
	}
	if err := s.client.Set(ctx, runKey(r.ID), data, 0).Err(); err != nil {
		metrics.StoreOperations.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("failed to save run %s: %w", r.ID, err)
	}
	metrics.StoreOperations.WithLabelValues("save", "ok").Inc()
	return nil
}

// Update applies a read-modify-write mutation under the run's lock
func (s *Store) Update(ctx context.Context, runID string, mutate func(*run.Run) error) error {
	l := s.lock(runID)
	l.Lock()
	defer l.Unlock()

	r, err := s.Load(ctx, runID)
	if err != nil {
		return err
	}
	if err := mutate(r); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	return s.save(ctx, r)
}

// AppendToSequence appends an item to one of the run's append-only
// sequences. It fails loudly when the key does not name a sequence or the
// item has the wrong type, so a prior schema write can't silently corrupt
// history.
func (s *Store) AppendToSequence(ctx context.Context, runID, key string, item interface{}) error {
	return s.Update(ctx, runID, func(r *run.Run) error {
		switch key {
		case "drafts":
			d, ok := item.(run.Draft)
			if !ok {
				return fmt.Errorf("append to %q with %T: %w", key, item, run.ErrNotSequence)
			}
			r.Steps.Drafts = append(r.Steps.Drafts, d)
		case "fact_checks":
			fc, ok := item.(run.FactCheck)
			if !ok {
				return fmt.Errorf("append to %q with %T: %w", key, item, run.ErrNotSequence)
			}
			r.Steps.FactChecks = append(r.Steps.FactChecks, fc)
		case "feedback":
			fb, ok := item.(run.FeedbackEntry)
			if !ok {
				return fmt.Errorf("append to %q with %T: %w", key, item, run.ErrNotSequence)
			}
			r.Feedback = append(r.Feedback, fb)
		case "logs":
			line, ok := item.(string)
			if !ok {
				return fmt.Errorf("append to %q with %T: %w", key, item, run.ErrNotSequence)
			}
			r.Logs = append(r.Logs, line)
		default:
			return fmt.Errorf("key %q: %w", key, run.ErrNotSequence)
		}
		return nil
	})
}

// SetStatus updates the run status; an error message is stored only when
// provided (fatal failures)
func (s *Store) SetStatus(ctx context.Context, runID string, status run.Status, errMsg string) error {
	return s.Update(ctx, runID, func(r *run.Run) error {
		r.Status = status
		if errMsg != "" {
			r.Error = errMsg
		}
		return nil
	})
}

// SetResearch stores the research output and replaces the citation list
// wholesale, keeping citations derivable from the latest research
func (s *Store) SetResearch(ctx context.Context, runID string, research run.Research) error {
	return s.Update(ctx, runID, func(r *run.Run) error {
		r.Steps.Research = &research
		r.Citations = run.CitationsFromSources(research.Sources)
		return nil
	})
}

// SetFinal stores the polished markdown
func (s *Store) SetFinal(ctx context.Context, runID, markdown string) error {
	return s.Update(ctx, runID, func(r *run.Run) error {
		r.Steps.Final = &run.Final{Markdown: markdown}
		return nil
	})
}

// SetRubric stores the latest rubric result and quality-gate snapshot
func (s *Store) SetRubric(ctx context.Context, runID string, rubric run.Rubric, gate run.QualityGate) error {
	return s.Update(ctx, runID, func(r *run.Run) error {
		r.Steps.Rubric = &rubric
		r.QualityGate = &gate
		return nil
	})
}

// AppendFeedback records a user feedback submission
func (s *Store) AppendFeedback(ctx context.Context, runID string, stage run.Stage, feedback string) error {
	entry := run.FeedbackEntry{
		Stage:     stage,
		Feedback:  feedback,
		Timestamp: time.Now().UTC(),
	}
	if err := s.AppendToSequence(ctx, runID, "feedback", entry); err != nil {
		return err
	}
	return s.AppendLog(ctx, runID, fmt.Sprintf("User feedback added for stage: %s", stage))
}

// AppendLog appends a timestamped line to the run's in-record log and
// mirrors the same line to the run's log stream. The in-record log is
// authoritative; the stream exists for tailing and may fall behind it
// when a connection drops between the two writes.
func (s *Store) AppendLog(ctx context.Context, runID, message string) error {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), message)
	if err := s.AppendToSequence(ctx, runID, "logs", line); err != nil {
		return err
	}
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(runID),
		Values: map[string]interface{}{"message": line},
	}).Err()
	if err != nil {
		metrics.StoreOperations.WithLabelValues("log_stream", "error").Inc()
		return fmt.Errorf("failed to append to log stream for run %s: %w", runID, err)
	}
	metrics.StoreOperations.WithLabelValues("log_stream", "ok").Inc()
	return nil
}
