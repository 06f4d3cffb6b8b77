package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/inkpress-ai/inkpress/internal/metrics"
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Client is the telemetry sink. Every write is best-effort from the
// pipeline's point of view: the Redis run store is the source of truth,
// this database only feeds the metrics API and audit queries. Log rows go
// through an async queue so the hot path never waits on Postgres.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger

	logQueue chan LogRecord
	stopCh   chan struct{}
	workerWg sync.WaitGroup
}

const (
	logQueueSize = 1000
	logWorkers   = 4
)

// NewClient creates a database client with a connection pool and starts
// the async log workers
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.IdleConnections)
	db.SetConnMaxLifetime(config.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{
		db:       db,
		logger:   logger,
		logQueue: make(chan LogRecord, logQueueSize),
		stopCh:   make(chan struct{}),
	}
	client.startWorkers()

	logger.Info("Telemetry database client initialized",
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxConnections),
	)
	return client, nil
}

// NewClientWithDB wraps an existing connection (used by tests)
func NewClientWithDB(db *sqlx.DB, logger *zap.Logger) *Client {
	client := &Client{
		db:       db,
		logger:   logger,
		logQueue: make(chan LogRecord, logQueueSize),
		stopCh:   make(chan struct{}),
	}
	client.startWorkers()
	return client
}

func (c *Client) startWorkers() {
	for i := 0; i < logWorkers; i++ {
		c.workerWg.Add(1)
		go c.logWorker()
	}
}

func (c *Client) logWorker() {
	defer c.workerWg.Done()
	for {
		select {
		case <-c.stopCh:
			// Drain what's left before exiting
			for {
				select {
				case rec := <-c.logQueue:
					c.insertLog(context.Background(), rec)
				default:
					return
				}
			}
		case rec := <-c.logQueue:
			c.insertLog(context.Background(), rec)
		}
	}
}

// QueueLog enqueues a run log row; when the queue is full the row is
// written synchronously rather than dropped
func (c *Client) QueueLog(rec LogRecord) {
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}
	select {
	case c.logQueue <- rec:
	default:
		c.logger.Warn("Log queue full, writing synchronously",
			zap.String("run_id", rec.RunID))
		c.insertLog(context.Background(), rec)
	}
}

func (c *Client) insertLog(ctx context.Context, rec LogRecord) {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO run_logs (run_id, level, message, ts) VALUES ($1, $2, $3, $4)`,
		rec.RunID, rec.Level, rec.Message, rec.TS,
	)
	if err != nil {
		metrics.TelemetryWriteFailures.Inc()
		c.logger.Warn("Failed to persist run log", zap.String("run_id", rec.RunID), zap.Error(err))
	}
}

// DB exposes the underlying handle for read queries
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Close drains the log queue and closes the pool
func (c *Client) Close() error {
	close(c.stopCh)
	c.workerWg.Wait()
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	c.logger.Info("Telemetry database client closed")
	return nil
}
