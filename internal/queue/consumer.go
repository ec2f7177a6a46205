package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/engine"
)

// JobHandler processes import jobs
type JobHandler func(ctx context.Context, job *ImportJob) (*ImportResult, error)

// Importer is the part of the engine an import worker needs.
type Importer interface {
	ImportCompletions(ctx context.Context, learnerID, courseID uuid.UUID, unitIDs []string) (*engine.ImportResult, error)
}

// NewImportHandler returns a JobHandler that runs the import through the
// engine, retrying transient store failures and revision conflicts.
func NewImportHandler(importer Importer, retry engine.RetryConfig) JobHandler {
	return func(ctx context.Context, job *ImportJob) (*ImportResult, error) {
		res, err := engine.Retry(ctx, retry, func(ctx context.Context) (*engine.ImportResult, error) {
			return importer.ImportCompletions(ctx, job.LearnerID, job.CourseID, job.UnitIDs)
		})
		if err != nil {
			return nil, err
		}
		return &ImportResult{
			Status:         StatusCompleted,
			NewlyCompleted: res.NewlyCompleted,
			Skipped:        res.Skipped,
			XP:             res.XP,
			Level:          res.Level,
			Awarded:        res.Awarded,
			LevelUp:        res.LevelUp,
		}, nil
	}
}

// Consumer consumes import jobs from the queue
type Consumer struct {
	conn       *Connection
	handler    JobHandler
	outcomes   *resultCache
	producer   *Producer
	logger     *slog.Logger
	workers    int
	prefetch   int
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers  int // Number of concurrent workers
	Prefetch int // Prefetch count per worker
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:  3,
		Prefetch: 1,
	}
}

func (cfg ConsumerConfig) withDefaults() ConsumerConfig {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return cfg
}

// NewConsumer creates a new queue consumer
func NewConsumer(conn *Connection, handler JobHandler, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		handler:  handler,
		outcomes: newResultCache(0),
		producer: NewProducer(conn, logger),
		logger:   logger,
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		ImportQueueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual ack for reliability)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("starting import queue consumer", "workers", c.workers, "prefetch", c.prefetch)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgs)
	}

	return nil
}

// worker processes messages from the queue
func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("worker stopping", "worker_id", id)
			return

		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("message channel closed", "worker_id", id)
				return
			}
			c.processMessage(ctx, id, msg)
		}
	}
}

// processMessage handles a single delivery
func (c *Consumer) processMessage(ctx context.Context, workerID int, msg amqp.Delivery) {
	var job ImportJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		c.logger.Error("failed to unmarshal job",
			"worker_id", workerID,
			"error", err,
		)
		// Reject without requeue for malformed messages
		_ = msg.Reject(false)
		return
	}

	result := c.outcome(ctx, workerID, &job, msg.Redelivered)

	if err := c.producer.PublishImportResult(ctx, result); err != nil {
		c.logger.Error("failed to publish result",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
		// The completed outcome is kept, so the redelivery republishes it.
		_ = msg.Nack(false, true)
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("failed to ack message",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
	}
}

// outcome returns the result to publish for a delivery. A job this worker
// already completed gets its first result again rather than a second run,
// which would report every unit as skipped.
func (c *Consumer) outcome(ctx context.Context, workerID int, job *ImportJob, redelivered bool) *ImportResult {
	if redelivered {
		if prev, ok := c.outcomes.get(job.ID); ok {
			c.logger.Info("republishing import result",
				"worker_id", workerID,
				"job_id", job.ID,
			)
			return prev
		}
	}

	result := c.handle(ctx, workerID, job)
	result.Redelivered = redelivered
	if result.Status == StatusCompleted {
		c.outcomes.put(result)
	}
	return result
}

// handle runs one job and always returns a result to publish.
func (c *Consumer) handle(ctx context.Context, workerID int, job *ImportJob) *ImportResult {
	start := time.Now()

	c.logger.Info("processing import job",
		"worker_id", workerID,
		"job_id", job.ID,
		"learner_id", job.LearnerID,
		"course_id", job.CourseID,
	)

	timeout := time.Duration(job.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.handler(jobCtx, job)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("import job failed",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
			"duration", duration,
		)
		result = &ImportResult{Status: failureStatus(jobCtx, err), Error: err.Error()}
	} else {
		if result.Status == "" {
			result.Status = StatusCompleted
		}
		c.logger.Info("import job completed",
			"worker_id", workerID,
			"job_id", job.ID,
			"newly_completed", len(result.NewlyCompleted),
			"skipped", len(result.Skipped),
			"duration", duration,
		)
	}

	result.JobID = job.ID
	result.LearnerID = job.LearnerID
	result.CourseID = job.CourseID
	result.Duration = duration
	result.CompletedAt = time.Now().UTC()
	return result
}

// failureStatus separates jobs that can never succeed from ones that ran
// out of time or retries.
func failureStatus(jobCtx context.Context, err error) string {
	switch {
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidInput):
		return StatusRejected
	default:
		return StatusFailed
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	c.logger.Info("consumer stopped")
}

// ResultConsumer consumes import results and keeps the most recent ones
// so callers can poll a job by id.
type ResultConsumer struct {
	conn       *Connection
	logger     *slog.Logger
	results    *resultCache
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewResultConsumer creates a result consumer that remembers up to
// capacity results.
func NewResultConsumer(conn *Connection, capacity int, logger *slog.Logger) *ResultConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultConsumer{
		conn:    conn,
		logger:  logger,
		results: newResultCache(capacity),
	}
}

// Result returns the stored result of a job.
func (rc *ResultConsumer) Result(jobID uuid.UUID) (*ImportResult, bool) {
	return rc.results.get(jobID)
}

// Start begins consuming results
func (rc *ResultConsumer) Start(ctx context.Context) error {
	ctx, rc.cancelFunc = context.WithCancel(ctx)

	ch := rc.conn.Channel()

	msgs, err := ch.Consume(
		ImportResultQueueName,
		"",    // consumer tag
		true,  // auto-ack (results are fire-and-forget)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start result consumer: %w", err)
	}

	rc.wg.Add(1)
	go rc.consume(ctx, msgs)

	return nil
}

func (rc *ResultConsumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer rc.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			rc.deliver(msg.Body)
		}
	}
}

func (rc *ResultConsumer) deliver(body []byte) {
	var result ImportResult
	if err := json.Unmarshal(body, &result); err != nil {
		rc.logger.Error("failed to unmarshal result", "error", err)
		return
	}
	rc.results.put(&result)
}

// Stop stops the result consumer
func (rc *ResultConsumer) Stop() {
	if rc.cancelFunc != nil {
		rc.cancelFunc()
	}
	rc.wg.Wait()
}

// resultCache is a FIFO-bounded map of job results.
type resultCache struct {
	mu       sync.Mutex
	capacity int
	order    []uuid.UUID
	byJob    map[uuid.UUID]*ImportResult
}

func newResultCache(capacity int) *resultCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &resultCache{capacity: capacity, byJob: make(map[uuid.UUID]*ImportResult)}
}

// put stores r. A redelivered result never replaces a completed one: its
// Skipped list hides the award the first attempt made.
func (c *resultCache) put(r *ImportResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.byJob[r.JobID]
	if !ok {
		c.order = append(c.order, r.JobID)
	} else if r.Redelivered && prev.Status == StatusCompleted {
		return
	}
	c.byJob[r.JobID] = r
	for len(c.order) > c.capacity {
		delete(c.byJob, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *resultCache) get(id uuid.UUID) (*ImportResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.byJob[id]
	return r, ok
}
