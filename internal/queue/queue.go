// Package queue carries bulk completion imports and committed domain events
// over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names
const (
	ImportQueueName       = "courseforge.imports"
	ImportResultQueueName = "courseforge.import_results"
	EventQueueName        = "courseforge.events"
)

// Import statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
	StatusTimeout   = "timeout"
)

// ImportJob asks a worker to mark units of a course complete in bulk.
type ImportJob struct {
	ID        uuid.UUID `json:"id"`
	LearnerID uuid.UUID `json:"learner_id"`
	CourseID  uuid.UUID `json:"course_id"`
	UnitIDs   []string  `json:"unit_ids"`
	Timeout   int       `json:"timeout,omitempty"` // seconds
	CreatedAt time.Time `json:"created_at"`
}

// ImportResult reports what an import job did.
type ImportResult struct {
	JobID          uuid.UUID     `json:"job_id"`
	LearnerID      uuid.UUID     `json:"learner_id"`
	CourseID       uuid.UUID     `json:"course_id"`
	Status         string        `json:"status"`
	NewlyCompleted []string      `json:"newly_completed,omitempty"`
	Skipped        []string      `json:"skipped,omitempty"`
	XP             int           `json:"xp"`
	Level          int           `json:"level"`
	Awarded        int           `json:"xp_awarded"`
	LevelUp        bool          `json:"level_up"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
	CompletedAt    time.Time     `json:"completed_at"`

	// Redelivered is set when the job ran again after a delivery this
	// worker has no result for. Skipped may then include units an earlier
	// attempt completed and awarded.
	Redelivered bool `json:"redelivered,omitempty"`
}

// EventMessage is the wire form of a committed domain event.
type EventMessage struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	LearnerID     *uuid.UUID      `json:"learner_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// Publisher sends JSON messages to a named queue. *Connection implements it.
type Publisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

// Connection manages the RabbitMQ connection with automatic reconnection
type Connection struct {
	url        string
	logger     *slog.Logger
	conn       *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	closed     bool
	reconnects int
}

// NewConnection creates a new RabbitMQ connection
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:    url,
		logger: logger,
	}

	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect establishes connection and channel
func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	c.conn, err = amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declareQueues(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	go c.handleReconnect(c.conn)

	c.logger.Info("connected to RabbitMQ", "url", sanitizeURL(c.url))
	return nil
}

// declareQueues creates the import and event queues
func (c *Connection) declareQueues() error {
	queues := []struct {
		name string
		ttl  int32
	}{
		{ImportQueueName, 300000},       // 5 minutes
		{ImportResultQueueName, 600000}, // 10 minutes
		{EventQueueName, 86400000},      // 1 day
	}
	for _, q := range queues {
		_, err := c.channel.QueueDeclare(
			q.name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			amqp.Table{"x-message-ttl": q.ttl},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// handleReconnect waits for conn to close and reconnects with backoff
func (c *Connection) handleReconnect(conn *amqp.Connection) {
	err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || err == nil {
		return // Normal close
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Warn("RabbitMQ connection closed, attempting to reconnect",
		"error", err,
		"reconnects", c.reconnects,
	)

	for i := 0; i < 10; i++ {
		c.reconnects++
		time.Sleep(reconnectBackoff(i))

		if err := c.connect(); err != nil {
			c.logger.Error("reconnection failed", "error", err, "attempt", i+1)
			continue
		}
		c.logger.Info("reconnected to RabbitMQ", "attempts", i+1)
		return
	}

	c.logger.Error("failed to reconnect to RabbitMQ after 10 attempts")
}

// reconnectBackoff doubles from one second up to 30 seconds.
func reconnectBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return 30 * time.Second
	}
	backoff := time.Duration(1<<attempt) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// Channel returns the current channel (thread-safe)
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes a JSON message to a queue
func (c *Connection) PublishJSON(ctx context.Context, queue string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch := c.Channel()
	return ch.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// sanitizeURL hides the password of an AMQP URL for logging
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if len(raw) > 20 {
			return raw[:20] + "..."
		}
		return raw
	}
	return u.Redacted()
}
