package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/domain"
)

// Producer publishes import jobs, import results and domain events
type Producer struct {
	pub     Publisher
	logger  *slog.Logger
	timeout time.Duration
}

// NewProducer creates a new queue producer
func NewProducer(pub Publisher, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{pub: pub, logger: logger, timeout: 5 * time.Second}
}

// PublishImportJob publishes a bulk import job
func (p *Producer) PublishImportJob(ctx context.Context, job *ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	if err := p.pub.PublishJSON(ctx, ImportQueueName, job); err != nil {
		return fmt.Errorf("failed to publish import job: %w", err)
	}

	p.logger.Info("published import job",
		"job_id", job.ID,
		"learner_id", job.LearnerID,
		"course_id", job.CourseID,
		"units", len(job.UnitIDs),
	)
	return nil
}

// PublishImportResult publishes the outcome of an import job
func (p *Producer) PublishImportResult(ctx context.Context, result *ImportResult) error {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}

	if err := p.pub.PublishJSON(ctx, ImportResultQueueName, result); err != nil {
		return fmt.Errorf("failed to publish import result: %w", err)
	}

	p.logger.Info("published import result",
		"job_id", result.JobID,
		"status", result.Status,
		"duration", result.Duration,
	)
	return nil
}

// PublishAll forwards committed domain events. Delivery is best effort;
// the mutation is already durable, so failures are only logged.
func (p *Producer) PublishAll(events []domain.Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	for _, e := range events {
		msg, err := NewEventMessage(e)
		if err != nil {
			p.logger.Error("failed to encode event", "event_type", e.EventType(), "error", err)
			continue
		}
		if err := p.pub.PublishJSON(ctx, EventQueueName, msg); err != nil {
			p.logger.Error("failed to publish event",
				"event_id", msg.ID,
				"event_type", msg.Type,
				"error", err,
			)
		}
	}
}

// NewEventMessage converts a domain event to its wire form.
func NewEventMessage(e domain.Event) (*EventMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	msg := &EventMessage{
		ID:            e.EventID(),
		Type:          e.EventType(),
		AggregateType: e.AggregateType(),
		AggregateID:   e.AggregateID(),
		OccurredAt:    e.OccurredAt().UTC(),
		Payload:       payload,
	}
	if le, ok := e.(domain.LearnerEvent); ok {
		id := le.Learner()
		msg.LearnerID = &id
	}
	return msg, nil
}

// NewImportJob creates an import job for the given units
func NewImportJob(learnerID, courseID uuid.UUID, unitIDs []string) *ImportJob {
	return &ImportJob{
		ID:        uuid.New(),
		LearnerID: learnerID,
		CourseID:  courseID,
		UnitIDs:   unitIDs,
		CreatedAt: time.Now().UTC(),
	}
}
