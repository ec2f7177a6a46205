// Package repository keeps an append-only log of committed domain events in
// PostgreSQL. It is fed by the event dispatcher after each mutation commits
// and is never read by the mutation path.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/courseforge/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS domain_events (
    id             UUID PRIMARY KEY,
    event_type     TEXT NOT NULL,
    aggregate_type TEXT NOT NULL,
    aggregate_id   UUID NOT NULL,
    learner_id     UUID,
    payload        JSONB NOT NULL,
    metadata       JSONB,
    occurred_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_domain_events_learner ON domain_events(learner_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_domain_events_type ON domain_events(event_type, occurred_at);
`

// EventRepository appends and lists domain events.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
	source string
}

// Open connects with the lib/pq driver.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping event log: %w", err)
	}
	return db, nil
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db, logger: slog.Default()}
}

// SetLogger sets the logger used by the dispatcher hook.
func (r *EventRepository) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetSource tags every stored event with the process that produced it.
func (r *EventRepository) SetSource(source string) {
	r.source = source
}

// Migrate creates the events table.
func (r *EventRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create domain_events: %w", err)
	}
	return nil
}

// Save persists a domain event
func (r *EventRepository) Save(ctx context.Context, event domain.Event) error {
	rec, err := r.toRecord(event)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO domain_events (id, event_type, aggregate_type, aggregate_id, learner_id, payload, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.EventType, rec.AggregateType, rec.AggregateID, rec.LearnerID, rec.Payload, rec.Metadata, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", rec.ID, err)
	}
	return nil
}

// SaveAll persists multiple domain events in one transaction.
func (r *EventRepository) SaveAll(ctx context.Context, events []domain.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO domain_events (id, event_type, aggregate_type, aggregate_id, learner_id, payload, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		rec, err := r.toRecord(event)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.EventType, rec.AggregateType, rec.AggregateID, rec.LearnerID, rec.Payload, rec.Metadata, rec.OccurredAt); err != nil {
			return fmt.Errorf("insert event %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// PublishAll stores a committed batch. It satisfies the engine's publisher
// contract, so failures are logged rather than returned.
func (r *EventRepository) PublishAll(events []domain.Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.SaveAll(ctx, events); err != nil {
		r.logger.Error("event log append failed",
			"events", len(events),
			"pg_code", pgCode(err),
			"error", err,
		)
	}
}

// pgCode extracts the SQLSTATE from a lib/pq error, or "" for other errors.
func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// ListByLearner retrieves events for a learner, newest first.
func (r *EventRepository) ListByLearner(ctx context.Context, learnerID uuid.UUID, limit, offset int) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, aggregate_type, aggregate_id, payload, occurred_at
		FROM domain_events WHERE learner_id = $1
		ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`, learnerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return scanEvents(rows)
}

// ListByType retrieves events by type, newest first.
func (r *EventRepository) ListByType(ctx context.Context, eventType string, limit, offset int) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, aggregate_type, aggregate_id, payload, occurred_at
		FROM domain_events WHERE event_type = $1
		ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.Type, &e.Aggregate, &e.AggregateUUID, &e.Payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

// eventRecord is one row of domain_events.
type eventRecord struct {
	ID            uuid.UUID
	EventType     string
	AggregateType string
	AggregateID   uuid.UUID
	LearnerID     uuid.NullUUID
	Payload       json.RawMessage
	Metadata      pqtype.NullRawMessage
	OccurredAt    time.Time
}

func (r *EventRepository) toRecord(event domain.Event) (eventRecord, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return eventRecord{}, fmt.Errorf("encode event %s: %w", event.EventType(), err)
	}

	rec := eventRecord{
		ID:            event.EventID(),
		EventType:     event.EventType(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		Payload:       payload,
		OccurredAt:    event.OccurredAt().UTC(),
	}
	if le, ok := event.(domain.LearnerEvent); ok {
		rec.LearnerID = uuid.NullUUID{UUID: le.Learner(), Valid: true}
	}
	if r.source != "" {
		meta, err := json.Marshal(map[string]string{"source": r.source})
		if err != nil {
			return eventRecord{}, err
		}
		rec.Metadata = pqtype.NullRawMessage{RawMessage: meta, Valid: true}
	}
	return rec, nil
}

// StoredEvent is an event loaded back from the log. Its payload is the
// JSON of the original event.
type StoredEvent struct {
	ID            uuid.UUID
	Type          string
	Aggregate     string
	AggregateUUID uuid.UUID
	Payload       json.RawMessage
	Timestamp     time.Time
}

func (e *StoredEvent) EventID() uuid.UUID     { return e.ID }
func (e *StoredEvent) EventType() string      { return e.Type }
func (e *StoredEvent) OccurredAt() time.Time  { return e.Timestamp }
func (e *StoredEvent) AggregateID() uuid.UUID { return e.AggregateUUID }
func (e *StoredEvent) AggregateType() string  { return e.Aggregate }

var _ domain.Event = (*StoredEvent)(nil)
