package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Event Interface and Base Event
// -----------------------------------------------------------------------------

// Event represents a domain event
type Event interface {
	// EventID returns the unique identifier for this event
	EventID() uuid.UUID
	// EventType returns the type name of this event
	EventType() string
	// OccurredAt returns when this event occurred
	OccurredAt() time.Time
	// AggregateID returns the ID of the aggregate that produced this event
	AggregateID() uuid.UUID
	// AggregateType returns the type of aggregate that produced this event
	AggregateType() string
}

// BaseEvent provides common event fields
type BaseEvent struct {
	ID            uuid.UUID `json:"id"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateUUID uuid.UUID `json:"aggregate_id"`
	AggregateName string    `json:"aggregate_type"`
}

// NewBaseEvent creates a new BaseEvent
func NewBaseEvent(eventType, aggregateType string, aggregateID uuid.UUID) BaseEvent {
	return BaseEvent{
		ID:            uuid.New(),
		Type:          eventType,
		Timestamp:     time.Now(),
		AggregateUUID: aggregateID,
		AggregateName: aggregateType,
	}
}

func (e BaseEvent) EventID() uuid.UUID     { return e.ID }
func (e BaseEvent) EventType() string      { return e.Type }
func (e BaseEvent) OccurredAt() time.Time  { return e.Timestamp }
func (e BaseEvent) AggregateID() uuid.UUID { return e.AggregateUUID }
func (e BaseEvent) AggregateType() string  { return e.AggregateName }

// -----------------------------------------------------------------------------
// Event Handler and Dispatcher
// -----------------------------------------------------------------------------

// EventHandler processes domain events
type EventHandler func(event Event)

// EventDispatcher manages event subscriptions and publishing
type EventDispatcher struct {
	mu          sync.RWMutex
	handlers    map[string][]EventHandler
	allHandlers []EventHandler // handlers for all events
}

// NewEventDispatcher creates a new event dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type
func (d *EventDispatcher) Subscribe(eventType string, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (d *EventDispatcher) SubscribeAll(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allHandlers = append(d.allHandlers, handler)
}

// Publish dispatches an event to all registered handlers
func (d *EventDispatcher) Publish(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// Call type-specific handlers
	if handlers, ok := d.handlers[event.EventType()]; ok {
		for _, h := range handlers {
			h(event)
		}
	}

	// Call all-event handlers
	for _, h := range d.allHandlers {
		h(event)
	}
}

// PublishAll dispatches multiple events
func (d *EventDispatcher) PublishAll(events []Event) {
	for _, event := range events {
		d.Publish(event)
	}
}

// -----------------------------------------------------------------------------
// Aggregate Root with Event Support
// -----------------------------------------------------------------------------

// AggregateRoot collects the events a unit of work records. They are
// published only after the unit commits.
type AggregateRoot struct {
	events []Event
}

// RecordEvent adds an event to the aggregate's recorded events
func (a *AggregateRoot) RecordEvent(event Event) {
	a.events = append(a.events, event)
}

// RecordedEvents returns all recorded events
func (a *AggregateRoot) RecordedEvents() []Event {
	return a.events
}

// -----------------------------------------------------------------------------
// Event types
// -----------------------------------------------------------------------------

const (
	EventUnitCompleted   = "progress.unit_completed"
	EventUnitUncompleted = "progress.unit_uncompleted"
	EventXPAwarded       = "learner.xp_awarded"
	EventLevelUp         = "learner.level_up"
	EventLearnerReset    = "learner.reset"
	EventCourseAdded     = "course.added"
	EventCourseDeleted   = "course.deleted"
	EventCourseMoved     = "course.moved"
	EventProjectAdded    = "project.added"
	EventProjectDeleted  = "project.deleted"
	EventFolderCreated   = "folder.created"
	EventFolderRenamed   = "folder.renamed"
	EventFolderDeleted   = "folder.deleted"
)

// Aggregate type names.
const (
	AggregateLearner = "Learner"
	AggregateCourse  = "Course"
	AggregateProject = "Project"
	AggregateFolder  = "Folder"
)

// LearnerEvent is implemented by every event raised on behalf of a learner.
type LearnerEvent interface {
	Event
	Learner() uuid.UUID
}

// LearnerRef carries the acting learner on an event.
type LearnerRef struct {
	LearnerID uuid.UUID `json:"learner_id"`
}

// Learner returns the acting learner id.
func (r LearnerRef) Learner() uuid.UUID { return r.LearnerID }

// -----------------------------------------------------------------------------
// Progress Events
// -----------------------------------------------------------------------------

// UnitProgressEvent is published when a lesson or step changes state
type UnitProgressEvent struct {
	BaseEvent
	LearnerRef
	UnitID string `json:"unit_id"`
}

// NewUnitCompletedEvent creates a unit completed event. aggregateType is
// AggregateCourse or AggregateProject.
func NewUnitCompletedEvent(aggregateType string, scopeID, learnerID uuid.UUID, unitID string) UnitProgressEvent {
	return UnitProgressEvent{
		BaseEvent:  NewBaseEvent(EventUnitCompleted, aggregateType, scopeID),
		LearnerRef: LearnerRef{LearnerID: learnerID},
		UnitID:     unitID,
	}
}

// NewUnitUncompletedEvent creates a unit uncompleted event
func NewUnitUncompletedEvent(aggregateType string, scopeID, learnerID uuid.UUID, unitID string) UnitProgressEvent {
	return UnitProgressEvent{
		BaseEvent:  NewBaseEvent(EventUnitUncompleted, aggregateType, scopeID),
		LearnerRef: LearnerRef{LearnerID: learnerID},
		UnitID:     unitID,
	}
}

// -----------------------------------------------------------------------------
// Learner Events
// -----------------------------------------------------------------------------

// XPAwardedEvent is published when XP is granted
type XPAwardedEvent struct {
	BaseEvent
	LearnerRef
	Amount int `json:"amount"`
	XP     int `json:"xp"`
	Level  int `json:"level"`
}

// NewXPAwardedEvent creates a new XP awarded event
func NewXPAwardedEvent(learnerID uuid.UUID, amount, xp, level int) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent:  NewBaseEvent(EventXPAwarded, AggregateLearner, learnerID),
		LearnerRef: LearnerRef{LearnerID: learnerID},
		Amount:     amount,
		XP:         xp,
		Level:      level,
	}
}

// LevelUpEvent is published when an award crosses one or more thresholds
type LevelUpEvent struct {
	BaseEvent
	LearnerRef
	FromLevel int `json:"from_level"`
	ToLevel   int `json:"to_level"`
}

// NewLevelUpEvent creates a new level up event
func NewLevelUpEvent(learnerID uuid.UUID, from, to int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:  NewBaseEvent(EventLevelUp, AggregateLearner, learnerID),
		LearnerRef: LearnerRef{LearnerID: learnerID},
		FromLevel:  from,
		ToLevel:    to,
	}
}

// LearnerResetEvent is published after an explicit reset
type LearnerResetEvent struct {
	BaseEvent
	LearnerRef
	PreviousXP    int `json:"previous_xp"`
	PreviousLevel int `json:"previous_level"`
}

// NewLearnerResetEvent creates a new learner reset event
func NewLearnerResetEvent(learnerID uuid.UUID, prevXP, prevLevel int) LearnerResetEvent {
	return LearnerResetEvent{
		BaseEvent:     NewBaseEvent(EventLearnerReset, AggregateLearner, learnerID),
		LearnerRef:    LearnerRef{LearnerID: learnerID},
		PreviousXP:    prevXP,
		PreviousLevel: prevLevel,
	}
}

// -----------------------------------------------------------------------------
// Course and Project Events
// -----------------------------------------------------------------------------

// DocumentEvent is published when a course or project is added or deleted
type DocumentEvent struct {
	BaseEvent
	LearnerRef
	Title string `json:"title,omitempty"`
}

// NewDocumentEvent creates a course or project lifecycle event
func NewDocumentEvent(eventType, aggregateType string, id, learnerID uuid.UUID, title string) DocumentEvent {
	return DocumentEvent{
		BaseEvent:  NewBaseEvent(eventType, aggregateType, id),
		LearnerRef: LearnerRef{LearnerID: learnerID},
		Title:      title,
	}
}

// CourseMovedEvent is published when a course changes folder
type CourseMovedEvent struct {
	BaseEvent
	LearnerRef
	FolderID *uuid.UUID `json:"folder_id"`
}

// NewCourseMovedEvent creates a new course moved event. A nil folder means
// the course was taken out of every folder.
func NewCourseMovedEvent(courseID, learnerID uuid.UUID, folderID *uuid.UUID) CourseMovedEvent {
	return CourseMovedEvent{
		BaseEvent:  NewBaseEvent(EventCourseMoved, AggregateCourse, courseID),
		LearnerRef: LearnerRef{LearnerID: learnerID},
		FolderID:   folderID,
	}
}

// -----------------------------------------------------------------------------
// Folder Events
// -----------------------------------------------------------------------------

// FolderEvent is published when a folder is created, renamed or deleted
type FolderEvent struct {
	BaseEvent
	LearnerRef
	Name string `json:"name"`
}

// NewFolderEvent creates a folder lifecycle event
func NewFolderEvent(eventType string, folderID, learnerID uuid.UUID, name string) FolderEvent {
	return FolderEvent{
		BaseEvent:  NewBaseEvent(eventType, AggregateFolder, folderID),
		LearnerRef: LearnerRef{LearnerID: learnerID},
		Name:       name,
	}
}
