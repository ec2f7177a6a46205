// Package engine applies learner mutations: progress toggles, XP awards,
// folder moves and deletes. Every operation runs inside one learner-scoped
// unit of work, so the progress map and the learner's xp and level commit
// together or not at all.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/lock"
	"github.com/felixgeelhaar/courseforge/internal/xp"
)

// EventPublisher receives domain events after a successful commit.
// *domain.EventDispatcher satisfies it.
type EventPublisher interface {
	PublishAll(events []domain.Event)
}

// Service is the mutation engine.
type Service struct {
	uow       domain.UnitOfWorkFactory
	calc      xp.Calculator
	locker    lock.Locker    // Optional: cross-instance learner lock
	publisher EventPublisher // Optional: post-commit events
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new mutation engine
func NewService(uow domain.UnitOfWorkFactory, calc xp.Calculator) *Service {
	return &Service{
		uow:    uow,
		calc:   calc,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLocker sets a lock taken before each unit of work
func (s *Service) SetLocker(l lock.Locker) {
	s.locker = l
}

// SetPublisher sets the post-commit event publisher
func (s *Service) SetPublisher(p EventPublisher) {
	s.publisher = p
}

// SetLogger sets the logger
func (s *Service) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Calculator returns the XP calculator in use.
func (s *Service) Calculator() xp.Calculator {
	return s.calc
}

// commitError marks a failure at Commit, after every write was staged.
type commitError struct {
	err error
}

func (e *commitError) Error() string { return e.err.Error() }
func (e *commitError) Unwrap() error { return e.err }

// mutation is the body of one unit of work. Events recorded on rec are
// published only after Commit succeeds.
type mutation func(ctx context.Context, uow domain.UnitOfWork, rec *domain.AggregateRoot) error

// run executes fn inside a unit of work for learnerID.
func (s *Service) run(ctx context.Context, learnerID uuid.UUID, fn mutation) error {
	if learnerID == uuid.Nil {
		return fmt.Errorf("%w: learner id is required", domain.ErrInvalidInput)
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "learner:"+learnerID.String())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.Transient("lock learner", err)
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				s.logger.Warn("learner lock release failed", "learner_id", learnerID, "error", err)
			}
		}()
	}

	uow, err := s.uow.Begin(ctx, learnerID)
	if err != nil {
		return storeErr("begin", err)
	}
	defer uow.Rollback()

	var rec domain.AggregateRoot
	if err := fn(ctx, uow, &rec); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return &commitError{err: storeErr("commit", err)}
	}

	s.publish(rec.RecordedEvents())
	return nil
}

// publish delivers events best-effort. A panicking subscriber cannot undo a
// committed mutation.
func (s *Service) publish(events []domain.Event) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event subscriber panicked", "panic", r)
		}
	}()
	s.publisher.PublishAll(events)
}

// storeErr keeps domain and context errors as they are and marks anything
// else as transient.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, domain.ErrTransientStore),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnauthorized):
		return err
	default:
		return domain.Transient(op, err)
	}
}

// ownedCourse loads the course and checks that learnerID owns it. The lookup
// itself is not scoped to the learner, so the ownership check is mandatory.
func (s *Service) ownedCourse(ctx context.Context, uow domain.UnitOfWork, learnerID, courseID uuid.UUID) (*domain.Course, error) {
	c, err := uow.Courses().Get(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != learnerID {
		s.logger.Warn("course access denied",
			"learner_id", learnerID,
			"course_id", courseID,
			"owner_id", c.OwnerID)
		return nil, domain.NotOwned(domain.ResourceCourse, courseID)
	}
	return c, nil
}

func (s *Service) ownedProject(ctx context.Context, uow domain.UnitOfWork, learnerID, projectID uuid.UUID) (*domain.Project, error) {
	p, err := uow.Projects().Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != learnerID {
		s.logger.Warn("project access denied",
			"learner_id", learnerID,
			"project_id", projectID,
			"owner_id", p.OwnerID)
		return nil, domain.NotOwned(domain.ResourceProject, projectID)
	}
	return p, nil
}

// award applies delta to the learner and records the XP and level events.
func (s *Service) award(l *domain.Learner, delta int, rec *domain.AggregateRoot) {
	if delta <= 0 {
		return
	}
	from := l.Level
	l.XP, l.Level = s.calc.AwardAndNormalize(l.XP, l.Level, delta)
	rec.RecordEvent(domain.NewXPAwardedEvent(l.ID, delta, l.XP, l.Level))
	if l.Level > from {
		rec.RecordEvent(domain.NewLevelUpEvent(l.ID, from, l.Level))
	}
}
