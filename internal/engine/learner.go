package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/folder"
	"github.com/felixgeelhaar/courseforge/internal/progress"
)

// CourseSummary is a course as listed in the learner state.
type CourseSummary struct {
	ID         uuid.UUID         `json:"id"`
	Title      string            `json:"title"`
	Topic      string            `json:"topic"`
	Difficulty domain.Difficulty `json:"difficulty"`
	FolderID   *uuid.UUID        `json:"folder_id"`
	Units      int               `json:"units"`
	Progress   []progress.Entry  `json:"progress"`
}

// ProjectSummary is a project as listed in the learner state.
type ProjectSummary struct {
	ID       uuid.UUID        `json:"id"`
	Title    string           `json:"title"`
	Steps    int              `json:"steps"`
	Progress []progress.Entry `json:"progress"`
}

// LearnerState is the full server-side view a client reconciles against.
type LearnerState struct {
	Learner    *domain.Learner  `json:"learner"`
	RequiredXP int              `json:"required_xp"`
	TotalXP    int              `json:"total_xp"`
	Folders    []domain.Folder  `json:"folders"`
	Courses    []CourseSummary  `json:"courses"`
	Projects   []ProjectSummary `json:"projects"`
}

// ConsistencyReport lists the invariant violations found for one learner.
type ConsistencyReport struct {
	LearnerID      uuid.UUID   `json:"learner_id"`
	Violations     []string    `json:"violations"`
	MissingCourses []uuid.UUID `json:"missing_courses"`
	FolderRemovals int         `json:"folder_removals"`
	Repaired       bool        `json:"repaired"`
}

// OK reports whether no violation was found.
func (r *ConsistencyReport) OK() bool {
	return len(r.Violations) == 0
}

// EnsureLearner returns the learner, creating it at level 1 on first sign-in.
func (s *Service) EnsureLearner(ctx context.Context, learnerID uuid.UUID, name string) (*domain.Learner, bool, error) {
	var (
		learner *domain.Learner
		created bool
	)

	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, _ *domain.AggregateRoot) error {
		l, err := uow.Learners().Get(ctx, learnerID)
		if err == nil {
			learner = l
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		learner = domain.NewLearner(learnerID, name, s.now())
		created = true
		return uow.Learners().Save(ctx, learner)
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("learner created", "learner_id", learnerID)
	}
	return learner, created, nil
}

// GetLearnerState loads the learner with folders, courses and projects.
// Documents referenced by the learner but missing from the store are left
// out; CheckConsistency reports them.
func (s *Service) GetLearnerState(ctx context.Context, learnerID uuid.UUID) (*LearnerState, error) {
	var state *LearnerState

	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, _ *domain.AggregateRoot) error {
		learner, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}
		folders, err := uow.Folders().ListByLearner(ctx, learnerID)
		if err != nil {
			return err
		}

		state = &LearnerState{
			Learner:    learner,
			RequiredXP: s.calc.RequiredXP(learner.Level),
			TotalXP:    s.calc.TotalXP(learner.XP, learner.Level),
			Folders:    folders,
			Courses:    make([]CourseSummary, 0, len(learner.CourseIDs)),
			Projects:   make([]ProjectSummary, 0, len(learner.ProjectIDs)),
		}
		for _, id := range learner.CourseIDs {
			c, err := uow.Courses().Get(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			state.Courses = append(state.Courses, CourseSummary{
				ID:         c.ID,
				Title:      c.Title,
				Topic:      c.Topic,
				Difficulty: c.Difficulty,
				FolderID:   folder.FolderOf(folders, c.ID),
				Units:      len(c.UnitIDs()),
				Progress:   progress.Serialize(c.Progress),
			})
		}
		for _, id := range learner.ProjectIDs {
			p, err := uow.Projects().Get(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			state.Projects = append(state.Projects, ProjectSummary{
				ID:       p.ID,
				Title:    p.Title,
				Steps:    len(p.Steps),
				Progress: progress.Serialize(p.Progress),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// ResetLearner clears xp, level and every progress map the learner owns.
// Courses, projects and folders are kept.
func (s *Service) ResetLearner(ctx context.Context, learnerID uuid.UUID) (*domain.Learner, error) {
	var learner *domain.Learner

	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, rec *domain.AggregateRoot) error {
		l, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}
		now := s.now()

		for _, id := range l.CourseIDs {
			c, err := uow.Courses().Get(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("reset skipped missing course", "learner_id", learnerID, "course_id", id)
				continue
			}
			if err != nil {
				return err
			}
			c.Progress = progress.New()
			c.UpdatedAt = now
			if err := uow.Courses().Save(ctx, c); err != nil {
				return err
			}
		}
		for _, id := range l.ProjectIDs {
			p, err := uow.Projects().Get(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("reset skipped missing project", "learner_id", learnerID, "project_id", id)
				continue
			}
			if err != nil {
				return err
			}
			p.Progress = progress.New()
			p.UpdatedAt = now
			if err := uow.Projects().Save(ctx, p); err != nil {
				return err
			}
		}

		rec.RecordEvent(domain.NewLearnerResetEvent(learnerID, l.XP, l.Level))
		l.XP = 0
		l.Level = 1
		l.UpdatedAt = now
		if err := uow.Learners().Save(ctx, l); err != nil {
			return err
		}
		learner = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("learner reset", "learner_id", learnerID)
	return learner, nil
}

// CheckConsistency verifies the learner's xp normalization, folder
// membership and course references. With repair set, violations are fixed
// in the same unit of work.
func (s *Service) CheckConsistency(ctx context.Context, learnerID uuid.UUID, repair bool) (*ConsistencyReport, error) {
	report := &ConsistencyReport{LearnerID: learnerID, Violations: []string{}, MissingCourses: []uuid.UUID{}}

	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, _ *domain.AggregateRoot) error {
		learner, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}
		folders, err := uow.Folders().ListByLearner(ctx, learnerID)
		if err != nil {
			return err
		}

		var violations []error
		if !s.calc.Consistent(learner.XP, learner.Level) {
			violations = append(violations, &domain.InvariantError{
				Invariant: domain.InvariantXPNormalized,
				Detail:    fmt.Sprintf("xp %d at level %d, threshold %d", learner.XP, learner.Level, s.calc.RequiredXP(learner.Level)),
			})
		}

		for _, id := range learner.CourseIDs {
			c, err := uow.Courses().Get(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				report.MissingCourses = append(report.MissingCourses, id)
				violations = append(violations, &domain.InvariantError{
					Invariant: domain.InvariantCascade,
					Detail:    fmt.Sprintf("learner references missing course %s", id),
				})
				continue
			}
			if err != nil {
				return err
			}
			if c.OwnerID != learnerID {
				violations = append(violations, &domain.InvariantError{
					Invariant: domain.InvariantCascade,
					Detail:    fmt.Sprintf("learner references course %s owned by %s", id, c.OwnerID),
				})
				report.MissingCourses = append(report.MissingCourses, id)
			}
		}

		violations = append(violations, folder.Validate(folders, learner.CourseIDs)...)

		for _, v := range violations {
			report.Violations = append(report.Violations, v.Error())
			s.logger.Error("invariant violation", "learner_id", learnerID, "error", v)
		}

		// Folder repair is pure, so a dry run reports the same removals.
		now := s.now()
		kept := slices.DeleteFunc(slices.Clone(learner.CourseIDs), func(id uuid.UUID) bool {
			return slices.Contains(report.MissingCourses, id)
		})
		repaired, removals := folder.Repair(folders, kept, now)
		report.FolderRemovals = removals

		if !repair || len(violations) == 0 {
			return nil
		}

		for _, id := range report.MissingCourses {
			learner.RemoveCourse(id)
		}
		learner.XP, learner.Level = s.calc.Normalize(learner.XP, learner.Level)
		learner.UpdatedAt = now

		if err := uow.Folders().ReplaceAll(ctx, learnerID, repaired); err != nil {
			return err
		}
		if err := uow.Learners().Save(ctx, learner); err != nil {
			return err
		}
		report.Repaired = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if report.Repaired {
		s.logger.Warn("learner repaired",
			"learner_id", learnerID,
			"violations", len(report.Violations),
			"folder_removals", report.FolderRemovals)
	}
	return report, nil
}
