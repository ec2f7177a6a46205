package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/progress"
)

// ToggleResult is everything a client needs to reconcile its local state
// after a lesson toggle.
type ToggleResult struct {
	CourseID  uuid.UUID        `json:"course_id"`
	UnitID    string           `json:"unit_id"`
	Completed bool             `json:"completed"`
	Progress  []progress.Entry `json:"progress"`
	XP        int              `json:"xp"`
	Level     int              `json:"level"`
	Awarded   int              `json:"xp_awarded"`
	LevelUp   bool             `json:"level_up"`
}

// StepResult is the outcome of a project step toggle.
type StepResult struct {
	ProjectID uuid.UUID        `json:"project_id"`
	StepID    string           `json:"step_id"`
	Completed bool             `json:"completed"`
	Progress  []progress.Entry `json:"progress"`
}

// ImportResult is the outcome of a bulk completion import.
type ImportResult struct {
	CourseID       uuid.UUID        `json:"course_id"`
	NewlyCompleted []string         `json:"newly_completed"`
	Skipped        []string         `json:"skipped"`
	Progress       []progress.Entry `json:"progress"`
	XP             int              `json:"xp"`
	Level          int              `json:"level"`
	Awarded        int              `json:"xp_awarded"`
	LevelUp        bool             `json:"level_up"`
}

// ToggleLessonCompletion flips one lesson. Only the incomplete to complete
// edge awards XP; un-completing never takes XP away.
//
// A unit id must name a lesson of the course, except that a unit already in
// the progress map can always be un-completed.
func (s *Service) ToggleLessonCompletion(ctx context.Context, learnerID, courseID uuid.UUID, unitID string) (*ToggleResult, error) {
	var res *ToggleResult

	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, rec *domain.AggregateRoot) error {
		course, err := s.ownedCourse(ctx, uow, learnerID, courseID)
		if err != nil {
			return err
		}
		if !course.HasUnit(unitID) && !course.Progress.Completed(unitID) {
			return domain.UnitNotFound(unitID)
		}

		learner, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}

		now := s.now()
		next, newly := progress.Toggle(course.Progress, unitID, now)
		course.Progress = next
		course.UpdatedAt = now

		fromLevel := learner.Level
		if newly {
			s.award(learner, s.calc.UnitsAward(1), rec)
			rec.RecordEvent(domain.NewUnitCompletedEvent(domain.AggregateCourse, courseID, learnerID, unitID))
		} else {
			rec.RecordEvent(domain.NewUnitUncompletedEvent(domain.AggregateCourse, courseID, learnerID, unitID))
		}
		learner.UpdatedAt = now

		if err := uow.Courses().Save(ctx, course); err != nil {
			return err
		}
		if err := uow.Learners().Save(ctx, learner); err != nil {
			return err
		}

		res = &ToggleResult{
			CourseID:  courseID,
			UnitID:    unitID,
			Completed: newly,
			Progress:  progress.Serialize(next),
			XP:        learner.XP,
			Level:     learner.Level,
			LevelUp:   learner.Level > fromLevel,
		}
		if newly {
			res.Awarded = s.calc.UnitsAward(1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("lesson toggled",
		"learner_id", learnerID,
		"course_id", courseID,
		"unit_id", unitID,
		"completed", res.Completed,
		"xp", res.XP,
		"level", res.Level)
	return res, nil
}

// ToggleProjectStepCompletion flips one project step. Project steps never
// award XP.
func (s *Service) ToggleProjectStepCompletion(ctx context.Context, learnerID, projectID uuid.UUID, stepID string) (*StepResult, error) {
	var res *StepResult

	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, rec *domain.AggregateRoot) error {
		project, err := s.ownedProject(ctx, uow, learnerID, projectID)
		if err != nil {
			return err
		}
		if !project.HasUnit(stepID) && !project.Progress.Completed(stepID) {
			return domain.UnitNotFound(stepID)
		}

		learner, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}

		now := s.now()
		next, newly := progress.Toggle(project.Progress, stepID, now)
		project.Progress = next
		project.UpdatedAt = now

		if newly {
			rec.RecordEvent(domain.NewUnitCompletedEvent(domain.AggregateProject, projectID, learnerID, stepID))
		} else {
			rec.RecordEvent(domain.NewUnitUncompletedEvent(domain.AggregateProject, projectID, learnerID, stepID))
		}

		if err := uow.Projects().Save(ctx, project); err != nil {
			return err
		}
		// Saved for the revision bump only.
		if err := uow.Learners().Save(ctx, learner); err != nil {
			return err
		}

		res = &StepResult{
			ProjectID: projectID,
			StepID:    stepID,
			Completed: newly,
			Progress:  progress.Serialize(next),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("project step toggled",
		"learner_id", learnerID,
		"project_id", projectID,
		"unit_id", stepID,
		"completed", res.Completed)
	return res, nil
}

// ImportCompletions marks many lessons complete at once. Units that are
// already complete or unknown to the course are skipped. XP for every newly
// completed unit is granted in a single award.
func (s *Service) ImportCompletions(ctx context.Context, learnerID, courseID uuid.UUID, unitIDs []string) (*ImportResult, error) {
	var res *ImportResult

	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, rec *domain.AggregateRoot) error {
		course, err := s.ownedCourse(ctx, uow, learnerID, courseID)
		if err != nil {
			return err
		}
		learner, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}

		now := s.now()
		next := course.Progress.Clone()
		res = &ImportResult{CourseID: courseID, NewlyCompleted: []string{}, Skipped: []string{}}
		for _, id := range unitIDs {
			if !course.HasUnit(id) || next.Completed(id) {
				res.Skipped = append(res.Skipped, id)
				continue
			}
			next[id] = now
			res.NewlyCompleted = append(res.NewlyCompleted, id)
			rec.RecordEvent(domain.NewUnitCompletedEvent(domain.AggregateCourse, courseID, learnerID, id))
		}

		fromLevel := learner.Level
		res.Awarded = s.calc.UnitsAward(len(res.NewlyCompleted))
		s.award(learner, res.Awarded, rec)

		course.Progress = next
		course.UpdatedAt = now
		learner.UpdatedAt = now
		if err := uow.Courses().Save(ctx, course); err != nil {
			return err
		}
		if err := uow.Learners().Save(ctx, learner); err != nil {
			return err
		}

		res.Progress = progress.Serialize(next)
		res.XP = learner.XP
		res.Level = learner.Level
		res.LevelUp = learner.Level > fromLevel
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("completions imported",
		"learner_id", learnerID,
		"course_id", courseID,
		"completed", len(res.NewlyCompleted),
		"skipped", len(res.Skipped),
		"xp_awarded", res.Awarded,
		"level", res.Level)
	return res, nil
}
