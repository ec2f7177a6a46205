package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/folder"
)

// AddCourseRequest carries a generated course to persist.
type AddCourseRequest struct {
	Topic      string
	Difficulty domain.Difficulty
	Content    domain.CourseContent
}

// AddProjectRequest carries a generated project to persist.
type AddProjectRequest struct {
	Topic      string
	Difficulty domain.Difficulty
	Content    domain.ProjectContent
}

// AddCourse stores a generated course for the learner. Lesson ids are
// assigned here and the progress map starts empty.
func (s *Service) AddCourse(ctx context.Context, learnerID uuid.UUID, req AddCourseRequest) (*domain.Course, error) {
	var course *domain.Course

	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, rec *domain.AggregateRoot) error {
		learner, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}

		now := s.now()
		course, err = domain.NewCourse(learnerID, strings.TrimSpace(req.Topic), req.Difficulty, req.Content, now)
		if err != nil {
			return err
		}
		learner.AddCourse(course.ID)
		learner.UpdatedAt = now

		if err := uow.Courses().Save(ctx, course); err != nil {
			return err
		}
		if err := uow.Learners().Save(ctx, learner); err != nil {
			return err
		}
		rec.RecordEvent(domain.NewDocumentEvent(domain.EventCourseAdded, domain.AggregateCourse, course.ID, learnerID, course.Title))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("course added", "learner_id", learnerID, "course_id", course.ID, "lessons", len(course.UnitIDs()))
	return course, nil
}

// AddProject stores a generated project for the learner.
func (s *Service) AddProject(ctx context.Context, learnerID uuid.UUID, req AddProjectRequest) (*domain.Project, error) {
	var project *domain.Project

	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, rec *domain.AggregateRoot) error {
		learner, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}

		now := s.now()
		project, err = domain.NewProject(learnerID, strings.TrimSpace(req.Topic), req.Difficulty, req.Content, now)
		if err != nil {
			return err
		}
		learner.AddProject(project.ID)
		learner.UpdatedAt = now

		if err := uow.Projects().Save(ctx, project); err != nil {
			return err
		}
		if err := uow.Learners().Save(ctx, learner); err != nil {
			return err
		}
		rec.RecordEvent(domain.NewDocumentEvent(domain.EventProjectAdded, domain.AggregateProject, project.ID, learnerID, project.Title))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("project added", "learner_id", learnerID, "project_id", project.ID, "steps", len(project.Steps))
	return project, nil
}

// DeleteCourse removes the course document, its id from the learner's
// collection and its membership in every folder, all in one commit.
func (s *Service) DeleteCourse(ctx context.Context, learnerID, courseID uuid.UUID) error {
	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, rec *domain.AggregateRoot) error {
		course, err := s.ownedCourse(ctx, uow, learnerID, courseID)
		if err != nil {
			return err
		}
		learner, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}
		folders, err := uow.Folders().ListByLearner(ctx, learnerID)
		if err != nil {
			return err
		}

		now := s.now()
		folders = folder.RemoveCourseEverywhere(folders, courseID, now)
		learner.RemoveCourse(courseID)
		learner.UpdatedAt = now

		if err := uow.Courses().Delete(ctx, courseID); err != nil {
			return err
		}
		if err := uow.Folders().ReplaceAll(ctx, learnerID, folders); err != nil {
			return err
		}
		if err := uow.Learners().Save(ctx, learner); err != nil {
			return err
		}
		rec.RecordEvent(domain.NewDocumentEvent(domain.EventCourseDeleted, domain.AggregateCourse, courseID, learnerID, course.Title))
		return nil
	})

	var ce *commitError
	if errors.As(err, &ce) {
		s.logger.Error("course delete cascade not committed",
			"learner_id", learnerID,
			"course_id", courseID,
			"invariant", domain.InvariantCascade,
			"error", err)
	}
	if err != nil {
		return err
	}

	s.logger.Info("course deleted", "learner_id", learnerID, "course_id", courseID)
	return nil
}

// DeleteProject removes the project document and its id from the learner.
func (s *Service) DeleteProject(ctx context.Context, learnerID, projectID uuid.UUID) error {
	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, rec *domain.AggregateRoot) error {
		project, err := s.ownedProject(ctx, uow, learnerID, projectID)
		if err != nil {
			return err
		}
		learner, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}

		learner.RemoveProject(projectID)
		learner.UpdatedAt = s.now()

		if err := uow.Projects().Delete(ctx, projectID); err != nil {
			return err
		}
		if err := uow.Learners().Save(ctx, learner); err != nil {
			return err
		}
		rec.RecordEvent(domain.NewDocumentEvent(domain.EventProjectDeleted, domain.AggregateProject, projectID, learnerID, project.Title))
		return nil
	})

	var ce *commitError
	if errors.As(err, &ce) {
		s.logger.Error("project delete cascade not committed",
			"learner_id", learnerID,
			"project_id", projectID,
			"invariant", domain.InvariantCascade,
			"error", err)
	}
	if err != nil {
		return err
	}

	s.logger.Info("project deleted", "learner_id", learnerID, "project_id", projectID)
	return nil
}

// MoveCourseToFolder files the course under target, or takes it out of every
// folder when target is nil. It returns the learner's updated folder set.
func (s *Service) MoveCourseToFolder(ctx context.Context, learnerID, courseID uuid.UUID, target *uuid.UUID) ([]domain.Folder, error) {
	var out []domain.Folder

	err := s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, rec *domain.AggregateRoot) error {
		if _, err := s.ownedCourse(ctx, uow, learnerID, courseID); err != nil {
			return err
		}
		learner, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}
		folders, err := uow.Folders().ListByLearner(ctx, learnerID)
		if err != nil {
			return err
		}

		now := s.now()
		next, err := folder.MoveCourse(folders, courseID, target, now)
		if err != nil {
			return err
		}
		learner.UpdatedAt = now

		if err := uow.Folders().ReplaceAll(ctx, learnerID, next); err != nil {
			return err
		}
		if err := uow.Learners().Save(ctx, learner); err != nil {
			return err
		}
		rec.RecordEvent(domain.NewCourseMovedEvent(courseID, learnerID, target))
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("course moved", "learner_id", learnerID, "course_id", courseID, "folder_id", target)
	return out, nil
}

// CreateFolder adds an empty folder.
func (s *Service) CreateFolder(ctx context.Context, learnerID uuid.UUID, name string) (domain.Folder, error) {
	var created domain.Folder

	err := s.updateFolders(ctx, learnerID, func(folders []domain.Folder, rec *domain.AggregateRoot) ([]domain.Folder, error) {
		next, f, err := folder.Create(folders, learnerID, name, s.now())
		if err != nil {
			return nil, err
		}
		created = f
		rec.RecordEvent(domain.NewFolderEvent(domain.EventFolderCreated, f.ID, learnerID, f.Name))
		return next, nil
	})
	if err != nil {
		return domain.Folder{}, err
	}

	s.logger.Info("folder created", "learner_id", learnerID, "folder_id", created.ID)
	return created, nil
}

// RenameFolder renames a folder.
func (s *Service) RenameFolder(ctx context.Context, learnerID, folderID uuid.UUID, name string) (domain.Folder, error) {
	var renamed domain.Folder

	err := s.updateFolders(ctx, learnerID, func(folders []domain.Folder, rec *domain.AggregateRoot) ([]domain.Folder, error) {
		next, err := folder.Rename(folders, folderID, name, s.now())
		if err != nil {
			return nil, err
		}
		renamed, _ = folder.Find(next, folderID)
		rec.RecordEvent(domain.NewFolderEvent(domain.EventFolderRenamed, folderID, learnerID, renamed.Name))
		return next, nil
	})
	if err != nil {
		return domain.Folder{}, err
	}

	s.logger.Info("folder renamed", "learner_id", learnerID, "folder_id", folderID)
	return renamed, nil
}

// DeleteFolder removes a folder. Its courses are kept and become unfiled.
func (s *Service) DeleteFolder(ctx context.Context, learnerID, folderID uuid.UUID) error {
	err := s.updateFolders(ctx, learnerID, func(folders []domain.Folder, rec *domain.AggregateRoot) ([]domain.Folder, error) {
		next, removed, err := folder.DeleteFolder(folders, folderID)
		if err != nil {
			return nil, err
		}
		rec.RecordEvent(domain.NewFolderEvent(domain.EventFolderDeleted, folderID, learnerID, removed.Name))
		return next, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("folder deleted", "learner_id", learnerID, "folder_id", folderID)
	return nil
}

// updateFolders runs a folder index operation against the learner's folders.
func (s *Service) updateFolders(ctx context.Context, learnerID uuid.UUID, op func([]domain.Folder, *domain.AggregateRoot) ([]domain.Folder, error)) error {
	return s.run(ctx, learnerID, func(ctx context.Context, uow domain.UnitOfWork, rec *domain.AggregateRoot) error {
		learner, err := uow.Learners().Get(ctx, learnerID)
		if err != nil {
			return err
		}
		folders, err := uow.Folders().ListByLearner(ctx, learnerID)
		if err != nil {
			return err
		}

		next, err := op(folders, rec)
		if err != nil {
			return err
		}
		learner.UpdatedAt = s.now()

		if err := uow.Folders().ReplaceAll(ctx, learnerID, next); err != nil {
			return err
		}
		return uow.Learners().Save(ctx, learner)
	})
}
