package domain

import (
	"context"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Repository Interfaces
// Every repository is obtained from a UnitOfWork and sees that unit's staged
// writes. Lookups of a missing document return an error matching ErrNotFound.
// Store failures match ErrTransientStore.
// -----------------------------------------------------------------------------

// LearnerRepository persists learners.
type LearnerRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Learner, error)
	// Save inserts or updates. Updates must carry the revision that was
	// loaded; a stale revision fails with ErrConflict. On success the
	// learner's Revision is advanced.
	Save(ctx context.Context, learner *Learner) error
}

// CourseRepository persists courses. Get looks a course up by id regardless
// of owner; ownership is checked by the caller.
type CourseRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Course, error)
	Save(ctx context.Context, course *Course) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ProjectRepository persists projects.
type ProjectRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Project, error)
	Save(ctx context.Context, project *Project) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// FolderRepository persists a learner's folder set as a whole, so a move
// touching two folders is a single write.
type FolderRepository interface {
	ListByLearner(ctx context.Context, learnerID uuid.UUID) ([]Folder, error)
	ReplaceAll(ctx context.Context, learnerID uuid.UUID, folders []Folder) error
}

// -----------------------------------------------------------------------------
// Unit of Work
// -----------------------------------------------------------------------------

// UnitOfWork groups the reads and writes of one mutation. Writes become
// visible only on Commit; Rollback after Commit is a no-op.
type UnitOfWork interface {
	Learners() LearnerRepository
	Courses() CourseRepository
	Projects() ProjectRepository
	Folders() FolderRepository

	Commit() error
	Rollback() error
}

// UnitOfWorkFactory opens units of work. Begin serializes writers per
// learner: a second Begin for the same learner blocks until the first unit
// commits or rolls back, or ctx is done.
type UnitOfWorkFactory interface {
	Begin(ctx context.Context, learnerID uuid.UUID) (UnitOfWork, error)
}
