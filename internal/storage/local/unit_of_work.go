package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/lock"
)

// Collections
const (
	learnersCollection = "learners"
	coursesCollection  = "courses"
	projectsCollection = "projects"
	foldersCollection  = "folders"
	journalCollection  = "journal"
)

// lockRetryDelay is how often Begin polls a learner lock file held by
// another process.
const lockRetryDelay = 5 * time.Millisecond

// change is one staged write. Empty Data means delete.
type change struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// UnitOfWorkFactory opens learner-scoped units of work over a Store.
//
// Writers for one learner are serialized by an in-process lock and by an
// advisory file lock under <data>/locks, so the daemon, the MCP server and
// the check command can share a data directory. Commit first writes the
// whole change set to a per-learner journal, then applies it; a journal left
// behind by a crash is replayed by the next Begin for that learner, so a
// commit is applied entirely or not at all.
type UnitOfWorkFactory struct {
	store  *Store
	locks  *lock.KeyedMutex
	logger *slog.Logger
}

// NewUnitOfWorkFactory creates a factory over store.
func NewUnitOfWorkFactory(store *Store) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{store: store, locks: lock.NewKeyedMutex(), logger: slog.Default()}
}

// SetLogger sets the logger used for commits that land after their journal.
func (f *UnitOfWorkFactory) SetLogger(logger *slog.Logger) {
	f.logger = logger
}

// Begin implements domain.UnitOfWorkFactory.
func (f *UnitOfWorkFactory) Begin(ctx context.Context, learnerID uuid.UUID) (domain.UnitOfWork, error) {
	release, err := f.locks.Acquire(ctx, learnerID.String())
	if err != nil {
		return nil, fmt.Errorf("lock learner %s: %w", learnerID, err)
	}

	fileLock, err := f.lockFile(ctx, learnerID)
	if err != nil {
		_ = release(ctx)
		return nil, err
	}
	unlock := func(ctx context.Context) error {
		err := fileLock.Unlock()
		if rerr := release(ctx); err == nil {
			err = rerr
		}
		return err
	}

	if err := f.replay(learnerID); err != nil {
		_ = unlock(ctx)
		return nil, domain.Transient("replay journal", err)
	}

	return &unitOfWork{
		ctx:       ctx,
		store:     f.store,
		logger:    f.logger,
		learnerID: learnerID,
		release:   unlock,
		staged:    make(map[string]int),
		revisions: make(map[string]int64),
	}, nil
}

// lockFile takes the cross-process lock for a learner.
func (f *UnitOfWorkFactory) lockFile(ctx context.Context, learnerID uuid.UUID) (*flock.Flock, error) {
	dir := filepath.Join(f.store.Path(), "locks")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, domain.Transient("create lock directory", err)
	}

	fl := flock.New(filepath.Join(dir, learnerID.String()+".lock"))
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("lock learner %s: %w", learnerID, ctx.Err())
		}
		return nil, domain.Transient("lock learner file", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock learner %s: %w", learnerID, context.Canceled)
	}
	return fl, nil
}

func (f *UnitOfWorkFactory) replay(learnerID uuid.UUID) error {
	raw, err := f.store.LoadRaw(journalCollection, learnerID.String())
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var changes []change
	if err := json.Unmarshal(raw, &changes); err != nil {
		return fmt.Errorf("decode journal: %w", err)
	}
	if err := f.store.apply(changes); err != nil {
		return err
	}
	return f.store.Delete(journalCollection, learnerID.String())
}

var _ domain.UnitOfWorkFactory = (*UnitOfWorkFactory)(nil)

// unitOfWork stages writes in memory until Commit.
type unitOfWork struct {
	ctx       context.Context
	store     *Store
	logger    *slog.Logger
	learnerID uuid.UUID
	release   lock.Release

	changes []change
	staged  map[string]int // collection/id -> index into changes

	// learner id -> revision on disk when first saved in this unit
	revisions map[string]int64
	done      bool
}

func (u *unitOfWork) Learners() domain.LearnerRepository { return learnerRepository{u} }
func (u *unitOfWork) Courses() domain.CourseRepository   { return courseRepository{u} }
func (u *unitOfWork) Projects() domain.ProjectRepository { return projectRepository{u} }
func (u *unitOfWork) Folders() domain.FolderRepository   { return folderRepository{u} }

// Commit journals and applies the staged writes. Once the journal is on
// disk the commit has happened: a failed apply is logged and left for the
// next Begin to replay.
func (u *unitOfWork) Commit() error {
	if u.done {
		return ErrFinished
	}
	defer u.finish()

	if err := u.ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if len(u.changes) == 0 {
		return nil
	}
	if err := u.checkRevisions(); err != nil {
		return err
	}

	journal, err := json.Marshal(u.changes)
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}
	if err := u.store.SaveRaw(journalCollection, u.learnerID.String(), journal); err != nil {
		return domain.Transient("write journal", err)
	}
	if err := u.store.apply(u.changes); err != nil {
		u.logger.Error("apply journal failed, replaying on next begin",
			"learner_id", u.learnerID,
			"error", err,
		)
		return nil
	}
	if err := u.store.Delete(journalCollection, u.learnerID.String()); err != nil && !errors.Is(err, ErrNotFound) {
		u.logger.Error("clear journal failed",
			"learner_id", u.learnerID,
			"error", err,
		)
	}
	return nil
}

// checkRevisions fails the commit if a learner changed on disk after this
// unit read it.
func (u *unitOfWork) checkRevisions() error {
	for id, want := range u.revisions {
		var stored domain.Learner
		err := u.store.Load(learnersCollection, id, &stored)
		switch {
		case errors.Is(err, ErrNotFound):
			stored.Revision = 0
		case err != nil:
			return domain.Transient("check learner revision", err)
		}
		if stored.Revision != want {
			return fmt.Errorf("commit learner %s: %w: read revision %d, stored %d", id, domain.ErrConflict, want, stored.Revision)
		}
	}
	return nil
}

// Rollback discards staged writes. It is a no-op after Commit.
func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.finish()
	return nil
}

func (u *unitOfWork) finish() {
	u.done = true
	u.changes = nil
	u.staged = nil
	u.revisions = nil
	_ = u.release(context.Background())
}

func (u *unitOfWork) load(collection, id string, v any) error {
	if u.done {
		return ErrFinished
	}
	if i, ok := u.staged[collection+"/"+id]; ok {
		c := u.changes[i]
		if len(c.Data) == 0 {
			return ErrNotFound
		}
		return json.Unmarshal(c.Data, v)
	}
	return u.store.Load(collection, id, v)
}

func (u *unitOfWork) stage(collection, id string, v any) error {
	if u.done {
		return ErrFinished
	}
	var data json.RawMessage
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", collection, id, err)
		}
		data = raw
	}

	key := collection + "/" + id
	c := change{Collection: collection, ID: id, Data: data}
	if i, ok := u.staged[key]; ok {
		u.changes[i] = c
		return nil
	}
	u.staged[key] = len(u.changes)
	u.changes = append(u.changes, c)
	return nil
}

// loadErr maps store errors onto domain errors.
func loadErr(resource string, id uuid.UUID, err error) error {
	if errors.Is(err, ErrNotFound) {
		return domain.NewNotFound(resource, id)
	}
	return domain.Transient("load "+resource, err)
}

// -----------------------------------------------------------------------------
// Repositories
// -----------------------------------------------------------------------------

type learnerRepository struct{ u *unitOfWork }

func (r learnerRepository) Get(_ context.Context, id uuid.UUID) (*domain.Learner, error) {
	var l domain.Learner
	if err := r.u.load(learnersCollection, id.String(), &l); err != nil {
		return nil, loadErr(domain.ResourceLearner, id, err)
	}
	return &l, nil
}

func (r learnerRepository) Save(ctx context.Context, l *domain.Learner) error {
	current, err := r.Get(ctx, l.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return err
	case current.Revision != l.Revision:
		return fmt.Errorf("save learner %s: %w: revision %d, stored %d", l.ID, domain.ErrConflict, l.Revision, current.Revision)
	}

	if _, ok := r.u.revisions[l.ID.String()]; !ok {
		r.u.revisions[l.ID.String()] = l.Revision
	}
	l.Revision++
	if err := r.u.stage(learnersCollection, l.ID.String(), l); err != nil {
		l.Revision--
		return err
	}
	return nil
}

type courseRepository struct{ u *unitOfWork }

func (r courseRepository) Get(_ context.Context, id uuid.UUID) (*domain.Course, error) {
	var c domain.Course
	if err := r.u.load(coursesCollection, id.String(), &c); err != nil {
		return nil, loadErr(domain.ResourceCourse, id, err)
	}
	return &c, nil
}

func (r courseRepository) Save(_ context.Context, c *domain.Course) error {
	return r.u.stage(coursesCollection, c.ID.String(), c)
}

func (r courseRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return r.u.stage(coursesCollection, id.String(), nil)
}

type projectRepository struct{ u *unitOfWork }

func (r projectRepository) Get(_ context.Context, id uuid.UUID) (*domain.Project, error) {
	var p domain.Project
	if err := r.u.load(projectsCollection, id.String(), &p); err != nil {
		return nil, loadErr(domain.ResourceProject, id, err)
	}
	return &p, nil
}

func (r projectRepository) Save(_ context.Context, p *domain.Project) error {
	return r.u.stage(projectsCollection, p.ID.String(), p)
}

func (r projectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return r.u.stage(projectsCollection, id.String(), nil)
}

type folderRepository struct{ u *unitOfWork }

func (r folderRepository) ListByLearner(_ context.Context, learnerID uuid.UUID) ([]domain.Folder, error) {
	var folders []domain.Folder
	err := r.u.load(foldersCollection, learnerID.String(), &folders)
	if errors.Is(err, ErrNotFound) {
		return []domain.Folder{}, nil
	}
	if err != nil {
		return nil, domain.Transient("load folders", err)
	}
	return folders, nil
}

func (r folderRepository) ReplaceAll(_ context.Context, learnerID uuid.UUID, folders []domain.Folder) error {
	if folders == nil {
		folders = []domain.Folder{}
	}
	return r.u.stage(foldersCollection, learnerID.String(), folders)
}
