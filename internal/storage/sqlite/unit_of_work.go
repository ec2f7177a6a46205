package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/progress"
)

// UnitOfWorkFactory opens units of work backed by a SQLite transaction.
// The DB holds a single connection, so Begin blocks until the previous
// unit commits or rolls back.
type UnitOfWorkFactory struct {
	db *DB
}

// NewUnitOfWorkFactory creates a factory over a migrated database.
func NewUnitOfWorkFactory(db *DB) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{db: db}
}

var _ domain.UnitOfWorkFactory = (*UnitOfWorkFactory)(nil)

// Begin implements domain.UnitOfWorkFactory.
func (f *UnitOfWorkFactory) Begin(ctx context.Context, learnerID uuid.UUID) (domain.UnitOfWork, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("begin unit for learner %s: %w", learnerID, ctxErr)
		}
		return nil, storeError("begin", err)
	}
	return &unitOfWork{tx: tx}, nil
}

type unitOfWork struct {
	tx   *sql.Tx
	done bool
}

func (u *unitOfWork) Learners() domain.LearnerRepository { return learnerRepository{u.tx} }
func (u *unitOfWork) Courses() domain.CourseRepository   { return courseRepository{u.tx} }
func (u *unitOfWork) Projects() domain.ProjectRepository { return projectRepository{u.tx} }
func (u *unitOfWork) Folders() domain.FolderRepository   { return folderRepository{u.tx} }

func (u *unitOfWork) Commit() error {
	if u.done {
		return sql.ErrTxDone
	}
	u.done = true
	if err := u.tx.Commit(); err != nil {
		return storeError("commit", err)
	}
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return storeError("rollback", err)
	}
	return nil
}

// storeError classifies a driver error. Constraint failures are conflicts
// or invariant breaks; everything else may succeed on retry.
func storeError(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrConflict, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w", op, &domain.InvariantError{Invariant: domain.InvariantCascade, Detail: err.Error()})
		}
		return fmt.Errorf("%s: %w: %w", op, domain.ErrInvalidInput, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.Transient(op, err)
}

func getErr(resource string, id uuid.UUID, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewNotFound(resource, id)
	}
	return storeError("load "+resource, err)
}

// jsonColumn encodes v for a TEXT column.
func jsonColumn(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// -----------------------------------------------------------------------------
// Learners
// -----------------------------------------------------------------------------

type learnerRepository struct{ tx *sql.Tx }

func (r learnerRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Learner, error) {
	var (
		l                   domain.Learner
		idStr               string
		courseIDs, projects string
	)
	err := r.tx.QueryRowContext(ctx, `
		SELECT id, name, xp, level, course_ids, project_ids, revision, created_at, updated_at
		FROM learners WHERE id = ?`, id.String()).
		Scan(&idStr, &l.Name, &l.XP, &l.Level, &courseIDs, &projects, &l.Revision, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, getErr(domain.ResourceLearner, id, err)
	}
	l.ID = id
	if err := json.Unmarshal([]byte(courseIDs), &l.CourseIDs); err != nil {
		return nil, fmt.Errorf("decode learner %s courses: %w", id, err)
	}
	if err := json.Unmarshal([]byte(projects), &l.ProjectIDs); err != nil {
		return nil, fmt.Errorf("decode learner %s projects: %w", id, err)
	}
	return &l, nil
}

// Save inserts a learner with revision 0 and otherwise updates only when
// the stored revision matches.
func (r learnerRepository) Save(ctx context.Context, l *domain.Learner) error {
	courseIDs, err := jsonColumn(nonNilIDs(l.CourseIDs))
	if err != nil {
		return fmt.Errorf("encode learner courses: %w", err)
	}
	projectIDs, err := jsonColumn(nonNilIDs(l.ProjectIDs))
	if err != nil {
		return fmt.Errorf("encode learner projects: %w", err)
	}

	if l.Revision == 0 {
		_, err := r.tx.ExecContext(ctx, `
			INSERT INTO learners (id, name, xp, level, course_ids, project_ids, revision, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			l.ID.String(), l.Name, l.XP, l.Level, courseIDs, projectIDs, l.CreatedAt, l.UpdatedAt)
		if err != nil {
			return storeError("insert learner", err)
		}
		l.Revision = 1
		return nil
	}

	res, err := r.tx.ExecContext(ctx, `
		UPDATE learners
		SET name = ?, xp = ?, level = ?, course_ids = ?, project_ids = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND revision = ?`,
		l.Name, l.XP, l.Level, courseIDs, projectIDs, l.UpdatedAt, l.ID.String(), l.Revision)
	if err != nil {
		return storeError("update learner", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("update learner", err)
	}
	if n == 0 {
		return fmt.Errorf("save learner %s: %w: revision %d is stale", l.ID, domain.ErrConflict, l.Revision)
	}
	l.Revision++
	return nil
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

// -----------------------------------------------------------------------------
// Courses and projects
// -----------------------------------------------------------------------------

const (
	scopeCourse  = "course"
	scopeProject = "project"
)

// replaceCompletions rewrites the flat completions rows of one scope.
func replaceCompletions(ctx context.Context, tx *sql.Tx, scope string, scopeID, learnerID uuid.UUID, m progress.Map) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM completions WHERE scope_type = ? AND scope_id = ?`, scope, scopeID.String()); err != nil {
		return storeError("clear completions", err)
	}
	for _, e := range progress.Serialize(m) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO completions (scope_type, scope_id, unit_id, learner_id, completed_at)
			VALUES (?, ?, ?, ?, ?)`,
			scope, scopeID.String(), e.UnitID, learnerID.String(), e.CompletedAt.UTC()); err != nil {
			return storeError("insert completion", err)
		}
	}
	return nil
}

type courseRepository struct{ tx *sql.Tx }

func (r courseRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Course, error) {
	var (
		c                         domain.Course
		idStr, ownerStr, diff     string
		modules, progressEntries string
	)
	err := r.tx.QueryRowContext(ctx, `
		SELECT id, owner_id, title, topic, difficulty, modules, progress, created_at, updated_at
		FROM courses WHERE id = ?`, id.String()).
		Scan(&idStr, &ownerStr, &c.Title, &c.Topic, &diff, &modules, &progressEntries, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, getErr(domain.ResourceCourse, id, err)
	}

	c.ID = id
	if c.OwnerID, err = uuid.Parse(ownerStr); err != nil {
		return nil, fmt.Errorf("decode course %s owner: %w", id, err)
	}
	c.Difficulty = domain.Difficulty(diff)
	if err := json.Unmarshal([]byte(modules), &c.Modules); err != nil {
		return nil, fmt.Errorf("decode course %s modules: %w", id, err)
	}
	if c.Progress, err = decodeProgress(progressEntries); err != nil {
		return nil, fmt.Errorf("decode course %s progress: %w", id, err)
	}
	return &c, nil
}

func (r courseRepository) Save(ctx context.Context, c *domain.Course) error {
	modules, err := jsonColumn(c.Modules)
	if err != nil {
		return fmt.Errorf("encode course modules: %w", err)
	}
	entries, err := jsonColumn(progress.Serialize(c.Progress))
	if err != nil {
		return fmt.Errorf("encode course progress: %w", err)
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO courses (id, owner_id, title, topic, difficulty, modules, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			topic = excluded.topic,
			difficulty = excluded.difficulty,
			modules = excluded.modules,
			progress = excluded.progress,
			updated_at = excluded.updated_at`,
		c.ID.String(), c.OwnerID.String(), c.Title, c.Topic, string(c.Difficulty),
		modules, entries, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return storeError("save course", err)
	}
	return replaceCompletions(ctx, r.tx, scopeCourse, c.ID, c.OwnerID, c.Progress)
}

func (r courseRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteDocument(ctx, r.tx, "courses", scopeCourse, domain.ResourceCourse, id)
}

type projectRepository struct{ tx *sql.Tx }

func (r projectRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	var (
		p                       domain.Project
		idStr, ownerStr, diff   string
		steps, progressEntries string
	)
	err := r.tx.QueryRowContext(ctx, `
		SELECT id, owner_id, title, topic, difficulty, steps, progress, created_at, updated_at
		FROM projects WHERE id = ?`, id.String()).
		Scan(&idStr, &ownerStr, &p.Title, &p.Topic, &diff, &steps, &progressEntries, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, getErr(domain.ResourceProject, id, err)
	}

	p.ID = id
	if p.OwnerID, err = uuid.Parse(ownerStr); err != nil {
		return nil, fmt.Errorf("decode project %s owner: %w", id, err)
	}
	p.Difficulty = domain.Difficulty(diff)
	if err := json.Unmarshal([]byte(steps), &p.Steps); err != nil {
		return nil, fmt.Errorf("decode project %s steps: %w", id, err)
	}
	if p.Progress, err = decodeProgress(progressEntries); err != nil {
		return nil, fmt.Errorf("decode project %s progress: %w", id, err)
	}
	return &p, nil
}

func (r projectRepository) Save(ctx context.Context, p *domain.Project) error {
	steps, err := jsonColumn(p.Steps)
	if err != nil {
		return fmt.Errorf("encode project steps: %w", err)
	}
	entries, err := jsonColumn(progress.Serialize(p.Progress))
	if err != nil {
		return fmt.Errorf("encode project progress: %w", err)
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, title, topic, difficulty, steps, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			topic = excluded.topic,
			difficulty = excluded.difficulty,
			steps = excluded.steps,
			progress = excluded.progress,
			updated_at = excluded.updated_at`,
		p.ID.String(), p.OwnerID.String(), p.Title, p.Topic, string(p.Difficulty),
		steps, entries, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return storeError("save project", err)
	}
	return replaceCompletions(ctx, r.tx, scopeProject, p.ID, p.OwnerID, p.Progress)
}

func (r projectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteDocument(ctx, r.tx, "projects", scopeProject, domain.ResourceProject, id)
}

func deleteDocument(ctx context.Context, tx *sql.Tx, table, scope, resource string, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id.String())
	if err != nil {
		return storeError("delete "+resource, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("delete "+resource, err)
	}
	if n == 0 {
		return domain.NewNotFound(resource, id)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM completions WHERE scope_type = ? AND scope_id = ?`, scope, id.String()); err != nil {
		return storeError("delete completions", err)
	}
	return nil
}

// decodeProgress reads the serialized entry list. Rows written by older
// builds hold the object form, which progress.Map decodes itself.
func decodeProgress(raw string) (progress.Map, error) {
	if raw == "" {
		return progress.New(), nil
	}
	var entries []progress.Entry
	if err := json.Unmarshal([]byte(raw), &entries); err == nil {
		return progress.Deserialize(entries), nil
	}
	var m progress.Map
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// -----------------------------------------------------------------------------
// Folders
// -----------------------------------------------------------------------------

type folderRepository struct{ tx *sql.Tx }

func (r folderRepository) ListByLearner(ctx context.Context, learnerID uuid.UUID) ([]domain.Folder, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, name, course_ids, created_at, updated_at
		FROM folders WHERE owner_id = ? ORDER BY position`, learnerID.String())
	if err != nil {
		return nil, storeError("list folders", err)
	}
	defer rows.Close()

	folders := []domain.Folder{}
	for rows.Next() {
		var (
			f              domain.Folder
			idStr, members string
		)
		if err := rows.Scan(&idStr, &f.Name, &members, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, storeError("scan folder", err)
		}
		if f.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("decode folder id %q: %w", idStr, err)
		}
		f.OwnerID = learnerID
		if err := json.Unmarshal([]byte(members), &f.CourseIDs); err != nil {
			return nil, fmt.Errorf("decode folder %s members: %w", f.ID, err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list folders", err)
	}
	return folders, nil
}

func (r folderRepository) ReplaceAll(ctx context.Context, learnerID uuid.UUID, folders []domain.Folder) error {
	if _, err := r.tx.ExecContext(ctx, `DELETE FROM folders WHERE owner_id = ?`, learnerID.String()); err != nil {
		return storeError("clear folders", err)
	}
	for i, f := range folders {
		members, err := jsonColumn(nonNilIDs(f.CourseIDs))
		if err != nil {
			return fmt.Errorf("encode folder %s: %w", f.ID, err)
		}
		created, updated := f.CreatedAt, f.UpdatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if updated.IsZero() {
			updated = created
		}
		if _, err := r.tx.ExecContext(ctx, `
			INSERT INTO folders (id, owner_id, name, course_ids, position, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.ID.String(), learnerID.String(), f.Name, members, i, created, updated); err != nil {
			return storeError("insert folder", err)
		}
	}
	return nil
}
