package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/progress"
)

type learnerRepository struct{ tx pgx.Tx }

func (r learnerRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Learner, error) {
	l := &domain.Learner{}
	err := r.tx.QueryRow(ctx, `
		SELECT id, name, xp, level, course_ids, project_ids, revision, created_at, updated_at
		FROM learners WHERE id = $1 FOR UPDATE`, id).
		Scan(&l.ID, &l.Name, &l.XP, &l.Level, &l.CourseIDs, &l.ProjectIDs, &l.Revision, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, getErr(domain.ResourceLearner, id, err)
	}
	return l, nil
}

func (r learnerRepository) Save(ctx context.Context, l *domain.Learner) error {
	courseIDs, projectIDs := nonNil(l.CourseIDs), nonNil(l.ProjectIDs)

	if l.Revision == 0 {
		_, err := r.tx.Exec(ctx, `
			INSERT INTO learners (id, name, xp, level, course_ids, project_ids, revision, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)`,
			l.ID, l.Name, l.XP, l.Level, courseIDs, projectIDs, l.CreatedAt, l.UpdatedAt)
		if err != nil {
			return storeError("insert learner", err)
		}
		l.Revision = 1
		return nil
	}

	tag, err := r.tx.Exec(ctx, `
		UPDATE learners
		SET name = $1, xp = $2, level = $3, course_ids = $4, project_ids = $5,
		    revision = revision + 1, updated_at = $6
		WHERE id = $7 AND revision = $8`,
		l.Name, l.XP, l.Level, courseIDs, projectIDs, l.UpdatedAt, l.ID, l.Revision)
	if err != nil {
		return storeError("update learner", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save learner %s: %w: revision %d is stale", l.ID, domain.ErrConflict, l.Revision)
	}
	l.Revision++
	return nil
}

func nonNil(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

type courseRepository struct{ tx pgx.Tx }

func (r courseRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Course, error) {
	var (
		c        domain.Course
		diff     string
		modules  []byte
		entries  []byte
	)
	err := r.tx.QueryRow(ctx, `
		SELECT id, owner_id, title, topic, difficulty, modules, progress, created_at, updated_at
		FROM courses WHERE id = $1`, id).
		Scan(&c.ID, &c.OwnerID, &c.Title, &c.Topic, &diff, &modules, &entries, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, getErr(domain.ResourceCourse, id, err)
	}
	c.Difficulty = domain.Difficulty(diff)
	if err := json.Unmarshal(modules, &c.Modules); err != nil {
		return nil, fmt.Errorf("decode course %s modules: %w", id, err)
	}
	if c.Progress, err = decodeProgress(entries); err != nil {
		return nil, fmt.Errorf("decode course %s progress: %w", id, err)
	}
	return &c, nil
}

func (r courseRepository) Save(ctx context.Context, c *domain.Course) error {
	modules, err := json.Marshal(c.Modules)
	if err != nil {
		return fmt.Errorf("encode course modules: %w", err)
	}
	entries, err := json.Marshal(progress.Serialize(c.Progress))
	if err != nil {
		return fmt.Errorf("encode course progress: %w", err)
	}
	_, err = r.tx.Exec(ctx, `
		INSERT INTO courses (id, owner_id, title, topic, difficulty, modules, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			topic = EXCLUDED.topic,
			difficulty = EXCLUDED.difficulty,
			modules = EXCLUDED.modules,
			progress = EXCLUDED.progress,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.OwnerID, c.Title, c.Topic, string(c.Difficulty), modules, entries, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return storeError("save course", err)
	}
	return nil
}

func (r courseRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteRow(ctx, r.tx, `DELETE FROM courses WHERE id = $1`, domain.ResourceCourse, id)
}

type projectRepository struct{ tx pgx.Tx }

func (r projectRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	var (
		p        domain.Project
		diff     string
		steps    []byte
		entries  []byte
	)
	err := r.tx.QueryRow(ctx, `
		SELECT id, owner_id, title, topic, difficulty, steps, progress, created_at, updated_at
		FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.OwnerID, &p.Title, &p.Topic, &diff, &steps, &entries, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, getErr(domain.ResourceProject, id, err)
	}
	p.Difficulty = domain.Difficulty(diff)
	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return nil, fmt.Errorf("decode project %s steps: %w", id, err)
	}
	if p.Progress, err = decodeProgress(entries); err != nil {
		return nil, fmt.Errorf("decode project %s progress: %w", id, err)
	}
	return &p, nil
}

func (r projectRepository) Save(ctx context.Context, p *domain.Project) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("encode project steps: %w", err)
	}
	entries, err := json.Marshal(progress.Serialize(p.Progress))
	if err != nil {
		return fmt.Errorf("encode project progress: %w", err)
	}
	_, err = r.tx.Exec(ctx, `
		INSERT INTO projects (id, owner_id, title, topic, difficulty, steps, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			topic = EXCLUDED.topic,
			difficulty = EXCLUDED.difficulty,
			steps = EXCLUDED.steps,
			progress = EXCLUDED.progress,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.OwnerID, p.Title, p.Topic, string(p.Difficulty), steps, entries, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return storeError("save project", err)
	}
	return nil
}

func (r projectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteRow(ctx, r.tx, `DELETE FROM projects WHERE id = $1`, domain.ResourceProject, id)
}

func deleteRow(ctx context.Context, tx pgx.Tx, query, resource string, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return storeError("delete "+resource, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFound(resource, id)
	}
	return nil
}

func decodeProgress(raw []byte) (progress.Map, error) {
	if len(raw) == 0 {
		return progress.New(), nil
	}
	var entries []progress.Entry
	if err := json.Unmarshal(raw, &entries); err == nil {
		return progress.Deserialize(entries), nil
	}
	var m progress.Map
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

type folderRepository struct{ tx pgx.Tx }

func (r folderRepository) ListByLearner(ctx context.Context, learnerID uuid.UUID) ([]domain.Folder, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, owner_id, name, course_ids, created_at, updated_at
		FROM folders WHERE owner_id = $1 ORDER BY position`, learnerID)
	if err != nil {
		return nil, storeError("list folders", err)
	}
	defer rows.Close()

	folders := []domain.Folder{}
	for rows.Next() {
		var f domain.Folder
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.Name, &f.CourseIDs, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, storeError("scan folder", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list folders", err)
	}
	return folders, nil
}

func (r folderRepository) ReplaceAll(ctx context.Context, learnerID uuid.UUID, folders []domain.Folder) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM folders WHERE owner_id = $1`, learnerID)
	for i, f := range folders {
		batch.Queue(`
			INSERT INTO folders (id, owner_id, name, course_ids, position, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			f.ID, learnerID, f.Name, nonNil(f.CourseIDs), i, f.CreatedAt, f.UpdatedAt)
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return storeError("replace folders", err)
	}
	return nil
}
