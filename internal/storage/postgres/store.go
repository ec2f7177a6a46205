// Package postgres stores learners and their documents in PostgreSQL.
//
// Every unit of work is one transaction. Begin takes a transaction-scoped
// advisory lock keyed by the learner, so writers for one learner queue up
// while different learners proceed in parallel.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/courseforge/internal/domain"
)

//go:embed schema.sql
var schema string

// Store owns the connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping verifies the pool can reach the server.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Begin implements domain.UnitOfWorkFactory.
func (s *Store) Begin(ctx context.Context, learnerID uuid.UUID) (domain.UnitOfWork, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(learnerID)); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, storeError("lock learner", err)
	}
	return &unitOfWork{ctx: ctx, tx: tx}, nil
}

var _ domain.UnitOfWorkFactory = (*Store)(nil)

func lockKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write(id[:])
	return int64(h.Sum64())
}

type unitOfWork struct {
	ctx  context.Context
	tx   pgx.Tx
	done bool
}

func (u *unitOfWork) Learners() domain.LearnerRepository { return learnerRepository{u.tx} }
func (u *unitOfWork) Courses() domain.CourseRepository   { return courseRepository{u.tx} }
func (u *unitOfWork) Projects() domain.ProjectRepository { return projectRepository{u.tx} }
func (u *unitOfWork) Folders() domain.FolderRepository   { return folderRepository{u.tx} }

func (u *unitOfWork) Commit() error {
	if u.done {
		return pgx.ErrTxClosed
	}
	u.done = true
	if err := u.tx.Commit(u.ctx); err != nil {
		return storeError("commit", err)
	}
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return storeError("rollback", err)
	}
	return nil
}

// SQLSTATE codes that change how an error is reported.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrConflict, err)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, &domain.InvariantError{Invariant: domain.InvariantCascade, Detail: pgErr.Message})
		}
	}
	return domain.Transient(op, err)
}

func getErr(resource string, id uuid.UUID, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewNotFound(resource, id)
	}
	return storeError("load "+resource, err)
}
