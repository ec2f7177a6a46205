//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/progress"
)

func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "courseforge",
				"POSTGRES_PASSWORD": "courseforge",
				"POSTGRES_DB":       "courseforge",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://courseforge:courseforge@%s:%s/courseforge?sslmode=disable", host, port.Port())
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store
}

func TestStore_Integration(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	l := domain.NewLearner(uuid.New(), "Ada", now)
	course, err := domain.NewCourse(l.ID, "go", domain.DifficultyBeginner, domain.CourseContent{
		Modules: []domain.ModuleContent{{Title: "Basics", Lessons: []domain.LessonContent{{Title: "Vars"}}}},
	}, now)
	if err != nil {
		t.Fatalf("NewCourse() error = %v", err)
	}
	l.AddCourse(course.ID)
	course.Progress, _ = progress.Toggle(course.Progress, course.UnitIDs()[0], now)

	t.Run("commit course before learner", func(t *testing.T) {
		uow, err := store.Begin(ctx, l.ID)
		if err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		if err := uow.Courses().Save(ctx, course); err != nil {
			t.Fatalf("Courses().Save() error = %v", err)
		}
		if err := uow.Learners().Save(ctx, l); err != nil {
			t.Fatalf("Learners().Save() error = %v", err)
		}
		if err := uow.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	})

	t.Run("reload", func(t *testing.T) {
		uow, _ := store.Begin(ctx, l.ID)
		defer uow.Rollback()

		got, err := uow.Learners().Get(ctx, l.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Revision != 1 || len(got.CourseIDs) != 1 || got.CourseIDs[0] != course.ID {
			t.Errorf("learner = rev %d courses %v; want 1, [%v]", got.Revision, got.CourseIDs, course.ID)
		}
		c, err := uow.Courses().Get(ctx, course.ID)
		if err != nil {
			t.Fatalf("Courses().Get() error = %v", err)
		}
		if !c.Progress.Equal(course.Progress) {
			t.Errorf("Progress = %v; want %v", c.Progress, course.Progress)
		}
	})

	t.Run("stale revision", func(t *testing.T) {
		uow, _ := store.Begin(ctx, l.ID)
		defer uow.Rollback()

		stale := l.Clone()
		stale.Revision = 42
		if err := uow.Learners().Save(ctx, stale); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("Save() error = %v; want ErrConflict", err)
		}
	})

	t.Run("concurrent writers serialize", func(t *testing.T) {
		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				uow, err := store.Begin(ctx, l.ID)
				if err != nil {
					errs <- err
					return
				}
				defer uow.Rollback()
				cur, err := uow.Learners().Get(ctx, l.ID)
				if err != nil {
					errs <- err
					return
				}
				cur.XP += 10
				if err := uow.Learners().Save(ctx, cur); err != nil {
					errs <- err
					return
				}
				errs <- uow.Commit()
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Errorf("writer error = %v", err)
			}
		}

		uow, _ := store.Begin(ctx, l.ID)
		defer uow.Rollback()
		got, _ := uow.Learners().Get(ctx, l.ID)
		if got.XP != writers*10 {
			t.Errorf("XP = %d; want %d", got.XP, writers*10)
		}
	})

	t.Run("folders", func(t *testing.T) {
		uow, _ := store.Begin(ctx, l.ID)
		folders := []domain.Folder{{ID: uuid.New(), OwnerID: l.ID, Name: "Go", CourseIDs: []uuid.UUID{course.ID}, CreatedAt: now, UpdatedAt: now}}
		if err := uow.Folders().ReplaceAll(ctx, l.ID, folders); err != nil {
			t.Fatalf("ReplaceAll() error = %v", err)
		}
		got, err := uow.Folders().ListByLearner(ctx, l.ID)
		if err != nil {
			t.Fatalf("ListByLearner() error = %v", err)
		}
		if len(got) != 1 || !got[0].Contains(course.ID) {
			t.Errorf("folders = %+v; want one containing %v", got, course.ID)
		}
		_ = uow.Commit()
	})
}

func TestLockKey(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	if lockKey(a) != lockKey(a) {
		t.Error("lockKey not stable")
	}
	if lockKey(a) == lockKey(b) {
		t.Error("lockKey collided for distinct ids")
	}
}
