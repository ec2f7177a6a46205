package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/lock"
	"github.com/felixgeelhaar/courseforge/internal/progress"
	"github.com/felixgeelhaar/courseforge/internal/storage/local"
	"github.com/felixgeelhaar/courseforge/internal/xp"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc     *Service
	factory domain.UnitOfWorkFactory
	events  *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) PublishAll(events []domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, events...)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.EventType()
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := local.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	factory := local.NewUnitOfWorkFactory(store)
	return newHarnessWith(t, factory)
}

func newHarnessWith(t *testing.T, factory domain.UnitOfWorkFactory) *harness {
	t.Helper()
	events := &eventLog{}
	svc := NewService(factory, xp.Default())
	svc.SetPublisher(events)
	svc.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.SetClock(func() time.Time { return testNow })
	return &harness{svc: svc, factory: factory, events: events}
}

// seedLearner stores a learner with the given counters.
func (h *harness) seedLearner(t *testing.T, xpValue, level int) *domain.Learner {
	t.Helper()
	ctx := context.Background()
	l := domain.NewLearner(uuid.New(), "Ada", testNow)
	l.XP, l.Level = xpValue, level

	uow, err := h.factory.Begin(ctx, l.ID)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := uow.Learners().Save(ctx, l); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return l
}

// seedCourse stores a course owned by learner whose lessons have the given ids.
func (h *harness) seedCourse(t *testing.T, learnerID uuid.UUID, unitIDs ...string) *domain.Course {
	t.Helper()
	ctx := context.Background()

	lessons := make([]domain.Lesson, len(unitIDs))
	for i, id := range unitIDs {
		lessons[i] = domain.Lesson{ID: id, Title: id}
	}
	c := &domain.Course{
		ID:       uuid.New(),
		OwnerID:  learnerID,
		Title:    "Go",
		Modules:  []domain.Module{{Title: "M1", Lessons: lessons}},
		Progress: progress.New(),
	}

	uow, _ := h.factory.Begin(ctx, learnerID)
	l, err := uow.Learners().Get(ctx, learnerID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	l.AddCourse(c.ID)
	_ = uow.Courses().Save(ctx, c)
	_ = uow.Learners().Save(ctx, l)
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return c
}

func (h *harness) learner(t *testing.T, id uuid.UUID) *domain.Learner {
	t.Helper()
	ctx := context.Background()
	uow, _ := h.factory.Begin(ctx, id)
	defer uow.Rollback()
	l, err := uow.Learners().Get(ctx, id)
	if err != nil {
		t.Fatalf("Get(learner) error = %v", err)
	}
	return l
}

func (h *harness) course(t *testing.T, learnerID, id uuid.UUID) *domain.Course {
	t.Helper()
	ctx := context.Background()
	uow, _ := h.factory.Begin(ctx, learnerID)
	defer uow.Rollback()
	c, err := uow.Courses().Get(ctx, id)
	if err != nil {
		t.Fatalf("Get(course) error = %v", err)
	}
	return c
}

func (h *harness) folders(t *testing.T, learnerID uuid.UUID) []domain.Folder {
	t.Helper()
	ctx := context.Background()
	uow, _ := h.factory.Begin(ctx, learnerID)
	defer uow.Rollback()
	folders, err := uow.Folders().ListByLearner(ctx, learnerID)
	if err != nil {
		t.Fatalf("ListByLearner() error = %v", err)
	}
	return folders
}

func TestToggleLessonCompletion_Scenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 450, 1)
	c := h.seedCourse(t, l.ID, "a", "b", "c")

	steps := []struct {
		unit          string
		wantCompleted bool
		wantXP        int
		wantLevel     int
	}{
		{"a", true, 50, 2},
		{"a", false, 50, 2},
		{"b", true, 150, 2},
	}

	for i, st := range steps {
		res, err := h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, st.unit)
		if err != nil {
			t.Fatalf("step %d: ToggleLessonCompletion(%q) error = %v", i, st.unit, err)
		}
		if res.Completed != st.wantCompleted || res.XP != st.wantXP || res.Level != st.wantLevel {
			t.Errorf("step %d: toggle %q = completed %v xp %d level %d; want %v %d %d",
				i, st.unit, res.Completed, res.XP, res.Level, st.wantCompleted, st.wantXP, st.wantLevel)
		}
	}

	stored := h.learner(t, l.ID)
	if stored.XP != 150 || stored.Level != 2 {
		t.Errorf("stored learner = %d/%d; want 150/2", stored.XP, stored.Level)
	}
	sc := h.course(t, l.ID, c.ID)
	if sc.Progress.Completed("a") || !sc.Progress.Completed("b") {
		t.Errorf("stored progress = %v; want only b", sc.Progress)
	}
	if !sc.Progress["b"].Equal(testNow) {
		t.Errorf("completion instant = %v; want %v", sc.Progress["b"], testNow)
	}
}

func TestToggleLessonCompletion_ResultIsSelfContained(t *testing.T) {
	h := newHarness(t)
	l := h.seedLearner(t, 400, 1)
	c := h.seedCourse(t, l.ID, "a")

	res, err := h.svc.ToggleLessonCompletion(context.Background(), l.ID, c.ID, "a")
	if err != nil {
		t.Fatalf("ToggleLessonCompletion() error = %v", err)
	}
	if len(res.Progress) != 1 || res.Progress[0].UnitID != "a" {
		t.Errorf("Progress = %v; want [a]", res.Progress)
	}
	if res.Awarded != xp.DefaultPerUnit || !res.LevelUp {
		t.Errorf("Awarded = %d LevelUp = %v; want %d true", res.Awarded, res.LevelUp, xp.DefaultPerUnit)
	}
}

func TestToggleLessonCompletion_NoXPOnUncompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 120, 3)
	c := h.seedCourse(t, l.ID, "a")

	first, _ := h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, "a")
	second, _ := h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, "a")

	if second.XP != first.XP || second.Level != first.Level {
		t.Errorf("un-completion changed xp/level: %d/%d -> %d/%d", first.XP, first.Level, second.XP, second.Level)
	}
	if second.Awarded != 0 {
		t.Errorf("Awarded on un-completion = %d; want 0", second.Awarded)
	}
}

func TestToggleLessonCompletion_Unauthorized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.seedLearner(t, 0, 1)
	other := h.seedLearner(t, 0, 1)
	c := h.seedCourse(t, owner.ID, "a")

	_, err := h.svc.ToggleLessonCompletion(ctx, other.ID, c.ID, "a")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("ToggleLessonCompletion() error = %v; want ErrUnauthorized", err)
	}
	if errors.Is(err, domain.ErrNotFound) {
		t.Error("unauthorized must not be reported as not found")
	}

	if sc := h.course(t, owner.ID, c.ID); sc.Progress.Count() != 0 {
		t.Errorf("progress modified by non-owner: %v", sc.Progress)
	}
	if got := h.learner(t, other.ID); got.XP != 0 {
		t.Errorf("non-owner XP = %d; want 0", got.XP)
	}
	if len(h.events.types()) != 0 {
		t.Errorf("events published for rejected mutation: %v", h.events.types())
	}
}

func TestToggleLessonCompletion_NotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)
	c := h.seedCourse(t, l.ID, "a")

	if _, err := h.svc.ToggleLessonCompletion(ctx, l.ID, uuid.New(), "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing course error = %v; want ErrNotFound", err)
	}

	_, err := h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, "zz")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.Resource != domain.ResourceUnit {
		t.Errorf("unknown unit error = %v; want unit NotFoundError", err)
	}
}

func TestToggleLessonCompletion_StaleUnitCanBeUncompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)
	c := h.seedCourse(t, l.ID, "a")

	// A unit removed from the course tree but still in the progress map.
	uow, _ := h.factory.Begin(ctx, l.ID)
	stored, _ := uow.Courses().Get(ctx, c.ID)
	stored.Progress["retired"] = testNow
	_ = uow.Courses().Save(ctx, stored)
	_ = uow.Commit()

	res, err := h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, "retired")
	if err != nil {
		t.Fatalf("ToggleLessonCompletion(retired) error = %v", err)
	}
	if res.Completed || len(res.Progress) != 0 {
		t.Errorf("result = %+v; want un-completed and empty", res)
	}
}

func TestToggleLessonCompletion_ConcurrentDoubleToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)
	c := h.seedCourse(t, l.ID, "a")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, "a"); err != nil {
				t.Errorf("ToggleLessonCompletion() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// Two serialized flips: completed then un-completed, one award.
	if sc := h.course(t, l.ID, c.ID); sc.Progress.Completed("a") {
		t.Error("unit completed after two toggles")
	}
	if got := h.learner(t, l.ID); got.XP != xp.DefaultPerUnit || got.Level != 1 {
		t.Errorf("learner = %d/%d; want %d/1", got.XP, got.Level, xp.DefaultPerUnit)
	}
}

func TestToggleLessonCompletion_ConcurrentDistinctUnits(t *testing.T) {
	h := newHarness(t)
	h.svc.SetLocker(lock.NewKeyedMutex())
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)
	units := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	c := h.seedCourse(t, l.ID, units...)

	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if _, err := h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, u); err != nil {
				t.Errorf("ToggleLessonCompletion(%q) error = %v", u, err)
			}
		}(u)
	}
	wg.Wait()

	got := h.learner(t, l.ID)
	calc := xp.Default()
	if total := calc.TotalXP(got.XP, got.Level); total != len(units)*xp.DefaultPerUnit {
		t.Errorf("total XP = %d; want %d", total, len(units)*xp.DefaultPerUnit)
	}
	if !calc.Consistent(got.XP, got.Level) {
		t.Errorf("learner %d/%d not normalized", got.XP, got.Level)
	}
	if sc := h.course(t, l.ID, c.ID); sc.Progress.Count() != len(units) {
		t.Errorf("completed = %d; want %d", sc.Progress.Count(), len(units))
	}
}

func TestToggleLessonCompletion_Events(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 450, 1)
	c := h.seedCourse(t, l.ID, "a")

	_, _ = h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, "a")
	got := h.events.types()
	want := []string{domain.EventXPAwarded, domain.EventLevelUp, domain.EventUnitCompleted}
	if len(got) != len(want) {
		t.Fatalf("events = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s; want %s", i, got[i], want[i])
		}
	}

	h.events.reset()
	_, _ = h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, "a")
	if got := h.events.types(); len(got) != 1 || got[0] != domain.EventUnitUncompleted {
		t.Errorf("events = %v; want [%s]", got, domain.EventUnitUncompleted)
	}
}

func TestToggleProjectStepCompletion_NoXP(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 450, 1)

	p, err := h.svc.AddProject(ctx, l.ID, AddProjectRequest{
		Topic:   "cli",
		Content: domain.ProjectContent{Steps: []domain.StepContent{{Title: "one"}, {Title: "two"}}},
	})
	if err != nil {
		t.Fatalf("AddProject() error = %v", err)
	}

	res, err := h.svc.ToggleProjectStepCompletion(ctx, l.ID, p.ID, p.Steps[0].ID)
	if err != nil {
		t.Fatalf("ToggleProjectStepCompletion() error = %v", err)
	}
	if !res.Completed || len(res.Progress) != 1 {
		t.Errorf("result = %+v; want completed with one entry", res)
	}
	if got := h.learner(t, l.ID); got.XP != 450 || got.Level != 1 {
		t.Errorf("learner = %d/%d; project steps must not award XP", got.XP, got.Level)
	}

	other := h.seedLearner(t, 0, 1)
	if _, err := h.svc.ToggleProjectStepCompletion(ctx, other.ID, p.ID, p.Steps[0].ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("non-owner error = %v; want ErrUnauthorized", err)
	}
	if _, err := h.svc.ToggleProjectStepCompletion(ctx, l.ID, p.ID, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown step error = %v; want ErrNotFound", err)
	}
}

func TestImportCompletions_MultiLevelAward(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)
	units := make([]string, 13)
	for i := range units {
		units[i] = string(rune('a' + i))
	}
	c := h.seedCourse(t, l.ID, units...)

	// Pre-complete one unit: it must not be counted again.
	if _, err := h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, "a"); err != nil {
		t.Fatalf("ToggleLessonCompletion() error = %v", err)
	}

	input := append([]string{"unknown", "b"}, units...)
	res, err := h.svc.ImportCompletions(ctx, l.ID, c.ID, input)
	if err != nil {
		t.Fatalf("ImportCompletions() error = %v", err)
	}

	if len(res.NewlyCompleted) != 12 {
		t.Errorf("NewlyCompleted = %d; want 12", len(res.NewlyCompleted))
	}
	// unknown, a (already done) and the duplicate b.
	if len(res.Skipped) != 3 {
		t.Errorf("Skipped = %v; want 3 entries", res.Skipped)
	}
	if res.Awarded != 1200 {
		t.Errorf("Awarded = %d; want 1200", res.Awarded)
	}

	// 100 from the toggle plus 1200 in one award: 500 and 1000 thresholds
	// leave (1300-500) = 800 < 1000 at level 2.
	if res.Level != 2 || res.XP != 800 {
		t.Errorf("learner = %d/%d; want 800/2", res.XP, res.Level)
	}
	if !res.LevelUp {
		t.Error("LevelUp = false; want true")
	}
}

func TestImportCompletions_LargeImportCrossesSeveralLevels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)
	units := make([]string, 33)
	for i := range units {
		units[i] = uuid.NewString()
	}
	c := h.seedCourse(t, l.ID, units...)

	res, err := h.svc.ImportCompletions(ctx, l.ID, c.ID, units)
	if err != nil {
		t.Fatalf("ImportCompletions() error = %v", err)
	}
	// 3300 = 500 + 1000 + 1500 + 300
	if res.Level != 4 || res.XP != 300 {
		t.Errorf("learner = %d/%d; want 300/4", res.XP, res.Level)
	}
}

func TestDeleteCourse_Cascade(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)
	c := h.seedCourse(t, l.ID, "a")
	keep := h.seedCourse(t, l.ID, "x")

	f, err := h.svc.CreateFolder(ctx, l.ID, "Backend")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if _, err := h.svc.MoveCourseToFolder(ctx, l.ID, c.ID, &f.ID); err != nil {
		t.Fatalf("MoveCourseToFolder() error = %v", err)
	}
	if _, err := h.svc.MoveCourseToFolder(ctx, l.ID, keep.ID, &f.ID); err != nil {
		t.Fatalf("MoveCourseToFolder() error = %v", err)
	}

	if err := h.svc.DeleteCourse(ctx, l.ID, c.ID); err != nil {
		t.Fatalf("DeleteCourse() error = %v", err)
	}

	state, err := h.svc.GetLearnerState(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetLearnerState() error = %v", err)
	}
	if state.Learner.OwnsCourse(c.ID) {
		t.Error("deleted course still in learner collection")
	}
	if state.Folders[0].Contains(c.ID) {
		t.Error("deleted course still in folder")
	}
	if !state.Folders[0].Contains(keep.ID) {
		t.Error("unrelated course removed from folder")
	}

	if _, err := h.svc.MoveCourseToFolder(ctx, l.ID, c.ID, &f.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("move after delete error = %v; want ErrNotFound", err)
	}
	if err := h.svc.DeleteCourse(ctx, l.ID, c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete error = %v; want ErrNotFound", err)
	}

	report, err := h.svc.CheckConsistency(ctx, l.ID, false)
	if err != nil {
		t.Fatalf("CheckConsistency() error = %v", err)
	}
	if !report.OK() {
		t.Errorf("violations after delete: %v", report.Violations)
	}
}

func TestDeleteCourse_Unauthorized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.seedLearner(t, 0, 1)
	other := h.seedLearner(t, 0, 1)
	c := h.seedCourse(t, owner.ID, "a")

	if err := h.svc.DeleteCourse(ctx, other.ID, c.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("DeleteCourse() error = %v; want ErrUnauthorized", err)
	}
	h.course(t, owner.ID, c.ID)
}

func TestDeleteProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)
	p, _ := h.svc.AddProject(ctx, l.ID, AddProjectRequest{
		Topic:   "api",
		Content: domain.ProjectContent{Steps: []domain.StepContent{{Title: "one"}}},
	})

	if err := h.svc.DeleteProject(ctx, l.ID, p.ID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if got := h.learner(t, l.ID); got.OwnsProject(p.ID) {
		t.Error("project still referenced by learner")
	}
	if _, err := h.svc.ToggleProjectStepCompletion(ctx, l.ID, p.ID, p.Steps[0].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("toggle after delete error = %v; want ErrNotFound", err)
	}
}

func TestMoveCourseToFolder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)
	c := h.seedCourse(t, l.ID, "a")
	a, _ := h.svc.CreateFolder(ctx, l.ID, "A")
	b, _ := h.svc.CreateFolder(ctx, l.ID, "B")

	folders, err := h.svc.MoveCourseToFolder(ctx, l.ID, c.ID, &a.ID)
	if err != nil {
		t.Fatalf("MoveCourseToFolder(A) error = %v", err)
	}
	folders, _ = h.svc.MoveCourseToFolder(ctx, l.ID, c.ID, &b.ID)
	count := 0
	for _, f := range folders {
		if f.Contains(c.ID) {
			count++
			if f.ID != b.ID {
				t.Errorf("course in %s; want %s", f.Name, "B")
			}
		}
	}
	if count != 1 {
		t.Errorf("course in %d folders; want 1", count)
	}

	missing := uuid.New()
	if _, err := h.svc.MoveCourseToFolder(ctx, l.ID, c.ID, &missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("move to missing folder error = %v; want ErrNotFound", err)
	}
	state, _ := h.svc.GetLearnerState(ctx, l.ID)
	if fid := state.Courses[0].FolderID; fid == nil || *fid != b.ID {
		t.Errorf("failed move changed folder to %v; want %v", fid, b.ID)
	}

	other := h.seedLearner(t, 0, 1)
	if _, err := h.svc.MoveCourseToFolder(ctx, other.ID, c.ID, nil); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("non-owner move error = %v; want ErrUnauthorized", err)
	}

	folders, _ = h.svc.MoveCourseToFolder(ctx, l.ID, c.ID, nil)
	for _, f := range folders {
		if f.Contains(c.ID) {
			t.Errorf("course still in folder %s after unfile", f.Name)
		}
	}
}

func TestFolderLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)
	c := h.seedCourse(t, l.ID, "a")

	f, err := h.svc.CreateFolder(ctx, l.ID, "Inbox")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if _, err := h.svc.CreateFolder(ctx, l.ID, "   "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("CreateFolder(blank) error = %v; want ErrInvalidInput", err)
	}

	renamed, err := h.svc.RenameFolder(ctx, l.ID, f.ID, "Archive")
	if err != nil {
		t.Fatalf("RenameFolder() error = %v", err)
	}
	if renamed.Name != "Archive" {
		t.Errorf("Name = %q; want Archive", renamed.Name)
	}
	if _, err := h.svc.RenameFolder(ctx, l.ID, uuid.New(), "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("RenameFolder(missing) error = %v; want ErrNotFound", err)
	}

	_, _ = h.svc.MoveCourseToFolder(ctx, l.ID, c.ID, &f.ID)
	if err := h.svc.DeleteFolder(ctx, l.ID, f.ID); err != nil {
		t.Fatalf("DeleteFolder() error = %v", err)
	}
	if err := h.svc.DeleteFolder(ctx, l.ID, f.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("DeleteFolder(again) error = %v; want ErrNotFound", err)
	}

	// Deleting a folder keeps its courses.
	state, _ := h.svc.GetLearnerState(ctx, l.ID)
	if len(state.Folders) != 0 || len(state.Courses) != 1 || state.Courses[0].FolderID != nil {
		t.Errorf("state = %+v; want no folders and one unfiled course", state)
	}
}

func TestEnsureLearner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := uuid.New()

	l, created, err := h.svc.EnsureLearner(ctx, id, "Ada")
	if err != nil {
		t.Fatalf("EnsureLearner() error = %v", err)
	}
	if !created || l.Level != 1 || l.XP != 0 {
		t.Errorf("EnsureLearner() = %+v created=%v; want new level 1", l, created)
	}

	again, created, err := h.svc.EnsureLearner(ctx, id, "Someone else")
	if err != nil {
		t.Fatalf("EnsureLearner(again) error = %v", err)
	}
	if created || again.Name != "Ada" {
		t.Errorf("EnsureLearner(again) = %+v created=%v; want existing learner", again, created)
	}

	if _, err := h.svc.GetLearnerState(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetLearnerState(unknown) error = %v; want ErrNotFound", err)
	}
	if _, _, err := h.svc.EnsureLearner(ctx, uuid.Nil, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("EnsureLearner(nil id) error = %v; want ErrInvalidInput", err)
	}
}

func TestAddCourse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)

	c, err := h.svc.AddCourse(ctx, l.ID, AddCourseRequest{
		Topic:      " go ",
		Difficulty: domain.DifficultyBeginner,
		Content: domain.CourseContent{Modules: []domain.ModuleContent{
			{Title: "M", Lessons: []domain.LessonContent{{Title: "L1"}, {Title: "L2"}}},
		}},
	})
	if err != nil {
		t.Fatalf("AddCourse() error = %v", err)
	}
	if c.Topic != "go" || c.OwnerID != l.ID || c.Progress.Count() != 0 {
		t.Errorf("course = %+v", c)
	}
	if !h.learner(t, l.ID).OwnsCourse(c.ID) {
		t.Error("course not added to learner collection")
	}

	if _, err := h.svc.AddCourse(ctx, l.ID, AddCourseRequest{Topic: "go"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("AddCourse(empty) error = %v; want ErrInvalidInput", err)
	}
	if _, err := h.svc.AddCourse(ctx, uuid.New(), AddCourseRequest{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("AddCourse(unknown learner) error = %v; want ErrNotFound", err)
	}
}

func TestResetLearner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 0, 1)
	c := h.seedCourse(t, l.ID, "a", "b")
	f, _ := h.svc.CreateFolder(ctx, l.ID, "Keep")
	_, _ = h.svc.MoveCourseToFolder(ctx, l.ID, c.ID, &f.ID)
	_, _ = h.svc.ImportCompletions(ctx, l.ID, c.ID, []string{"a", "b"})

	got, err := h.svc.ResetLearner(ctx, l.ID)
	if err != nil {
		t.Fatalf("ResetLearner() error = %v", err)
	}
	if got.XP != 0 || got.Level != 1 {
		t.Errorf("learner = %d/%d; want 0/1", got.XP, got.Level)
	}
	if sc := h.course(t, l.ID, c.ID); sc.Progress.Count() != 0 {
		t.Errorf("progress = %v; want empty", sc.Progress)
	}

	state, _ := h.svc.GetLearnerState(ctx, l.ID)
	if len(state.Folders) != 1 || !state.Folders[0].Contains(c.ID) {
		t.Errorf("folders = %+v; want kept", state.Folders)
	}

	// Completing again after reset awards again: the progress map is the
	// record of first completions.
	res, _ := h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, "a")
	if res.Awarded != xp.DefaultPerUnit {
		t.Errorf("Awarded after reset = %d; want %d", res.Awarded, xp.DefaultPerUnit)
	}
}

func TestCheckConsistency_Repair(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.seedLearner(t, 1600, 1)
	c := h.seedCourse(t, l.ID, "a")
	ghost := uuid.New()

	// Corrupt the store directly: folder members that are duplicated or not
	// owned, and a learner reference to a course document that is gone.
	uow, _ := h.factory.Begin(ctx, l.ID)
	stored, _ := uow.Learners().Get(ctx, l.ID)
	stored.AddCourse(ghost)
	_ = uow.Learners().Save(ctx, stored)
	_ = uow.Folders().ReplaceAll(ctx, l.ID, []domain.Folder{
		{ID: uuid.New(), Name: "A", CourseIDs: []uuid.UUID{c.ID, uuid.New()}},
		{ID: uuid.New(), Name: "B", CourseIDs: []uuid.UUID{c.ID, ghost}},
	})
	_ = uow.Commit()

	report, err := h.svc.CheckConsistency(ctx, l.ID, false)
	if err != nil {
		t.Fatalf("CheckConsistency() error = %v", err)
	}
	if report.OK() || report.Repaired {
		t.Fatalf("report = %+v; want violations without repair", report)
	}
	if len(report.MissingCourses) != 1 || report.MissingCourses[0] != ghost {
		t.Errorf("MissingCourses = %v; want [%v]", report.MissingCourses, ghost)
	}
	// One unowned member, one duplicate and the missing course.
	if report.FolderRemovals != 3 {
		t.Errorf("dry run FolderRemovals = %d; want 3", report.FolderRemovals)
	}
	if folders := h.folders(t, l.ID); len(folders[0].CourseIDs) != 2 || len(folders[1].CourseIDs) != 2 {
		t.Errorf("dry run changed folders: %+v", folders)
	}

	report, err = h.svc.CheckConsistency(ctx, l.ID, true)
	if err != nil {
		t.Fatalf("CheckConsistency(repair) error = %v", err)
	}
	if !report.Repaired {
		t.Error("Repaired = false; want true")
	}

	fixed := h.learner(t, l.ID)
	if fixed.XP != 100 || fixed.Level != 3 {
		t.Errorf("learner = %d/%d; want 100/3", fixed.XP, fixed.Level)
	}
	if fixed.OwnsCourse(ghost) {
		t.Error("missing course still referenced")
	}

	report, _ = h.svc.CheckConsistency(ctx, l.ID, false)
	if !report.OK() {
		t.Errorf("violations after repair: %v", report.Violations)
	}
}

// failingCommitFactory wraps a factory and fails every Commit.
type failingCommitFactory struct {
	domain.UnitOfWorkFactory
}

type failingCommitUoW struct {
	domain.UnitOfWork
}

func (f failingCommitFactory) Begin(ctx context.Context, id uuid.UUID) (domain.UnitOfWork, error) {
	uow, err := f.UnitOfWorkFactory.Begin(ctx, id)
	if err != nil {
		return nil, err
	}
	return failingCommitUoW{uow}, nil
}

func (u failingCommitUoW) Commit() error {
	_ = u.UnitOfWork.Rollback()
	return errors.New("disk unavailable")
}

func TestDeleteCourse_CommitFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	l := h.seedLearner(t, 0, 1)
	c := h.seedCourse(t, l.ID, "a")

	broken := newHarnessWith(t, failingCommitFactory{h.factory})
	err := broken.svc.DeleteCourse(context.Background(), l.ID, c.ID)
	if !errors.Is(err, domain.ErrTransientStore) {
		t.Fatalf("DeleteCourse() error = %v; want ErrTransientStore", err)
	}
	if !domain.IsRetryable(err) {
		t.Error("commit failure should be retryable")
	}
	if len(broken.events.types()) != 0 {
		t.Errorf("events published after failed commit: %v", broken.events.types())
	}

	// Nothing was applied.
	if !h.learner(t, l.ID).OwnsCourse(c.ID) {
		t.Error("learner lost course despite failed commit")
	}
	h.course(t, l.ID, c.ID)
}

func TestToggle_CancelledContextDoesNotAward(t *testing.T) {
	h := newHarness(t)
	l := h.seedLearner(t, 0, 1)
	c := h.seedCourse(t, l.ID, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.svc.ToggleLessonCompletion(ctx, l.ID, c.ID, "a"); err == nil {
		t.Fatal("ToggleLessonCompletion() with cancelled context succeeded")
	}

	if got := h.learner(t, l.ID); got.XP != 0 {
		t.Errorf("XP = %d; want 0", got.XP)
	}
	if sc := h.course(t, l.ID, c.ID); sc.Progress.Count() != 0 {
		t.Errorf("progress = %v; want empty", sc.Progress)
	}
}
