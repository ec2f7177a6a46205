package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/engine"
	"github.com/felixgeelhaar/courseforge/internal/generator"
	"github.com/felixgeelhaar/courseforge/internal/storage/local"
	"github.com/felixgeelhaar/courseforge/internal/xp"
)

func setupTestServer(t *testing.T) (*Server, *engine.Service) {
	t.Helper()

	store, err := local.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	svc := engine.NewService(local.NewUnitOfWorkFactory(store), xp.Default())
	svc.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	s := NewServer(Config{
		Engine:      svc,
		Generator:   generator.NewStatic(),
		LearnerID:   uuid.New(),
		LearnerName: "tester",
		Retry:       engine.DefaultRetryConfig(),
		Version:     "test",
	})
	return s, svc
}

func createCourse(t *testing.T, s *Server) CreateCourseOutput {
	t.Helper()
	out, err := s.handleCreateCourse(context.Background(), CreateCourseInput{Topic: "Go channels"})
	if err != nil {
		t.Fatalf("handleCreateCourse() error = %v", err)
	}
	return out
}

func TestNewServer(t *testing.T) {
	s, _ := setupTestServer(t)

	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.GetMCPServer() == nil {
		t.Error("GetMCPServer() = nil")
	}
}

func TestNewServer_NilDeps(t *testing.T) {
	s := NewServer(Config{})
	if s.GetMCPServer() == nil {
		t.Error("GetMCPServer() = nil")
	}
}

func TestHandleStatus_CreatesLearner(t *testing.T) {
	s, svc := setupTestServer(t)

	out, err := s.handleStatus(context.Background(), StatusInput{})
	if err != nil {
		t.Fatalf("handleStatus() error = %v", err)
	}
	if out.Level != 1 || out.XP != 0 {
		t.Errorf("level/xp = %d/%d; want 1/0", out.Level, out.XP)
	}
	if out.RequiredXP != 500 {
		t.Errorf("RequiredXP = %d; want 500", out.RequiredXP)
	}
	if len(out.Courses) != 0 {
		t.Errorf("len(Courses) = %d; want 0", len(out.Courses))
	}

	if _, err := svc.GetLearnerState(context.Background(), s.learnerID); err != nil {
		t.Errorf("learner not persisted: %v", err)
	}
}

func TestHandleCreateCourse(t *testing.T) {
	s, _ := setupTestServer(t)

	out := createCourse(t, s)
	if out.CourseID == "" {
		t.Fatal("CourseID is empty")
	}
	if len(out.Lessons) != 9 {
		t.Errorf("len(Lessons) = %d; want 9", len(out.Lessons))
	}

	status, err := s.handleStatus(context.Background(), StatusInput{})
	if err != nil {
		t.Fatalf("handleStatus() error = %v", err)
	}
	if len(status.Courses) != 1 || status.Courses[0].Units != 9 {
		t.Errorf("Courses = %+v; want one course with 9 units", status.Courses)
	}

	brief, err := s.handleStatus(context.Background(), StatusInput{Brief: true})
	if err != nil {
		t.Fatalf("handleStatus(brief) error = %v", err)
	}
	if len(brief.Courses) != 0 {
		t.Errorf("brief Courses = %d; want 0", len(brief.Courses))
	}
}

func TestHandleCreateCourse_Validation(t *testing.T) {
	s, _ := setupTestServer(t)

	tests := []struct {
		name  string
		input CreateCourseInput
	}{
		{"empty topic", CreateCourseInput{Topic: "  "}},
		{"bad difficulty", CreateCourseInput{Topic: "Go", Difficulty: "expert"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.handleCreateCourse(context.Background(), tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandleCreateCourse_NoGenerator(t *testing.T) {
	s, _ := setupTestServer(t)
	s.generator = nil

	if _, err := s.handleCreateCourse(context.Background(), CreateCourseInput{Topic: "Go"}); err == nil {
		t.Error("expected error without a generator")
	}
}

func TestHandleToggleLesson(t *testing.T) {
	s, _ := setupTestServer(t)
	course := createCourse(t, s)
	lesson := course.Lessons[0].ID
	ctx := context.Background()

	on, err := s.handleToggleLesson(ctx, ToggleLessonInput{CourseID: course.CourseID, LessonID: lesson})
	if err != nil {
		t.Fatalf("toggle on error = %v", err)
	}
	if !on.Completed || on.Awarded != 100 || on.XP != 100 {
		t.Errorf("toggle on = %+v; want completed with 100 XP awarded", on)
	}
	if on.Message == "" {
		t.Error("Message is empty")
	}

	off, err := s.handleToggleLesson(ctx, ToggleLessonInput{CourseID: course.CourseID, LessonID: lesson})
	if err != nil {
		t.Fatalf("toggle off error = %v", err)
	}
	if off.Completed || off.XP != 100 || off.Awarded != 0 {
		t.Errorf("toggle off = %+v; want incomplete with XP kept at 100", off)
	}

	status, err := s.handleStatus(ctx, StatusInput{Brief: true})
	if err != nil {
		t.Fatalf("handleStatus() error = %v", err)
	}
	if status.TotalXP != 100 {
		t.Errorf("TotalXP = %d; want 100", status.TotalXP)
	}
}

func TestHandleToggleLesson_Errors(t *testing.T) {
	s, _ := setupTestServer(t)
	course := createCourse(t, s)

	tests := []struct {
		name     string
		input    ToggleLessonInput
		notFound bool
	}{
		{"invalid course id", ToggleLessonInput{CourseID: "nope", LessonID: "x"}, false},
		{"unknown course", ToggleLessonInput{CourseID: uuid.NewString(), LessonID: "x"}, true},
		{"unknown lesson", ToggleLessonInput{CourseID: course.CourseID, LessonID: "missing"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleToggleLesson(context.Background(), tt.input)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, domain.ErrNotFound); got != tt.notFound {
				t.Errorf("errors.Is(err, ErrNotFound) = %v; want %v (err = %v)", got, tt.notFound, err)
			}
		})
	}
}

func TestHandleToggleStep(t *testing.T) {
	s, svc := setupTestServer(t)
	ctx := context.Background()
	if _, err := s.handleStatus(ctx, StatusInput{}); err != nil {
		t.Fatalf("handleStatus() error = %v", err)
	}

	content, err := generator.NewStatic().GenerateProject(ctx, "CLI", domain.DifficultyBeginner)
	if err != nil {
		t.Fatalf("GenerateProject() error = %v", err)
	}
	project, err := svc.AddProject(ctx, s.learnerID, engine.AddProjectRequest{Topic: "CLI", Difficulty: domain.DifficultyBeginner, Content: content})
	if err != nil {
		t.Fatalf("AddProject() error = %v", err)
	}

	out, err := s.handleToggleStep(ctx, ToggleStepInput{ProjectID: project.ID.String(), StepID: project.Steps[0].ID})
	if err != nil {
		t.Fatalf("handleToggleStep() error = %v", err)
	}
	if !out.Completed || out.Done != 1 {
		t.Errorf("toggle step = %+v; want completed with 1 done", out)
	}

	status, err := s.handleStatus(ctx, StatusInput{})
	if err != nil {
		t.Fatalf("handleStatus() error = %v", err)
	}
	if status.XP != 0 {
		t.Errorf("XP = %d; want 0 after a step toggle", status.XP)
	}
}

func TestHandleMoveCourse(t *testing.T) {
	s, svc := setupTestServer(t)
	ctx := context.Background()
	course := createCourse(t, s)

	folder, err := svc.CreateFolder(ctx, s.learnerID, "Backend")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	out, err := s.handleMoveCourse(ctx, MoveCourseInput{CourseID: course.CourseID, FolderID: folder.ID.String()})
	if err != nil {
		t.Fatalf("move into folder error = %v", err)
	}
	if len(out.Folders) != 1 || out.Folders[0].Courses != 1 {
		t.Errorf("Folders = %+v; want one folder holding one course", out.Folders)
	}

	out, err = s.handleMoveCourse(ctx, MoveCourseInput{CourseID: course.CourseID})
	if err != nil {
		t.Fatalf("move out error = %v", err)
	}
	if out.Folders[0].Courses != 0 {
		t.Errorf("Courses = %d; want 0 after removal", out.Folders[0].Courses)
	}

	if _, err := s.handleMoveCourse(ctx, MoveCourseInput{CourseID: course.CourseID, FolderID: uuid.NewString()}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("move to unknown folder error = %v; want ErrNotFound", err)
	}
	if _, err := s.handleMoveCourse(ctx, MoveCourseInput{CourseID: course.CourseID, FolderID: "bad"}); err == nil {
		t.Error("expected error for invalid folder_id")
	}
}

func TestToolError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", domain.ErrNotFound},
		{"transient", domain.ErrTransientStore},
		{"other", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toolError("op", tt.err)
			if !errors.Is(got, tt.err) {
				t.Errorf("toolError() = %v; want it to wrap %v", got, tt.err)
			}
		})
	}
}
