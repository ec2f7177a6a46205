package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/engine"
	"github.com/felixgeelhaar/courseforge/internal/generator"
)

// Engine is the part of the mutation engine the tools call.
type Engine interface {
	EnsureLearner(ctx context.Context, learnerID uuid.UUID, name string) (*domain.Learner, bool, error)
	GetLearnerState(ctx context.Context, learnerID uuid.UUID) (*engine.LearnerState, error)
	AddCourse(ctx context.Context, learnerID uuid.UUID, req engine.AddCourseRequest) (*domain.Course, error)
	ToggleLessonCompletion(ctx context.Context, learnerID, courseID uuid.UUID, unitID string) (*engine.ToggleResult, error)
	ToggleProjectStepCompletion(ctx context.Context, learnerID, projectID uuid.UUID, stepID string) (*engine.StepResult, error)
	MoveCourseToFolder(ctx context.Context, learnerID, courseID uuid.UUID, target *uuid.UUID) ([]domain.Folder, error)
}

// Server wraps the MCP server with courseforge functionality. A server acts
// for exactly one learner.
type Server struct {
	mcpServer   *server.Server
	engine      Engine
	generator   generator.Generator
	learnerID   uuid.UUID
	learnerName string
	retry       engine.RetryConfig
}

// Config contains configuration for the MCP server
type Config struct {
	Engine      Engine
	Generator   generator.Generator
	LearnerID   uuid.UUID
	LearnerName string
	Retry       engine.RetryConfig
	Version     string
}

// NewServer creates a new MCP server for courseforge
func NewServer(cfg Config) *Server {
	s := &Server{
		engine:      cfg.Engine,
		generator:   cfg.Generator,
		learnerID:   cfg.LearnerID,
		learnerName: cfg.LearnerName,
		retry:       cfg.Retry,
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "courseforge",
		Version: version,
	}, server.WithInstructions(`
Courseforge tracks progress through generated courses and projects.

Available tools:
- courseforge_status: Show level, XP, courses, projects and folders
- courseforge_create_course: Generate a course for a topic
- courseforge_toggle_lesson: Mark a lesson complete or incomplete
- courseforge_toggle_step: Mark a project step complete or incomplete
- courseforge_move_course: Move a course into a folder, or out of all folders

Completing a lesson for the first time awards XP. Un-completing never takes XP away.
`))

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("courseforge_status").
		Description("Get the learner's level, XP, courses, projects and folders.").
		Handler(s.handleStatus)

	s.mcpServer.Tool("courseforge_create_course").
		Description("Generate a course for a topic and add it to the library.").
		Handler(s.handleCreateCourse)

	s.mcpServer.Tool("courseforge_toggle_lesson").
		Description("Toggle a lesson's completion. First-time completion awards XP.").
		Handler(s.handleToggleLesson)

	s.mcpServer.Tool("courseforge_toggle_step").
		Description("Toggle a project step's completion. Steps do not award XP.").
		Handler(s.handleToggleStep)

	s.mcpServer.Tool("courseforge_move_course").
		Description("Move a course into a folder. Omit folder_id to remove it from every folder.").
		Handler(s.handleMoveCourse)
}

// Input/Output types for tools

type StatusInput struct {
	Brief bool `json:"brief,omitempty" jsonschema:"description=Only report level and XP"`
}

type StatusOutput struct {
	Level      int             `json:"level"`
	XP         int             `json:"xp"`
	RequiredXP int             `json:"required_xp"`
	TotalXP    int             `json:"total_xp"`
	Courses    []CourseStatus  `json:"courses"`
	Projects   []ProjectStatus `json:"projects"`
	Folders    []FolderStatus  `json:"folders"`
}

type CourseStatus struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed int    `json:"completed"`
	Units     int    `json:"units"`
	FolderID  string `json:"folder_id,omitempty"`
}

type ProjectStatus struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed int    `json:"completed"`
	Steps     int    `json:"steps"`
}

type FolderStatus struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Courses int    `json:"courses"`
}

type CreateCourseInput struct {
	Topic      string `json:"topic" jsonschema:"description=What the course should teach"`
	Difficulty string `json:"difficulty,omitempty" jsonschema:"description=Course difficulty,enum=beginner,enum=intermediate,enum=advanced"`
}

type CreateCourseOutput struct {
	CourseID string         `json:"course_id"`
	Title    string         `json:"title"`
	Lessons  []LessonOutput `json:"lessons"`
}

type LessonOutput struct {
	ID     string `json:"id"`
	Module string `json:"module"`
	Title  string `json:"title"`
}

type ToggleLessonInput struct {
	CourseID string `json:"course_id" jsonschema:"description=Course ID"`
	LessonID string `json:"lesson_id" jsonschema:"description=Lesson ID within the course"`
}

type ToggleLessonOutput struct {
	Completed bool   `json:"completed"`
	XP        int    `json:"xp"`
	Level     int    `json:"level"`
	Awarded   int    `json:"xp_awarded"`
	LevelUp   bool   `json:"level_up"`
	Message   string `json:"message"`
}

type ToggleStepInput struct {
	ProjectID string `json:"project_id" jsonschema:"description=Project ID"`
	StepID    string `json:"step_id" jsonschema:"description=Step ID within the project"`
}

type ToggleStepOutput struct {
	Completed bool `json:"completed"`
	Done      int  `json:"done"`
}

type MoveCourseInput struct {
	CourseID string `json:"course_id" jsonschema:"description=Course ID"`
	FolderID string `json:"folder_id,omitempty" jsonschema:"description=Target folder ID; empty removes the course from every folder"`
}

type MoveCourseOutput struct {
	Folders []FolderStatus `json:"folders"`
}

// Tool handlers

func (s *Server) handleStatus(ctx context.Context, input StatusInput) (StatusOutput, error) {
	if _, err := engine.Retry(ctx, s.retry, func(ctx context.Context) (*domain.Learner, error) {
		l, _, err := s.engine.EnsureLearner(ctx, s.learnerID, s.learnerName)
		return l, err
	}); err != nil {
		return StatusOutput{}, toolError("load learner", err)
	}

	state, err := engine.Retry(ctx, s.retry, func(ctx context.Context) (*engine.LearnerState, error) {
		return s.engine.GetLearnerState(ctx, s.learnerID)
	})
	if err != nil {
		return StatusOutput{}, toolError("load state", err)
	}

	out := StatusOutput{
		Level:      state.Learner.Level,
		XP:         state.Learner.XP,
		RequiredXP: state.RequiredXP,
		TotalXP:    state.TotalXP,
		Courses:    make([]CourseStatus, 0, len(state.Courses)),
		Projects:   make([]ProjectStatus, 0, len(state.Projects)),
		Folders:    folderStatuses(state.Folders),
	}
	if input.Brief {
		return out, nil
	}
	for _, c := range state.Courses {
		cs := CourseStatus{ID: c.ID.String(), Title: c.Title, Completed: len(c.Progress), Units: c.Units}
		if c.FolderID != nil {
			cs.FolderID = c.FolderID.String()
		}
		out.Courses = append(out.Courses, cs)
	}
	for _, p := range state.Projects {
		out.Projects = append(out.Projects, ProjectStatus{ID: p.ID.String(), Title: p.Title, Completed: len(p.Progress), Steps: p.Steps})
	}
	return out, nil
}

func (s *Server) handleCreateCourse(ctx context.Context, input CreateCourseInput) (CreateCourseOutput, error) {
	topic := strings.TrimSpace(input.Topic)
	if topic == "" {
		return CreateCourseOutput{}, fmt.Errorf("topic is required")
	}
	difficulty, err := domain.ParseDifficulty(input.Difficulty)
	if err != nil {
		return CreateCourseOutput{}, err
	}
	if s.generator == nil {
		return CreateCourseOutput{}, fmt.Errorf("no content generator configured")
	}

	if _, err := engine.Retry(ctx, s.retry, func(ctx context.Context) (*domain.Learner, error) {
		l, _, err := s.engine.EnsureLearner(ctx, s.learnerID, s.learnerName)
		return l, err
	}); err != nil {
		return CreateCourseOutput{}, toolError("load learner", err)
	}

	content, err := s.generator.GenerateCourse(ctx, topic, difficulty)
	if err != nil {
		return CreateCourseOutput{}, toolError("generate course", err)
	}

	course, err := engine.Retry(ctx, s.retry, func(ctx context.Context) (*domain.Course, error) {
		return s.engine.AddCourse(ctx, s.learnerID, engine.AddCourseRequest{Topic: topic, Difficulty: difficulty, Content: content})
	})
	if err != nil {
		return CreateCourseOutput{}, toolError("add course", err)
	}

	out := CreateCourseOutput{CourseID: course.ID.String(), Title: course.Title}
	for _, m := range course.Modules {
		for _, l := range m.Lessons {
			out.Lessons = append(out.Lessons, LessonOutput{ID: l.ID, Module: m.Title, Title: l.Title})
		}
	}
	return out, nil
}

func (s *Server) handleToggleLesson(ctx context.Context, input ToggleLessonInput) (ToggleLessonOutput, error) {
	courseID, err := uuid.Parse(input.CourseID)
	if err != nil {
		return ToggleLessonOutput{}, fmt.Errorf("invalid course_id: %w", err)
	}

	res, err := engine.Retry(ctx, s.retry, func(ctx context.Context) (*engine.ToggleResult, error) {
		return s.engine.ToggleLessonCompletion(ctx, s.learnerID, courseID, input.LessonID)
	})
	if err != nil {
		return ToggleLessonOutput{}, toolError("toggle lesson", err)
	}

	out := ToggleLessonOutput{
		Completed: res.Completed,
		XP:        res.XP,
		Level:     res.Level,
		Awarded:   res.Awarded,
		LevelUp:   res.LevelUp,
	}
	switch {
	case res.LevelUp:
		out.Message = fmt.Sprintf("Lesson complete, +%d XP. Level up: now level %d.", res.Awarded, res.Level)
	case res.Completed:
		out.Message = fmt.Sprintf("Lesson complete, +%d XP.", res.Awarded)
	default:
		out.Message = "Lesson marked incomplete."
	}
	return out, nil
}

func (s *Server) handleToggleStep(ctx context.Context, input ToggleStepInput) (ToggleStepOutput, error) {
	projectID, err := uuid.Parse(input.ProjectID)
	if err != nil {
		return ToggleStepOutput{}, fmt.Errorf("invalid project_id: %w", err)
	}

	res, err := engine.Retry(ctx, s.retry, func(ctx context.Context) (*engine.StepResult, error) {
		return s.engine.ToggleProjectStepCompletion(ctx, s.learnerID, projectID, input.StepID)
	})
	if err != nil {
		return ToggleStepOutput{}, toolError("toggle step", err)
	}
	return ToggleStepOutput{Completed: res.Completed, Done: len(res.Progress)}, nil
}

func (s *Server) handleMoveCourse(ctx context.Context, input MoveCourseInput) (MoveCourseOutput, error) {
	courseID, err := uuid.Parse(input.CourseID)
	if err != nil {
		return MoveCourseOutput{}, fmt.Errorf("invalid course_id: %w", err)
	}
	var target *uuid.UUID
	if input.FolderID != "" {
		id, err := uuid.Parse(input.FolderID)
		if err != nil {
			return MoveCourseOutput{}, fmt.Errorf("invalid folder_id: %w", err)
		}
		target = &id
	}

	folders, err := engine.Retry(ctx, s.retry, func(ctx context.Context) ([]domain.Folder, error) {
		return s.engine.MoveCourseToFolder(ctx, s.learnerID, courseID, target)
	})
	if err != nil {
		return MoveCourseOutput{}, toolError("move course", err)
	}
	return MoveCourseOutput{Folders: folderStatuses(folders)}, nil
}

func folderStatuses(folders []domain.Folder) []FolderStatus {
	out := make([]FolderStatus, 0, len(folders))
	for _, f := range folders {
		out = append(out, FolderStatus{ID: f.ID.String(), Name: f.Name, Courses: len(f.CourseIDs)})
	}
	return out
}

// toolError keeps the error chain and adds a short hint for the common cases.
func toolError(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("%s: %w (check the id with courseforge_status)", op, err)
	case errors.Is(err, domain.ErrTransientStore), errors.Is(err, domain.ErrConflict):
		return fmt.Errorf("%s: %w (temporary, try again)", op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
