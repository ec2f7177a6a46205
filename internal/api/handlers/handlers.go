// Package handlers implements the HTTP endpoints over the mutation engine.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/api/middleware"
	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/engine"
)

// Engine is the subset of *engine.Service the handlers call.
type Engine interface {
	EnsureLearner(ctx context.Context, learnerID uuid.UUID, name string) (*domain.Learner, bool, error)
	GetLearnerState(ctx context.Context, learnerID uuid.UUID) (*engine.LearnerState, error)
	ResetLearner(ctx context.Context, learnerID uuid.UUID) (*domain.Learner, error)
	CheckConsistency(ctx context.Context, learnerID uuid.UUID, repair bool) (*engine.ConsistencyReport, error)

	AddCourse(ctx context.Context, learnerID uuid.UUID, req engine.AddCourseRequest) (*domain.Course, error)
	AddProject(ctx context.Context, learnerID uuid.UUID, req engine.AddProjectRequest) (*domain.Project, error)
	DeleteCourse(ctx context.Context, learnerID, courseID uuid.UUID) error
	DeleteProject(ctx context.Context, learnerID, projectID uuid.UUID) error

	ToggleLessonCompletion(ctx context.Context, learnerID, courseID uuid.UUID, unitID string) (*engine.ToggleResult, error)
	ToggleProjectStepCompletion(ctx context.Context, learnerID, projectID uuid.UUID, stepID string) (*engine.StepResult, error)
	ImportCompletions(ctx context.Context, learnerID, courseID uuid.UUID, unitIDs []string) (*engine.ImportResult, error)

	MoveCourseToFolder(ctx context.Context, learnerID, courseID uuid.UUID, target *uuid.UUID) ([]domain.Folder, error)
	CreateFolder(ctx context.Context, learnerID uuid.UUID, name string) (domain.Folder, error)
	RenameFolder(ctx context.Context, learnerID, folderID uuid.UUID, name string) (domain.Folder, error)
	DeleteFolder(ctx context.Context, learnerID, folderID uuid.UUID) error
}

var _ Engine = (*engine.Service)(nil)

// learnerID returns the authenticated learner, writing 401 when absent.
func learnerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.GetLearnerID(r.Context())
	if !ok {
		Unauthorized(w, r, "authentication required")
	}
	return id, ok
}

// pathID parses a uuid path value, writing 400 when malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		BadRequest(w, r, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body into v, writing 400 on failure. An empty body
// leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, r, "invalid request body")
		return false
	}
	return true
}

// retried runs a mutation with the bounded transient retry policy.
func retried[T any](r *http.Request, cfg engine.RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	return engine.Retry(r.Context(), cfg, fn)
}

// unit is the result type for mutations that return nothing.
type unit struct{}
