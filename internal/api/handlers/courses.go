package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/engine"
	"github.com/felixgeelhaar/courseforge/internal/generator"
	"github.com/felixgeelhaar/courseforge/internal/queue"
)

// ImportQueue accepts bulk import jobs for asynchronous processing.
type ImportQueue interface {
	PublishImportJob(ctx context.Context, job *queue.ImportJob) error
}

// CourseHandler handles course endpoints
type CourseHandler struct {
	engine    Engine
	generator generator.Generator
	imports   ImportQueue // Optional: async imports
	retry     engine.RetryConfig
}

// NewCourseHandler creates a new course handler
func NewCourseHandler(e Engine, gen generator.Generator, retry engine.RetryConfig) *CourseHandler {
	return &CourseHandler{engine: e, generator: gen, retry: retry}
}

// SetImportQueue enables asynchronous imports
func (h *CourseHandler) SetImportQueue(q ImportQueue) {
	h.imports = q
}

// GenerateRequest is the request body for creating a course or project
type GenerateRequest struct {
	Topic      string `json:"topic"`
	Difficulty string `json:"difficulty"`
}

func (req GenerateRequest) validate() (string, domain.Difficulty, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return "", "", errTopicRequired
	}
	difficulty, err := domain.ParseDifficulty(req.Difficulty)
	if err != nil {
		return "", "", err
	}
	return topic, difficulty, nil
}

// Create generates a course for the topic and adds it to the learner's library
func (h *CourseHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}

	var req GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	topic, difficulty, err := req.validate()
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	content, err := h.generator.GenerateCourse(r.Context(), topic, difficulty)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	course, err := retried(r, h.retry, func(ctx context.Context) (*domain.Course, error) {
		return h.engine.AddCourse(ctx, id, engine.AddCourseRequest{
			Topic:      topic,
			Difficulty: difficulty,
			Content:    content,
		})
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, course)
}

// Delete removes a course with its folder memberships
func (h *CourseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	courseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	_, err := retried(r, h.retry, func(ctx context.Context) (unit, error) {
		return unit{}, h.engine.DeleteCourse(ctx, id, courseID)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleLesson flips one lesson's completion
func (h *CourseHandler) ToggleLesson(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	courseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	unitID := r.PathValue("unit")

	result, err := retried(r, h.retry, func(ctx context.Context) (*engine.ToggleResult, error) {
		return h.engine.ToggleLessonCompletion(ctx, id, courseID, unitID)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// ImportRequest is the request body for a bulk completion import
type ImportRequest struct {
	UnitIDs []string `json:"unit_ids"`
	Async   bool     `json:"async"`
}

// ImportAccepted is returned for queued imports
type ImportAccepted struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

// Import marks many lessons complete at once. With "async": true and a
// queue configured, the job is queued and 202 is returned.
func (h *CourseHandler) Import(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	courseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req ImportRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.UnitIDs) == 0 {
		BadRequest(w, r, "unit_ids is required")
		return
	}

	if req.Async {
		if h.imports == nil {
			WriteError(w, r, http.StatusServiceUnavailable, NewAPIError("UNAVAILABLE", "asynchronous imports are not enabled"))
			return
		}
		job := queue.NewImportJob(id, courseID, req.UnitIDs)
		if err := h.imports.PublishImportJob(r.Context(), job); err != nil {
			WriteError(w, r, http.StatusServiceUnavailable,
				NewAPIError("UNAVAILABLE", "could not queue import").WithCause(err))
			return
		}
		w.Header().Set("Location", "/api/v1/imports/"+job.ID.String())
		WriteJSON(w, http.StatusAccepted, ImportAccepted{JobID: job.ID, Status: "queued"})
		return
	}

	result, err := retried(r, h.retry, func(ctx context.Context) (*engine.ImportResult, error) {
		return h.engine.ImportCompletions(ctx, id, courseID, req.UnitIDs)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// MoveRequest is the request body for moving a course between folders. A
// null folder_id moves the course out of every folder.
type MoveRequest struct {
	FolderID *uuid.UUID `json:"folder_id"`
}

// Move places a course into a folder, or into none
func (h *CourseHandler) Move(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	courseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req MoveRequest
	if !decode(w, r, &req) {
		return
	}

	folders, err := retried(r, h.retry, func(ctx context.Context) ([]domain.Folder, error) {
		return h.engine.MoveCourseToFolder(ctx, id, courseID, req.FolderID)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"folders": folders})
}
