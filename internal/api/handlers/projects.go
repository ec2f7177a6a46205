package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/engine"
	"github.com/felixgeelhaar/courseforge/internal/generator"
)

var errTopicRequired = fmt.Errorf("%w: topic is required", domain.ErrInvalidInput)

// ProjectHandler handles project endpoints
type ProjectHandler struct {
	engine    Engine
	generator generator.Generator
	retry     engine.RetryConfig
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(e Engine, gen generator.Generator, retry engine.RetryConfig) *ProjectHandler {
	return &ProjectHandler{engine: e, generator: gen, retry: retry}
}

// Create generates a project for the topic and adds it to the learner's library
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
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

	content, err := h.generator.GenerateProject(r.Context(), topic, difficulty)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	project, err := retried(r, h.retry, func(ctx context.Context) (*domain.Project, error) {
		return h.engine.AddProject(ctx, id, engine.AddProjectRequest{
			Topic:      topic,
			Difficulty: difficulty,
			Content:    content,
		})
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, project)
}

// Delete removes a project
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	_, err := retried(r, h.retry, func(ctx context.Context) (unit, error) {
		return unit{}, h.engine.DeleteProject(ctx, id, projectID)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleStep flips one project step's completion
func (h *ProjectHandler) ToggleStep(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	stepID := r.PathValue("step")

	result, err := retried(r, h.retry, func(ctx context.Context) (*engine.StepResult, error) {
		return h.engine.ToggleProjectStepCompletion(ctx, id, projectID, stepID)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
