package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/courseforge/internal/queue"
)

// ImportResults looks up finished import jobs.
type ImportResults interface {
	Result(jobID uuid.UUID) (*queue.ImportResult, bool)
}

// ImportHandler reports the outcome of queued imports
type ImportHandler struct {
	results ImportResults
}

// NewImportHandler creates a new import status handler
func NewImportHandler(results ImportResults) *ImportHandler {
	return &ImportHandler{results: results}
}

// Get returns the result of an import job. Jobs that are still running, or
// that belong to another learner, are reported as not found.
func (h *ImportHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	result, found := h.results.Result(jobID)
	if !found || result.LearnerID != id {
		NotFound(w, r, "import")
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
