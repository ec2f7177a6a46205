package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/engine"
)

// LearnerHandler handles the /me endpoints
type LearnerHandler struct {
	engine Engine
	retry  engine.RetryConfig
}

// NewLearnerHandler creates a new learner handler
func NewLearnerHandler(e Engine, retry engine.RetryConfig) *LearnerHandler {
	return &LearnerHandler{engine: e, retry: retry}
}

// EnsureLearnerRequest is the request body for first sign-in
type EnsureLearnerRequest struct {
	Name string `json:"name"`
}

// Ensure creates the learner on first sign-in and returns it. It answers
// 201 when the learner was created and 200 when it already existed.
func (h *LearnerHandler) Ensure(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}

	var req EnsureLearnerRequest
	if !decode(w, r, &req) {
		return
	}

	type ensured struct {
		learner *domain.Learner
		created bool
	}
	out, err := retried(r, h.retry, func(ctx context.Context) (ensured, error) {
		l, created, err := h.engine.EnsureLearner(ctx, id, req.Name)
		return ensured{l, created}, err
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if out.created {
		status = http.StatusCreated
		slog.Info("learner created", "learner_id", id.String())
	}
	WriteJSON(w, status, out.learner)
}

// Get returns the learner state snapshot
func (h *LearnerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}

	state, err := retried(r, h.retry, func(ctx context.Context) (*engine.LearnerState, error) {
		return h.engine.GetLearnerState(ctx, id)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// Reset zeroes xp and level and clears every progress map
func (h *LearnerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}

	learner, err := retried(r, h.retry, func(ctx context.Context) (*domain.Learner, error) {
		return h.engine.ResetLearner(ctx, id)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, learner)
}

// Consistency reports invariant violations, repairing them when
// ?repair=true is given.
func (h *LearnerHandler) Consistency(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}

	repair := false
	if raw := r.URL.Query().Get("repair"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			BadRequest(w, r, "repair must be a boolean")
			return
		}
		repair = b
	}

	report, err := retried(r, h.retry, func(ctx context.Context) (*engine.ConsistencyReport, error) {
		return h.engine.CheckConsistency(ctx, id, repair)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
