package handlers

import (
	"context"
	"net/http"

	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/engine"
)

// FolderHandler handles folder endpoints
type FolderHandler struct {
	engine Engine
	retry  engine.RetryConfig
}

// NewFolderHandler creates a new folder handler
func NewFolderHandler(e Engine, retry engine.RetryConfig) *FolderHandler {
	return &FolderHandler{engine: e, retry: retry}
}

// FolderRequest is the request body for creating or renaming a folder
type FolderRequest struct {
	Name string `json:"name"`
}

// Create adds an empty folder
func (h *FolderHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}

	var req FolderRequest
	if !decode(w, r, &req) {
		return
	}

	f, err := retried(r, h.retry, func(ctx context.Context) (domain.Folder, error) {
		return h.engine.CreateFolder(ctx, id, req.Name)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, f)
}

// Rename changes a folder's name
func (h *FolderHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	folderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req FolderRequest
	if !decode(w, r, &req) {
		return
	}

	f, err := retried(r, h.retry, func(ctx context.Context) (domain.Folder, error) {
		return h.engine.RenameFolder(ctx, id, folderID, req.Name)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, f)
}

// Delete removes a folder; its courses become unfiled
func (h *FolderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := learnerID(w, r)
	if !ok {
		return
	}
	folderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	_, err := retried(r, h.retry, func(ctx context.Context) (unit, error) {
		return unit{}, h.engine.DeleteFolder(ctx, id, folderID)
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
