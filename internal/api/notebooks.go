package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/notebookd/internal/storage"
)

type notebookPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

func notebookJSON(nb storage.Notebook) notebookPayload {
	return notebookPayload{
		ID:        nb.ID,
		Title:     nb.Title,
		CreatedAt: nb.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func handleCreateNotebook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = "Untitled notebook"
		}

		nb := storage.Notebook{
			ID:        uuid.New().String(),
			Title:     title,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateNotebook(nb); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating notebook: %v", err)
			return
		}
		respondJSON(w, http.StatusCreated, notebookJSON(nb))
	}
}

func handleListNotebooks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notebooks, err := deps.Store.ListNotebooks()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing notebooks: %v", err)
			return
		}
		out := make([]notebookPayload, len(notebooks))
		for i, nb := range notebooks {
			out[i] = notebookJSON(nb)
		}
		respondJSON(w, http.StatusOK, out)
	}
}

func handleGetNotebook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nb, err := deps.Store.GetNotebook(chi.URLParam(r, "notebookID"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "notebook not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading notebook: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, notebookJSON(nb))
	}
}

func handleRenameNotebook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		title := strings.TrimSpace(req.Title)
		if title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title must not be empty")
			return
		}

		id := chi.URLParam(r, "notebookID")
		err := deps.Store.RenameNotebook(id, title)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "notebook not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "renaming notebook: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"id": id, "title": title})
	}
}

func handleDeleteNotebook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "notebookID")

		// Stop any in-flight ingestion for this notebook before the rows go.
		sources, err := deps.Store.ListSources(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing sources: %v", err)
			return
		}
		for _, src := range sources {
			if storage.InFlight(src.Status) {
				deps.Worker.Cancel(id, src.Name)
			}
		}

		err = deps.Store.DeleteNotebook(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "notebook not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting notebook: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
