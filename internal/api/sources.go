package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/notebookd/internal/detect"
	"github.com/kalambet/notebookd/internal/storage"
)

type sourcePayload struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Content   string `json:"content,omitempty"`
	ByteSize  int64  `json:"byte_size"`
	CreatedAt string `json:"created_at"`
}

func sourceJSON(src storage.Source) sourcePayload {
	return sourcePayload{
		Name:      src.Name,
		Kind:      src.Kind,
		Status:    src.Status,
		Error:     src.Error,
		Content:   src.Content,
		ByteSize:  src.ByteSize,
		CreatedAt: src.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleUpload accepts a multipart file, stores it queued, and schedules
// ingestion. It returns immediately; clients poll the source list for
// progress.
func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notebookID := chi.URLParam(r, "notebookID")
		if !notebookExists(deps, w, notebookID) {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing file field: %v", err)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}
		if len(data) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "empty file")
			return
		}

		name := filepath.Base(header.Filename)
		if name == "" || name == "." {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing filename")
			return
		}

		kind, err := detect.Detect(name, data)
		if errors.Is(err, detect.ErrUnsupportedFormat) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported format: %s", name)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "detecting format: %v", err)
			return
		}

		enqueueSource(deps, w, storage.Source{
			NotebookID: notebookID,
			Name:       name,
			Kind:       kind,
			CreatedAt:  time.Now().UTC(),
		}, data)
	}
}

// handleUploadURL registers a web source. Whether it resolves to a page
// or to downloadable media is decided by the ingestion pipeline.
func handleUploadURL(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notebookID := chi.URLParam(r, "notebookID")
		if !notebookExists(deps, w, notebookID) {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			URL  string `json:"url"`
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		rawURL := strings.TrimSpace(req.URL)
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid url: %q", rawURL)
			return
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = rawURL
		}

		enqueueSource(deps, w, storage.Source{
			NotebookID: notebookID,
			Name:       name,
			Kind:       detect.KindWeb,
			CreatedAt:  time.Now().UTC(),
		}, []byte(rawURL))
	}
}

// enqueueSource persists the queued source and hands it to the worker.
// Enqueue cancels any in-flight job for the same name, so a re-upload
// supersedes cleanly.
func enqueueSource(deps Deps, w http.ResponseWriter, src storage.Source, raw []byte) {
	if err := deps.Store.CreateSource(src, raw); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "storing source: %v", err)
		return
	}
	deps.Worker.Enqueue(src.NotebookID, src.Name)

	src.Status = storage.StatusQueued
	src.ByteSize = int64(len(raw))
	respondJSON(w, http.StatusAccepted, sourceJSON(src))
}

func handleListSources(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notebookID := chi.URLParam(r, "notebookID")
		if !notebookExists(deps, w, notebookID) {
			return
		}
		sources, err := deps.Store.ListSources(notebookID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing sources: %v", err)
			return
		}
		out := make([]sourcePayload, len(sources))
		for i, src := range sources {
			out[i] = sourceJSON(src)
		}
		respondJSON(w, http.StatusOK, out)
	}
}

func handleGetSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src, err := deps.Store.GetSource(chi.URLParam(r, "notebookID"), chi.URLParam(r, "source"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "source not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading source: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, sourceJSON(src))
	}
}

// handleSourceRaw serves the original payload for client-side rendering,
// PDF pages and audio playback included.
func handleSourceRaw(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := deps.Store.GetSourceRaw(chi.URLParam(r, "notebookID"), chi.URLParam(r, "source"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "source not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading payload: %v", err)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(raw))
		w.Write(raw)
	}
}

// handleDeleteSource removes a source completely. The storage delete is
// one transaction over the metadata row, segments, and vectors, so a
// concurrent retrieval never sees the source again once this returns.
func handleDeleteSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notebookID := chi.URLParam(r, "notebookID")
		name := chi.URLParam(r, "source")

		deps.Worker.Cancel(notebookID, name)

		err := deps.Store.DeleteSource(notebookID, name)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "source not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting source: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func notebookExists(deps Deps, w http.ResponseWriter, id string) bool {
	_, err := deps.Store.GetNotebook(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found_error", "notebook not found")
		return false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading notebook: %v", err)
		return false
	}
	return true
}
