// Package api exposes the notebook service over HTTP: notebook CRUD,
// source upload and polling, raw payload access, and the streaming chat
// endpoint with its trailing citation payload.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/notebookd/internal/chat"
	"github.com/kalambet/notebookd/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB, JSON bodies
	maxUploadSize      = 50 << 20 // 50MB, file payloads
)

// Ingestor schedules background ingestion jobs. Satisfied by
// ingest.Worker.
type Ingestor interface {
	Enqueue(notebookID, name string)
	Cancel(notebookID, name string)
}

// ChatStreamer runs one grounded generation. Satisfied by chat.Streamer.
type ChatStreamer interface {
	Stream(ctx context.Context, notebookID, question string, selected []storage.Source, history []storage.Message, emit func(delta string) error) (*chat.Result, error)
}

// Deps carries the handlers' dependencies.
type Deps struct {
	Store    *storage.Store
	Worker   Ingestor
	Streamer ChatStreamer
	Logger   *slog.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Get("/stats", handleStats(deps))

	r.Route("/notebooks", func(r chi.Router) {
		r.Post("/", handleCreateNotebook(deps))
		r.Get("/", handleListNotebooks(deps))

		r.Route("/{notebookID}", func(r chi.Router) {
			r.Get("/", handleGetNotebook(deps))
			r.Put("/rename", handleRenameNotebook(deps))
			r.Delete("/", handleDeleteNotebook(deps))

			r.Post("/upload", handleUpload(deps))
			r.Post("/upload/url", handleUploadURL(deps))
			r.Get("/sources", handleListSources(deps))
			r.Get("/sources/{source}", handleGetSource(deps))
			r.Get("/sources/{source}/raw", handleSourceRaw(deps))
			r.Delete("/sources/{source}", handleDeleteSource(deps))

			r.Post("/chat", handleChat(deps))
			r.Get("/messages", handleListMessages(deps))
			r.Put("/messages", handleClearMessages(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Store.GetStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading stats: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, st)
	}
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
