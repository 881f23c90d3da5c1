package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/notebookd/internal/storage"
)

const apologyMessage = "I'm sorry, I ran into a problem answering that. Please try again."

type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	SelectedSources []string `json:"selected_sources"`
}

// handleChat streams a grounded answer as text/plain: answer tokens as
// they arrive, then the citation delimiter and payload. The user question
// and the assistant answer both land in the notebook's history, the
// answer even when the stream is cut short.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notebookID := chi.URLParam(r, "notebookID")
		if !notebookExists(deps, w, notebookID) {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		question := lastUserMessage(req)
		if question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no user message in request")
			return
		}

		// Refuse before any generation work when nothing is selected.
		if len(req.SelectedSources) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no sources selected")
			return
		}

		selected, err := selectReadySources(deps, notebookID, req.SelectedSources)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing sources: %v", err)
			return
		}
		if len(selected) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "none of the selected sources are ready")
			return
		}

		history, err := deps.Store.ListMessages(notebookID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading history: %v", err)
			return
		}

		if err := deps.Store.AppendMessage(storage.Message{
			ID:         uuid.New().String(),
			NotebookID: notebookID,
			Role:       "user",
			Content:    question,
		}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recording message: %v", err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")

		wrote := false
		emit := func(delta string) error {
			if _, err := w.Write([]byte(delta)); err != nil {
				return err
			}
			wrote = true
			flusher.Flush()
			return nil
		}

		res, err := deps.Streamer.Stream(r.Context(), notebookID, question, selected, history, emit)
		if err != nil && res == nil {
			// Nothing streamed yet. Degrade to an apology instead of
			// surfacing a raw error into the conversation.
			deps.Logger.Warn("chat failed", "notebook", notebookID, "error", err)
			if !wrote {
				w.Write([]byte(apologyMessage))
			}
			appendAssistant(deps, notebookID, apologyMessage, "")
			return
		}
		if err != nil {
			deps.Logger.Warn("chat stream interrupted", "notebook", notebookID, "error", err)
		}

		appendAssistant(deps, notebookID, res.Answer, res.CitationsJSON)
	}
}

func appendAssistant(deps Deps, notebookID, content, citations string) {
	err := deps.Store.AppendMessage(storage.Message{
		ID:         uuid.New().String(),
		NotebookID: notebookID,
		Role:       "assistant",
		Content:    content,
		Citations:  citations,
	})
	if err != nil {
		deps.Logger.Error("recording assistant message", "notebook", notebookID, "error", err)
	}
}

// lastUserMessage extracts the question: the content of the final
// user-role message in the request.
func lastUserMessage(req chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return strings.TrimSpace(req.Messages[i].Content)
		}
	}
	return ""
}

// selectReadySources resolves the selection to ready source rows; names
// that do not exist or are still processing are skipped.
func selectReadySources(deps Deps, notebookID string, names []string) ([]storage.Source, error) {
	all, err := deps.Store.ListSources(notebookID)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var selected []storage.Source
	for _, src := range all {
		if wanted[src.Name] && src.Status == storage.StatusReady {
			selected = append(selected, src)
		}
	}
	return selected, nil
}

type messagePayload struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Citations json.RawMessage `json:"citations,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notebookID := chi.URLParam(r, "notebookID")
		if !notebookExists(deps, w, notebookID) {
			return
		}
		msgs, err := deps.Store.ListMessages(notebookID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing messages: %v", err)
			return
		}
		out := make([]messagePayload, len(msgs))
		for i, m := range msgs {
			p := messagePayload{
				ID:        m.ID,
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
			}
			if json.Valid([]byte(m.Citations)) {
				p.Citations = json.RawMessage(m.Citations)
			}
			out[i] = p
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// handleClearMessages resets the history to the seed greeting.
func handleClearMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notebookID := chi.URLParam(r, "notebookID")
		if !notebookExists(deps, w, notebookID) {
			return
		}
		if err := deps.Store.ClearMessages(notebookID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "clearing messages: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}
