package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	type resp struct {
		Models []entry `json:"models"`
	}
	r := resp{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestIsRunning_Down(t *testing.T) {
	// Point at a closed server to simulate connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL)
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest", "mistral-nemo:latest", "nomic-embed-text:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}

	if len(models) != 3 {
		t.Fatalf("got %d models, want 3", len(models))
	}

	want := []string{"llama3.2:latest", "mistral-nemo:latest", "nomic-embed-text:latest"}
	for i, w := range want {
		if models[i] != w {
			t.Errorf("models[%d] = %q, want %q", i, models[i], w)
		}
	}
}

func TestHasModel_Present(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest", "mistral-nemo:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.HasModel(context.Background(), "llama3.2") {
		t.Error("HasModel(llama3.2) = false, want true")
	}
}

func TestHasModel_Absent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("mistral-nemo:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if c.HasModel(context.Background(), "llama3.2") {
		t.Error("HasModel(llama3.2) = true, want false")
	}
}

func TestChat_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		resp := chatResponse{
			Message: Message{Role: "assistant", Content: "Go is great!"},
			Done:    true,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.Chat(context.Background(), "llama3.2", []Message{
		{Role: "user", Content: "Tell me about Go"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if result != "Go is great!" {
		t.Errorf("result = %q, want %q", result, "Go is great!")
	}
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var reqBody chatRequest
		json.NewDecoder(r.Body).Decode(&reqBody)
		if !reqBody.Stream {
			t.Error("stream = false, want true")
		}

		enc := json.NewEncoder(w)
		enc.Encode(chatResponse{Message: Message{Role: "assistant", Content: "Hel"}})
		enc.Encode(chatResponse{Message: Message{Role: "assistant", Content: "lo"}})
		enc.Encode(chatResponse{Done: true})
	}))
	defer srv.Close()

	c := New(srv.URL)
	var got strings.Builder
	err := c.ChatStream(context.Background(), "llama3.2", []Message{
		{Role: "user", Content: "hi"},
	}, func(delta string) error {
		got.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if got.String() != "Hello" {
		t.Errorf("streamed content = %q, want %q", got.String(), "Hello")
	}
}

func TestChatStream_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(chatResponse{Message: Message{Role: "assistant", Content: "par"}})
		enc.Encode(chatResponse{Error: "model crashed"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.ChatStream(context.Background(), "llama3.2", nil, func(string) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "model crashed") {
		t.Fatalf("error = %v, want mid-stream error surfaced", err)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		resp := embedResponse{
			Embeddings: [][]float32{{0.1, 0.2, 0.3}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL)
	vec, err := c.Embed(context.Background(), "nomic-embed-text", "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(vec) != 3 {
		t.Fatalf("got %d floats, want 3", len(vec))
	}

	want := []float32{0.1, 0.2, 0.3}
	for i, w := range want {
		if vec[i] != w {
			t.Errorf("vec[%d] = %f, want %f", i, vec[i], w)
		}
	}
}

func TestPullModel_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}

		// Verify request body.
		var reqBody pullRequest
		json.NewDecoder(r.Body).Decode(&reqBody)
		if reqBody.Name != "llama3.2" {
			t.Errorf("pull model = %q, want %q", reqBody.Name, "llama3.2")
		}

		// Stream progress lines as newline-delimited JSON.
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	var progressCount int
	err := c.PullModel(context.Background(), "llama3.2", func(p PullProgress) {
		progressCount++
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}

	if progressCount != 3 {
		t.Errorf("received %d progress updates, want 3", progressCount)
	}
}

func TestEnsureReady_OllamaDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL)
	err := EnsureReady(context.Background(), c, "llama3.2", "nomic-embed-text", io.Discard)
	if err == nil {
		t.Fatal("expected error when Ollama is down")
	}

	want := "Ollama is not running"
	if got := err.Error(); !strings.Contains(got, want) {
		t.Errorf("error = %q, want it to contain %q", got, want)
	}
}
