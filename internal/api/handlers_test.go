package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/notebookd/internal/chat"
	"github.com/kalambet/notebookd/internal/storage"
)

type fakeWorker struct {
	enqueued  []string
	cancelled []string
}

func (f *fakeWorker) Enqueue(notebookID, name string) {
	f.enqueued = append(f.enqueued, notebookID+"/"+name)
}

func (f *fakeWorker) Cancel(notebookID, name string) {
	f.cancelled = append(f.cancelled, notebookID+"/"+name)
}

type fakeStreamer struct {
	deltas   []string
	res      *chat.Result
	err      error
	calls    int
	selected []storage.Source
}

func (f *fakeStreamer) Stream(_ context.Context, _, _ string, selected []storage.Source, _ []storage.Message, emit func(string) error) (*chat.Result, error) {
	f.calls++
	f.selected = selected
	for _, d := range f.deltas {
		if err := emit(d); err != nil {
			return f.res, err
		}
	}
	return f.res, f.err
}

type testAPI struct {
	store    *storage.Store
	worker   *fakeWorker
	streamer *fakeStreamer
	handler  http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	worker := &fakeWorker{}
	streamer := &fakeStreamer{res: &chat.Result{}}
	return &testAPI{
		store:    store,
		worker:   worker,
		streamer: streamer,
		handler:  NewRouter(Deps{Store: store, Worker: worker, Streamer: streamer}),
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) createNotebook(t *testing.T, title string) string {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/notebooks", map[string]string{"title": title})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create notebook: status = %d, body = %s", rr.Code, rr.Body)
	}
	var nb notebookPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &nb); err != nil {
		t.Fatalf("decoding notebook: %v", err)
	}
	return nb.ID
}

func (a *testAPI) upload(t *testing.T, notebookID, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/notebooks/"+notebookID+"/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rr := a.do(t, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestNotebookLifecycle(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "Research")

	rr := a.do(t, http.MethodGet, "/notebooks/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rr.Code)
	}
	var notebooks []notebookPayload
	json.Unmarshal(rr.Body.Bytes(), &notebooks)
	if len(notebooks) != 1 || notebooks[0].Title != "Research" {
		t.Fatalf("notebooks = %+v", notebooks)
	}

	// Fresh notebooks greet the user.
	rr = a.do(t, http.MethodGet, "/notebooks/"+id+"/messages", nil)
	var msgs []messagePayload
	json.Unmarshal(rr.Body.Bytes(), &msgs)
	if len(msgs) != 1 || msgs[0].Role != "assistant" {
		t.Fatalf("messages = %+v", msgs)
	}

	rr = a.do(t, http.MethodPut, "/notebooks/"+id+"/rename", map[string]string{"title": "Renamed"})
	if rr.Code != http.StatusOK {
		t.Fatalf("rename: status = %d, body = %s", rr.Code, rr.Body)
	}

	rr = a.do(t, http.MethodDelete, "/notebooks/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rr.Code)
	}
	rr = a.do(t, http.MethodGet, "/notebooks/"+id, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status = %d", rr.Code)
	}
}

func TestRenameNotebook_EmptyTitle(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	rr := a.do(t, http.MethodPut, "/notebooks/"+id+"/rename", map[string]string{"title": "  "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestUpload_AcceptedAndEnqueued(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")

	rr := a.upload(t, id, "notes.txt", []byte("Hello world."))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	var src sourcePayload
	json.Unmarshal(rr.Body.Bytes(), &src)
	if src.Name != "notes.txt" || src.Status != storage.StatusQueued {
		t.Fatalf("source = %+v", src)
	}

	if len(a.worker.enqueued) != 1 || a.worker.enqueued[0] != id+"/notes.txt" {
		t.Fatalf("enqueued = %v", a.worker.enqueued)
	}

	// Polling reflects the stored row and has no side effects.
	for i := 0; i < 3; i++ {
		rr = a.do(t, http.MethodGet, "/notebooks/"+id+"/sources", nil)
		var sources []sourcePayload
		json.Unmarshal(rr.Body.Bytes(), &sources)
		if len(sources) != 1 || sources[0].Status != storage.StatusQueued {
			t.Fatalf("sources = %+v", sources)
		}
	}
	if len(a.worker.enqueued) != 1 {
		t.Fatalf("polling enqueued extra jobs: %v", a.worker.enqueued)
	}
}

func TestUpload_UnsupportedFormat(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	rr := a.upload(t, id, "archive.tar.zst", []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00, 0x00})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if len(a.worker.enqueued) != 0 {
		t.Fatalf("unsupported upload was enqueued: %v", a.worker.enqueued)
	}
}

func TestUpload_UnknownNotebook(t *testing.T) {
	a := newTestAPI(t)
	rr := a.upload(t, "missing", "notes.txt", []byte("hi"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestUploadURL(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")

	rr := a.do(t, http.MethodPost, "/notebooks/"+id+"/upload/url",
		map[string]string{"url": "https://example.com/article"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	var src sourcePayload
	json.Unmarshal(rr.Body.Bytes(), &src)
	if src.Kind != "web" || src.Name != "https://example.com/article" {
		t.Fatalf("source = %+v", src)
	}

	raw, err := a.store.GetSourceRaw(id, src.Name)
	if err != nil || string(raw) != "https://example.com/article" {
		t.Fatalf("raw = %q, err = %v", raw, err)
	}
}

func TestUploadURL_Invalid(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	for _, bad := range []string{"", "not a url", "ftp://example.com/x"} {
		rr := a.do(t, http.MethodPost, "/notebooks/"+id+"/upload/url", map[string]string{"url": bad})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("url %q: status = %d", bad, rr.Code)
		}
	}
}

func TestSourceRaw(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	a.upload(t, id, "doc.pdf", []byte("%PDF-1.4 fake"))

	rr := a.do(t, http.MethodGet, "/notebooks/"+id+"/sources/doc.pdf/raw", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "pdf") {
		t.Errorf("Content-Type = %q", ct)
	}
	if rr.Body.String() != "%PDF-1.4 fake" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestDeleteSource(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	a.upload(t, id, "notes.txt", []byte("Hello world."))

	rr := a.do(t, http.MethodDelete, "/notebooks/"+id+"/sources/notes.txt", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if len(a.worker.cancelled) != 1 {
		t.Errorf("cancelled = %v, want the in-flight job cancelled", a.worker.cancelled)
	}

	rr = a.do(t, http.MethodDelete, "/notebooks/"+id+"/sources/notes.txt", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d", rr.Code)
	}
}

func readySource(t *testing.T, a *testAPI, notebookID, name, content string) {
	t.Helper()
	err := a.store.CreateSource(storage.Source{NotebookID: notebookID, Name: name, Kind: "text"}, []byte(content))
	if err != nil {
		t.Fatalf("creating source: %v", err)
	}
	if err := a.store.SetSourceReady(notebookID, name, "text", content); err != nil {
		t.Fatalf("readying source: %v", err)
	}
}

func chatBody(question string, sources ...string) map[string]any {
	return map[string]any{
		"messages":         []map[string]string{{"role": "user", "content": question}},
		"selected_sources": sources,
	}
}

func TestChat_NoSelectionRejected(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	readySource(t, a, id, "notes.txt", "Hello world.")

	rr := a.do(t, http.MethodPost, "/notebooks/"+id+"/chat", chatBody("what does it say?"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if a.streamer.calls != 0 {
		t.Errorf("generation invoked %d times for empty selection", a.streamer.calls)
	}
}

func TestChat_StreamsAnswerWithCitations(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	readySource(t, a, id, "doc.txt", "The sky is blue.")

	citations := `{"1":{"name":"doc.txt","excerpts":["The sky is blue."]}}`
	a.streamer.deltas = []string{"The sky is blue [1].", chat.CitationDelimiter + citations}
	a.streamer.res = &chat.Result{Answer: "The sky is blue [1].", CitationsJSON: citations}

	rr := a.do(t, http.MethodPost, "/notebooks/"+id+"/chat", chatBody("what color is the sky?", "doc.txt"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}

	answer, parsed := chat.Split(rr.Body.String())
	if answer != "The sky is blue [1]." {
		t.Errorf("answer = %q", answer)
	}
	if parsed == nil || parsed["1"].Name != "doc.txt" {
		t.Errorf("citations = %v", parsed)
	}

	if len(a.streamer.selected) != 1 || a.streamer.selected[0].Name != "doc.txt" {
		t.Fatalf("selected = %+v", a.streamer.selected)
	}

	// Seed greeting, the question, the answer.
	msgs, err := a.store.ListMessages(id)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("history has %d messages, want 3", len(msgs))
	}
	last := msgs[2]
	if last.Role != "assistant" || last.Content != "The sky is blue [1]." || last.Citations != citations {
		t.Errorf("assistant message = %+v", last)
	}
}

func TestChat_SelectionIsHardFilter(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	readySource(t, a, id, "a.txt", "Alpha.")
	readySource(t, a, id, "b.txt", "Beta.")

	a.do(t, http.MethodPost, "/notebooks/"+id+"/chat", chatBody("q", "b.txt"))
	if len(a.streamer.selected) != 1 || a.streamer.selected[0].Name != "b.txt" {
		t.Fatalf("selected = %+v, want only b.txt", a.streamer.selected)
	}
}

func TestChat_NotReadySourcesRejected(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	a.upload(t, id, "pending.txt", []byte("still processing"))

	rr := a.do(t, http.MethodPost, "/notebooks/"+id+"/chat", chatBody("q", "pending.txt"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if a.streamer.calls != 0 {
		t.Errorf("generation invoked for a source that is not ready")
	}
}

func TestChat_InterruptedRecordsPartialAnswer(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	readySource(t, a, id, "doc.txt", "content")

	a.streamer.deltas = []string{"Partial "}
	a.streamer.res = &chat.Result{Answer: "Partial ", Interrupted: true}
	a.streamer.err = fmt.Errorf("generation interrupted: connection reset")

	rr := a.do(t, http.MethodPost, "/notebooks/"+id+"/chat", chatBody("q", "doc.txt"))
	if !strings.Contains(rr.Body.String(), "Partial ") {
		t.Errorf("body = %q", rr.Body.String())
	}

	msgs, _ := a.store.ListMessages(id)
	last := msgs[len(msgs)-1]
	if last.Role != "assistant" || last.Content != "Partial " {
		t.Errorf("assistant message = %+v", last)
	}
	if last.Citations != "" {
		t.Errorf("citations = %q, want none after an interrupted stream", last.Citations)
	}
}

func TestChat_FailureDegradesToApology(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	readySource(t, a, id, "doc.txt", "content")

	a.streamer.res = nil
	a.streamer.err = fmt.Errorf("embedding provider unreachable")

	rr := a.do(t, http.MethodPost, "/notebooks/"+id+"/chat", chatBody("q", "doc.txt"))
	if !strings.Contains(rr.Body.String(), apologyMessage) {
		t.Errorf("body = %q, want apology", rr.Body.String())
	}

	msgs, _ := a.store.ListMessages(id)
	last := msgs[len(msgs)-1]
	if last.Role != "assistant" || last.Content != apologyMessage {
		t.Errorf("assistant message = %+v", last)
	}
}

func TestClearMessages(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	a.store.AppendMessage(storage.Message{ID: "m1", NotebookID: id, Role: "user", Content: "hi"})

	rr := a.do(t, http.MethodPut, "/notebooks/"+id+"/messages", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	msgs, _ := a.store.ListMessages(id)
	if len(msgs) != 1 || msgs[0].Content != storage.SeedGreeting {
		t.Fatalf("messages after clear = %+v", msgs)
	}
}

func TestStats(t *testing.T) {
	a := newTestAPI(t)
	id := a.createNotebook(t, "nb")
	a.upload(t, id, "notes.txt", []byte("Hello world."))

	rr := a.do(t, http.MethodGet, "/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var st storage.Stats
	json.Unmarshal(rr.Body.Bytes(), &st)
	if st.Notebooks != 1 || st.Sources != 1 || st.StorageBytes != int64(len("Hello world.")) {
		t.Fatalf("stats = %+v", st)
	}
}
