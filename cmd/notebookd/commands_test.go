package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/notebookd/internal/chat"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	ContentType string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			ContentType: r.Header.Get("Content-Type"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestPostFile_Multipart(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /notebooks/nb1/upload": `{"name":"notes.txt","kind":"text","status":"queued"}`,
	})

	resp, err := ts.client().postFile(ctx, "/notebooks/nb1/upload", "/tmp/notes.txt", []byte("Hello world."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var src map[string]string
	if err := decodeJSON(resp, &src); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if src["status"] != "queued" {
		t.Errorf("status = %q, want queued", src["status"])
	}

	r := ts.requests[0]
	if !strings.HasPrefix(r.ContentType, "multipart/form-data") {
		t.Errorf("Content-Type = %q, want multipart", r.ContentType)
	}
	if !strings.Contains(r.Body, `filename="notes.txt"`) {
		t.Errorf("body missing filename part:\n%s", r.Body)
	}
	if !strings.Contains(r.Body, "Hello world.") {
		t.Error("body missing file content")
	}
}

func TestDecodeJSON_ServerError(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/notebooks/missing")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var out map[string]any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention the status code", err)
	}
}

func TestResolveSelection_FlagOverride(t *testing.T) {
	got, err := resolveSelection(ctx, nil, "nb1", " a.txt, b.pdf ,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "a.txt" || got[1] != "b.pdf" {
		t.Errorf("selection = %v", got)
	}
}

func TestResolveSelection_DefaultsToReady(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /notebooks/nb1/sources": `[
			{"name":"ready.txt","status":"ready"},
			{"name":"broken.pdf","status":"error"},
			{"name":"pending.mp3","status":"parsing"}
		]`,
	})

	got, err := resolveSelection(ctx, ts.client(), "nb1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "ready.txt" {
		t.Errorf("selection = %v, want only the ready source", got)
	}
}

func TestRenderStream(t *testing.T) {
	body := "The sky is blue [1]." + chat.CitationDelimiter +
		`{"1":{"name":"doc.txt","excerpts":["sky is blue"]}}`

	var out bytes.Buffer
	citations, err := renderStream(&out, strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.TrimRight(out.String(), "\n"); got != "The sky is blue [1]." {
		t.Errorf("rendered = %q", got)
	}
	if citations == nil || citations["1"].Name != "doc.txt" {
		t.Errorf("citations = %v", citations)
	}
}

func TestRenderStream_NoCitations(t *testing.T) {
	var out bytes.Buffer
	citations, err := renderStream(&out, strings.NewReader("plain answer"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if citations != nil {
		t.Errorf("citations = %v, want nil", citations)
	}
	if !strings.Contains(out.String(), "plain answer") {
		t.Errorf("rendered = %q", out.String())
	}
}

func TestPrintCitations_NumericOrder(t *testing.T) {
	citations := chat.CitationMap{
		"10": {Name: "last.txt", Excerpts: []string{"z"}},
		"2":  {Name: "second.txt", Excerpts: []string{"y"}},
		"1":  {Name: "first.txt", Excerpts: []string{"x"}},
	}

	var out bytes.Buffer
	printCitations(&out, citations)

	s := out.String()
	first := strings.Index(s, "first.txt")
	second := strings.Index(s, "second.txt")
	last := strings.Index(s, "last.txt")
	if first < 0 || second < 0 || last < 0 {
		t.Fatalf("missing entries:\n%s", s)
	}
	if !(first < second && second < last) {
		t.Errorf("citations out of order:\n%s", s)
	}
}

func TestPrintCitations_Empty(t *testing.T) {
	var out bytes.Buffer
	printCitations(&out, nil)
	if out.Len() != 0 {
		t.Errorf("output = %q, want nothing for empty map", out.String())
	}
}
