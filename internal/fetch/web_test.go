package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchPageHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Test Page</title></head>
<body><nav>menu</nav><p>Readable content.</p></body></html>`))
	}))
	defer srv.Close()

	page, err := NewWebFetcher().FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if page.Title != "Test Page" {
		t.Errorf("Title = %q", page.Title)
	}
	if !strings.Contains(page.Text, "Readable content.") {
		t.Errorf("Text = %q", page.Text)
	}
	if strings.Contains(page.Text, "menu") {
		t.Errorf("Text = %q, want nav stripped", page.Text)
	}
}

func TestFetchPagePlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("raw file body"))
	}))
	defer srv.Close()

	page, err := NewWebFetcher().FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if page.Text != "raw file body" {
		t.Errorf("Text = %q", page.Text)
	}
}

func TestFetchPageErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := NewWebFetcher().FetchPage(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestRewriteRawURL(t *testing.T) {
	got := rewriteRawURL("https://github.com/acme/tool/blob/main/pkg/run.go")
	want := "https://raw.githubusercontent.com/acme/tool/main/pkg/run.go"
	if got != want {
		t.Errorf("rewriteRawURL() = %q, want %q", got, want)
	}
	plain := "https://example.com/blob/x"
	if got := rewriteRawURL(plain); got != plain {
		t.Errorf("rewriteRawURL() rewrote non-github URL to %q", got)
	}
}
