// Package fetch downloads remote content for ingestion: web pages over
// HTTP and audio streams through yt-dlp and ffmpeg.
package fetch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kalambet/notebookd/internal/parser"
)

// maxPageSize caps downloaded page bodies at 5MB.
const maxPageSize = 5 << 20

var githubBlobRe = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/blob/(.+)$`)

// WebFetcher downloads pages and reduces them to readable text.
type WebFetcher struct {
	client *resty.Client
}

// NewWebFetcher builds a fetcher with browser-like headers. Some sites
// refuse default Go user agents outright.
func NewWebFetcher() *WebFetcher {
	client := resty.New().
		SetTimeout(30*time.Second).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:132.0) Gecko/20100101 Firefox/132.0").
		SetHeader("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	return &WebFetcher{client: client}
}

// Page holds a downloaded page reduced to text.
type Page struct {
	URL   string
	Title string
	Text  string
}

// FetchPage downloads a URL and returns its readable text. GitHub file
// pages are rewritten to their raw form so the file body is fetched
// instead of the surrounding UI.
func (f *WebFetcher) FetchPage(ctx context.Context, url string) (*Page, error) {
	url = rewriteRawURL(url)

	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode())
	}

	body := resp.Body()
	if len(body) > maxPageSize {
		body = body[:maxPageSize]
	}

	contentType := resp.Header().Get("Content-Type")
	if strings.Contains(contentType, "html") || looksLikeHTML(body) {
		text, err := parser.HTMLText(body)
		if err != nil {
			return nil, fmt.Errorf("reducing %s: %w", url, err)
		}
		if text == "" {
			return nil, fmt.Errorf("page %s has no readable text", url)
		}
		return &Page{URL: url, Title: htmlTitle(body), Text: text}, nil
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil, fmt.Errorf("page %s is empty", url)
	}
	return &Page{URL: url, Text: text}, nil
}

func rewriteRawURL(url string) string {
	if m := githubBlobRe.FindStringSubmatch(url); m != nil {
		return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s", m[1], m[2], m[3])
	}
	return url
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func htmlTitle(body []byte) string {
	if m := titleRe.FindSubmatch(body); m != nil {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}
