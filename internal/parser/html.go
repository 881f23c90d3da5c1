package parser

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// skipElements are dropped wholesale when reducing HTML to text. What
// remains is the readable body content.
var skipElements = map[string]bool{
	"script": true, "style": true, "nav": true, "header": true,
	"footer": true, "aside": true, "iframe": true, "noscript": true,
}

// blockElements get a paragraph break after their text.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "br": true, "blockquote": true, "pre": true,
}

// parseHTML reduces a page to its readable text, preserving paragraph
// structure through blank lines.
func parseHTML(data []byte) (*Result, error) {
	text, err := HTMLText(data)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("page contains no text")
	}
	return &Result{Text: text}, nil
}

// HTMLText extracts readable text from an HTML document. It is shared
// with the web fetcher, which reduces downloaded pages the same way.
func HTMLText(data []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteString("\n\n")
		}
	}
	walk(root)

	// Collapse runs of blank lines left by nested block elements.
	lines := strings.Split(b.String(), "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n")), nil
}
