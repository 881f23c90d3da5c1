// Package chat turns retrieved notebook context into grounded, streamed
// answers with trailing citation payloads.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/notebookd/internal/retrieval"
	"github.com/kalambet/notebookd/internal/storage"
)

// CitationDelimiter separates the streamed answer from the citation
// payload. It is reserved: if the model emits it spontaneously, readers
// treat everything after the first occurrence as payload.
const CitationDelimiter = "\n\n---CITATIONS---\n"

// MaxFullContext is the total extracted-text size, in characters, below
// which the selected sources are passed to the model whole instead of
// going through retrieval. Small notebooks answer better with everything
// in view.
const MaxFullContext = 8000

// excerptLimit caps citation excerpts.
const excerptLimit = 300

// fullContextExcerpt stands in for an excerpt when a whole document was
// sent as context; a 300-char slice of the opening would be misleading.
const fullContextExcerpt = "(Full document context used)"

const systemPrompt = `You are a research assistant answering questions about the user's notebook sources.

Rules:
- Answer using ONLY the sources provided below. Do not use outside knowledge.
- Cite every factual claim inline with the bracketed source id, like [1] or [2].
- If the sources do not contain the answer, say so plainly instead of guessing.
- Keep answers concise.`

// Block is one unit of context shown to the model, identified by the
// small integer id the model cites.
type Block struct {
	ID           int
	SourceName   string
	Text         string
	Locator      string
	FullDocument bool
}

// blocksFromChunks assigns stable ids to retrieved chunks in rank order.
func blocksFromChunks(chunks []retrieval.ContextChunk) []Block {
	blocks := make([]Block, len(chunks))
	for i, c := range chunks {
		blocks[i] = Block{
			ID:         i + 1,
			SourceName: c.SourceName,
			Text:       c.Text,
			Locator:    c.Locator,
		}
	}
	return blocks
}

// blocksFromSources wraps whole source contents as context, one block
// per source.
func blocksFromSources(sources []storage.Source) []Block {
	var blocks []Block
	for _, s := range sources {
		if s.Content == "" {
			continue
		}
		blocks = append(blocks, Block{
			ID:           len(blocks) + 1,
			SourceName:   s.Name,
			Text:         s.Content,
			FullDocument: true,
		})
	}
	return blocks
}

// renderContext formats blocks for the system message. The BEGIN/END
// framing keeps the model from bleeding one source into another.
func renderContext(blocks []Block) string {
	var b strings.Builder
	for _, blk := range blocks {
		fmt.Fprintf(&b, "--- BEGIN SOURCE [%d] (%s) ---\n%s\n--- END SOURCE [%d] ---\n\n", blk.ID, blk.SourceName, blk.Text, blk.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// citationEntry is the JSON value of one citation id.
type citationEntry struct {
	Name     string   `json:"name"`
	Excerpts []string `json:"excerpts"`
}

// CitationJSON renders the id to source mapping appended after the
// delimiter: { "<id>": { "name": ..., "excerpts": [...] } }.
func CitationJSON(blocks []Block) string {
	m := make(map[string]citationEntry, len(blocks))
	for _, blk := range blocks {
		ex := excerpt(blk.Text)
		if blk.FullDocument {
			ex = fullContextExcerpt
		}
		m[fmt.Sprintf("%d", blk.ID)] = citationEntry{
			Name:     blk.SourceName,
			Excerpts: []string{ex},
		}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(out)
}

// excerpt truncates text for citation display.
func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptLimit {
		return text
	}
	return string(runes[:excerptLimit]) + "..."
}
