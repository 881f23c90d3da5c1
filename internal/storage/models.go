package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Source lifecycle statuses. Queued, parsing and embedding are the
// in-flight stages; ready and error are terminal.
const (
	StatusQueued    = "queued"
	StatusParsing   = "parsing"
	StatusEmbedding = "embedding"
	StatusReady     = "ready"
	StatusError     = "error"
)

// InFlight reports whether a status is non-terminal.
func InFlight(status string) bool {
	return status != StatusReady && status != StatusError
}

// Notebook is a user's isolated collection of sources and chat history.
type Notebook struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// Source is one ingested document, media file, or URL within a notebook.
// Name is unique within the notebook and serves as the citation key; the
// raw payload is stored alongside but only loaded on demand.
type Source struct {
	NotebookID string
	Name       string
	Kind       string
	Status     string
	Error      string // human-readable failure reason, set with StatusError
	Content    string // full extracted text, empty until ready
	ByteSize   int64
	CreatedAt  time.Time
}

// SegmentRow is a persisted segment of a source's extracted text.
type SegmentRow struct {
	NotebookID string
	SourceName string
	Seq        int
	Text       string
	Locator    string // locator JSON, see internal/segment
}

// Message is one entry in a notebook's append-only chat history.
// Citations holds the citation-map JSON for assistant messages.
type Message struct {
	ID         string
	NotebookID string
	Role       string
	Content    string
	Citations  string
	CreatedAt  time.Time
}

// SeedGreeting is the assistant message a fresh or cleared notebook
// history starts with.
const SeedGreeting = "Hello! Upload a document to get started or ask me anything about your existing sources."

// Stats summarizes stored data for the stats endpoint.
type Stats struct {
	Notebooks    int   `json:"notebooks"`
	Sources      int   `json:"sources"`
	Messages     int   `json:"messages"`
	StorageBytes int64 `json:"storage_bytes"`
}
