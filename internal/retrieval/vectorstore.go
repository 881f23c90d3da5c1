package retrieval

import (
	"context"
	"time"
)

// VectorStore is the interface for vector storage and similarity search
// backends. The current implementation uses SQLite with brute-force
// cosine similarity; an ANN-capable backend can replace it behind the
// same interface once notebooks grow past what a linear scan tolerates.
type VectorStore interface {
	// Insert adds records.
	Insert(ctx context.Context, records []Record) error

	// Search returns the top-K records most similar to vector within
	// the given scope. Records outside the scope are never scanned.
	Search(ctx context.Context, vector []float32, topK int, scope Scope) ([]ScoredRecord, error)

	// DeleteSource removes all records of one source in a notebook and
	// returns how many were removed.
	DeleteSource(ctx context.Context, notebookID, sourceName string) (int, error)

	// DeleteNotebook removes all records of a notebook.
	DeleteNotebook(ctx context.Context, notebookID string) error

	// Count returns the number of records stored for a notebook.
	Count(ctx context.Context, notebookID string) (int, error)
}

// Scope is the hard filter applied before similarity scoring. A record
// is a candidate only if it belongs to the notebook, its source is in
// SourceNames, and it was embedded under EmbeddingModel.
type Scope struct {
	NotebookID     string
	SourceNames    []string
	EmbeddingModel string
}

// Record represents a row in the vector store. Seq and Locator tie the
// record back to the stored segment it was built from.
type Record struct {
	ID             string
	NotebookID     string
	SourceName     string
	Seq            int
	TextChunk      string
	Locator        string
	Embedding      []float32
	EmbeddingModel string
	CreatedAt      time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
