package retrieval

import (
	"context"
	"time"
)

// MaxTopK caps how many chunks one question may pull into context.
const MaxTopK = 10

// balancedSourceLimit is the selection size at or below which retrieval
// runs per source, so a small hand-picked selection always contributes
// chunks from every source instead of letting one dominate.
const balancedSourceLimit = 5

// ContextChunk is a retrieved context fragment with its similarity score.
type ContextChunk struct {
	ID         string
	SourceName string
	Seq        int
	Text       string
	Locator    string
	Score      float32
	CreatedAt  time.Time
}

// Retriever combines embedding and vector search to find the context
// chunks relevant to a question within a notebook.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns the top-K most similar chunks
// drawn only from the allowed sources. An empty selection retrieves
// nothing; it is the caller's explicit "use no sources" state, not a
// request to search everything.
func (r *Retriever) Retrieve(ctx context.Context, notebookID, query string, allowedSources []string, topK int) ([]ContextChunk, error) {
	if len(allowedSources) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > MaxTopK {
		topK = MaxTopK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scope := Scope{
		NotebookID:     notebookID,
		SourceNames:    allowedSources,
		EmbeddingModel: r.embedder.ModelID(),
	}

	if len(allowedSources) <= balancedSourceLimit {
		return r.retrieveBalanced(ctx, vec, topK, scope)
	}

	scored, err := r.store.Search(ctx, vec, topK, scope)
	if err != nil {
		return nil, err
	}
	return scoredToChunks(scored), nil
}

// retrieveBalanced searches each source separately and merges the
// results, so every selected source gets a chance to contribute.
func (r *Retriever) retrieveBalanced(ctx context.Context, vec []float32, topK int, scope Scope) ([]ContextChunk, error) {
	perSource := topK/len(scope.SourceNames) + 1
	if perSource < 3 {
		perSource = 3
	}

	var merged []ScoredRecord
	for _, name := range scope.SourceNames {
		one := scope
		one.SourceNames = []string{name}
		scored, err := r.store.Search(ctx, vec, perSource, one)
		if err != nil {
			return nil, err
		}
		merged = append(merged, scored...)
	}

	sortScored(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return scoredToChunks(merged), nil
}

func scoredToChunks(scored []ScoredRecord) []ContextChunk {
	chunks := make([]ContextChunk, len(scored))
	for i, s := range scored {
		chunks[i] = ContextChunk{
			ID:         s.ID,
			SourceName: s.SourceName,
			Seq:        s.Seq,
			Text:       s.TextChunk,
			Locator:    s.Locator,
			Score:      s.Score,
			CreatedAt:  s.CreatedAt,
		}
	}
	return chunks
}
