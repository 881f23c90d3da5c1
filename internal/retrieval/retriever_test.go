package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// mockVectorStore implements VectorStore for testing.
type mockVectorStore struct {
	searchFn       func(ctx context.Context, vector []float32, topK int, scope Scope) ([]ScoredRecord, error)
	insertFn       func(ctx context.Context, records []Record) error
	deleteSourceFn func(ctx context.Context, notebookID, sourceName string) (int, error)
}

func (m *mockVectorStore) Search(ctx context.Context, vector []float32, topK int, scope Scope) ([]ScoredRecord, error) {
	return m.searchFn(ctx, vector, topK, scope)
}
func (m *mockVectorStore) Insert(ctx context.Context, records []Record) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, records)
	}
	return nil
}
func (m *mockVectorStore) DeleteSource(ctx context.Context, notebookID, sourceName string) (int, error) {
	if m.deleteSourceFn != nil {
		return m.deleteSourceFn(ctx, notebookID, sourceName)
	}
	return 0, nil
}
func (m *mockVectorStore) DeleteNotebook(ctx context.Context, notebookID string) error {
	return nil
}
func (m *mockVectorStore) Count(ctx context.Context, notebookID string) (int, error) {
	return 0, nil
}

func scoredRecord(id, source string, seq int, score float32) ScoredRecord {
	return ScoredRecord{
		Record: Record{
			ID: id, NotebookID: "nb1", SourceName: source, Seq: seq,
			TextChunk: "text of " + id, Locator: `{"type":"offset"}`,
			EmbeddingModel: "mock/nomic-embed-text", CreatedAt: time.Now().UTC(),
		},
		Score: score,
	}
}

func newTestRetriever(embedFn func(ctx context.Context, model, text string) ([]float32, error), store VectorStore) *Retriever {
	mock := &mockProvider{embedFn: embedFn}
	return NewRetriever(NewEmbedder(embedSettings(mock)), store)
}

func okEmbed(_ context.Context, _ string, _ string) ([]float32, error) {
	return makeVector(768), nil
}

func TestRetrieve_EmptySelection(t *testing.T) {
	store := &mockVectorStore{
		searchFn: func(_ context.Context, _ []float32, _ int, _ Scope) ([]ScoredRecord, error) {
			t.Fatal("search should not run for an empty selection")
			return nil, nil
		},
	}
	r := newTestRetriever(func(_ context.Context, _ string, _ string) ([]float32, error) {
		t.Fatal("embed should not run for an empty selection")
		return nil, nil
	}, store)

	chunks, err := r.Retrieve(context.Background(), "nb1", "query", nil, 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if chunks != nil {
		t.Errorf("got %d chunks, want none", len(chunks))
	}
}

func TestRetrieve_BalancedAcrossSmallSelection(t *testing.T) {
	var scopes []Scope
	store := &mockVectorStore{
		searchFn: func(_ context.Context, _ []float32, topK int, scope Scope) ([]ScoredRecord, error) {
			scopes = append(scopes, scope)
			if topK < 3 {
				t.Errorf("per-source topK = %d, want at least 3", topK)
			}
			name := scope.SourceNames[0]
			return []ScoredRecord{
				scoredRecord(name+"-1", name, 0, 0.9),
				scoredRecord(name+"-2", name, 1, 0.5),
			}, nil
		},
	}
	r := newTestRetriever(okEmbed, store)

	chunks, err := r.Retrieve(context.Background(), "nb1", "query", []string{"a.txt", "b.txt"}, 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if len(scopes) != 2 {
		t.Fatalf("search ran %d times, want once per source", len(scopes))
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want merged results capped at 3", len(chunks))
	}
	// Highest scores first regardless of which source produced them.
	if chunks[0].Score != 0.9 || chunks[1].Score != 0.9 {
		t.Errorf("top scores = %f, %f", chunks[0].Score, chunks[1].Score)
	}
	seen := map[string]bool{}
	for _, c := range chunks {
		seen[c.SourceName] = true
	}
	if !seen["a.txt"] || !seen["b.txt"] {
		t.Errorf("chunks drawn from %v, want both sources represented", seen)
	}
}

func TestRetrieve_LargeSelectionSingleSearch(t *testing.T) {
	searchCalls := 0
	store := &mockVectorStore{
		searchFn: func(_ context.Context, _ []float32, topK int, scope Scope) ([]ScoredRecord, error) {
			searchCalls++
			if len(scope.SourceNames) != 6 {
				t.Errorf("scope has %d sources, want all 6", len(scope.SourceNames))
			}
			if scope.EmbeddingModel != "mock/nomic-embed-text" {
				t.Errorf("scope model = %q", scope.EmbeddingModel)
			}
			return []ScoredRecord{scoredRecord("r1", "s0", 0, 0.8)}, nil
		},
	}
	r := newTestRetriever(okEmbed, store)

	sources := make([]string, 6)
	for i := range sources {
		sources[i] = fmt.Sprintf("s%d", i)
	}
	chunks, err := r.Retrieve(context.Background(), "nb1", "query", sources, 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if searchCalls != 1 {
		t.Errorf("search ran %d times, want one scoped search", searchCalls)
	}
	if len(chunks) != 1 || chunks[0].ID != "r1" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestRetrieve_TopKCapped(t *testing.T) {
	store := &mockVectorStore{
		searchFn: func(_ context.Context, _ []float32, topK int, _ Scope) ([]ScoredRecord, error) {
			if topK > MaxTopK {
				t.Errorf("topK = %d, want capped at %d", topK, MaxTopK)
			}
			return nil, nil
		},
	}
	r := newTestRetriever(okEmbed, store)

	sources := make([]string, 6)
	for i := range sources {
		sources[i] = fmt.Sprintf("s%d", i)
	}
	if _, err := r.Retrieve(context.Background(), "nb1", "query", sources, 100); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
}

func TestRetrieve_EmbedFails(t *testing.T) {
	store := &mockVectorStore{
		searchFn: func(_ context.Context, _ []float32, _ int, _ Scope) ([]ScoredRecord, error) {
			t.Fatal("search should not be called when embed fails")
			return nil, nil
		},
	}
	r := newTestRetriever(func(_ context.Context, _ string, _ string) ([]float32, error) {
		return nil, errors.New("embed error")
	}, store)

	if _, err := r.Retrieve(context.Background(), "nb1", "query", []string{"a.txt"}, 5); err == nil {
		t.Fatal("expected error, got nil")
	}
}
