package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/notebookd/internal/segment"
)

// Indexer embeds segments and replaces a source's vectors atomically.
// Embedding happens before any deletion, so a failed run leaves the
// previous index intact and a reader never observes a half-indexed
// source.
type Indexer struct {
	embedder *Embedder
	store    VectorStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIndexer creates an Indexer over the given embedder and store.
func NewIndexer(embedder *Embedder, store VectorStore) *Indexer {
	return &Indexer{
		embedder: embedder,
		store:    store,
		locks:    make(map[string]*sync.Mutex),
	}
}

// sourceLock returns the mutex serializing index operations for one
// source, so a re-upload racing a slow first index cannot interleave.
func (ix *Indexer) sourceLock(notebookID, sourceName string) *sync.Mutex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	key := notebookID + "\x00" + sourceName
	l, ok := ix.locks[key]
	if !ok {
		l = &sync.Mutex{}
		ix.locks[key] = l
	}
	return l
}

// Index embeds all segments of a source and swaps them in as the
// source's vectors, removing whatever was indexed before. Returns the
// number of vectors written.
func (ix *Indexer) Index(ctx context.Context, notebookID, sourceName string, segs []segment.Segment) (int, error) {
	texts := make([]string, len(segs))
	for i, s := range segs {
		texts[i] = s.Text
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding %d segments of %s: %w", len(segs), sourceName, err)
	}

	now := time.Now().UTC()
	modelID := ix.embedder.ModelID()
	records := make([]Record, len(segs))
	for i, s := range segs {
		records[i] = Record{
			ID:             uuid.NewString(),
			NotebookID:     notebookID,
			SourceName:     sourceName,
			Seq:            s.Seq,
			TextChunk:      s.Text,
			Locator:        s.Locator.MarshalString(),
			Embedding:      vectors[i],
			EmbeddingModel: modelID,
			CreatedAt:      now,
		}
	}

	lock := ix.sourceLock(notebookID, sourceName)
	lock.Lock()
	defer lock.Unlock()

	if _, err := ix.store.DeleteSource(ctx, notebookID, sourceName); err != nil {
		return 0, fmt.Errorf("clearing old vectors of %s: %w", sourceName, err)
	}
	if err := ix.store.Insert(ctx, records); err != nil {
		return 0, fmt.Errorf("inserting vectors of %s: %w", sourceName, err)
	}
	return len(records), nil
}

// Remove deletes a source's vectors.
func (ix *Indexer) Remove(ctx context.Context, notebookID, sourceName string) error {
	lock := ix.sourceLock(notebookID, sourceName)
	lock.Lock()
	defer lock.Unlock()

	_, err := ix.store.DeleteSource(ctx, notebookID, sourceName)
	return err
}
