package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/notebookd/internal/provider"
)

// Embedder generates text embeddings through the configured provider,
// retrying transient failures.
type Embedder struct {
	settings provider.Settings
}

// NewEmbedder creates an Embedder bound to a settings snapshot.
func NewEmbedder(settings provider.Settings) *Embedder {
	return &Embedder{settings: settings}
}

// ModelID returns the embedding model identity vectors produced by this
// embedder are indexed under.
func (e *Embedder) ModelID() string {
	return e.settings.EmbeddingModelID()
}

// Embed returns the embedding vector for a single text. Failed calls are
// retried up to three times with backoff before giving up.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := retry.Do(
		func() error {
			var err error
			vec, err = e.settings.Embed.Embed(ctx, e.settings.EmbedModel, text)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the backend.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
