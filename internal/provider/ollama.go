package provider

import (
	"context"

	"github.com/kalambet/notebookd/internal/ollama"
)

// Ollama serves chat and embeddings from a local Ollama instance.
type Ollama struct {
	client *ollama.Client
}

// NewOllama wraps an Ollama client as a Provider.
func NewOllama(client *ollama.Client) *Ollama {
	return &Ollama{client: client}
}

func (o *Ollama) Name() string { return "ollama" }

// Client exposes the underlying client for startup checks.
func (o *Ollama) Client() *ollama.Client { return o.client }

func (o *Ollama) StreamChat(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error) {
	deltas := make(chan string)
	errc := make(chan error, 1)

	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	go func() {
		defer close(deltas)
		err := o.client.ChatStream(ctx, model, msgs, func(delta string) error {
			select {
			case deltas <- delta:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		errc <- err
	}()
	return deltas, errc
}

func (o *Ollama) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return o.client.Embed(ctx, model, text)
}
