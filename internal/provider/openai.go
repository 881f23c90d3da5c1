package provider

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI serves chat and embeddings from the OpenAI API or any
// API-compatible endpoint.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI builds an OpenAI provider. baseURL overrides the API host
// when non-empty, which covers compatible self-hosted gateways.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg)}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) StreamChat(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error) {
	deltas := make(chan string)
	errc := make(chan error, 1)

	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	go func() {
		defer close(deltas)

		stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: msgs,
			Stream:   true,
		})
		if err != nil {
			errc <- fmt.Errorf("starting chat stream: %w", err)
			return
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				errc <- nil
				return
			}
			if err != nil {
				errc <- fmt.Errorf("reading chat stream: %w", err)
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				select {
				case deltas <- content:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
	}()
	return deltas, errc
}

func (o *OpenAI) Embed(ctx context.Context, model, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response has no data")
	}
	return resp.Data[0].Embedding, nil
}
