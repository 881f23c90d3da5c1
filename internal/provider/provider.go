// Package provider abstracts the model backends the daemon can talk to.
// Chat generation and embedding can run on different providers; both
// identify the models in use so vectors indexed under one embedding
// model are never searched with another.
package provider

import "context"

// Message is one turn of a chat conversation in provider-neutral form.
type Message struct {
	Role    string
	Content string
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider is a model backend capable of streamed chat and embeddings.
type Provider interface {
	// Name identifies the backend ("ollama", "openai") for logs and
	// embedding-model scoping.
	Name() string

	// StreamChat starts a generation and returns a channel of response
	// deltas plus a channel carrying at most one terminal error. The
	// delta channel is closed when the stream ends, then the error
	// channel reports nil or the failure. Cancelling ctx aborts the
	// generation; text streamed before the failure stands.
	StreamChat(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error)

	// Embed returns the embedding vector for one text.
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Settings is an immutable snapshot of which providers and models serve
// chat and embedding. Handlers receive it by value so a request never
// sees a half-applied change.
type Settings struct {
	Chat       Provider
	ChatModel  string
	Embed      Provider
	EmbedModel string
}

// EmbeddingModelID is the fully qualified identity vectors are indexed
// under, combining provider and model name.
func (s Settings) EmbeddingModelID() string {
	return s.Embed.Name() + "/" + s.EmbedModel
}
