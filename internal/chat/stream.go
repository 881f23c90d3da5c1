package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/notebookd/internal/provider"
	"github.com/kalambet/notebookd/internal/retrieval"
	"github.com/kalambet/notebookd/internal/storage"
)

// historyLimit bounds how many prior messages travel with each question.
const historyLimit = 20

// Retriever finds context chunks for a question. Satisfied by
// retrieval.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, notebookID, query string, allowedSources []string, topK int) ([]retrieval.ContextChunk, error)
}

// Streamer runs one grounded generation per call: gather context, stream
// the answer, append the citation payload.
type Streamer struct {
	settings  provider.Settings
	retriever Retriever
}

// NewStreamer builds a Streamer bound to a settings snapshot.
func NewStreamer(settings provider.Settings, retriever Retriever) *Streamer {
	return &Streamer{settings: settings, retriever: retriever}
}

// Result is the outcome of one streamed answer.
type Result struct {
	Answer        string
	CitationsJSON string // empty when the stream was interrupted
	Interrupted   bool
}

// Stream answers the question grounded in the selected sources,
// forwarding each delta to emit as it arrives. When generation finishes
// cleanly the citation delimiter and payload are emitted too. If the
// provider connection drops mid-stream, the partial answer is returned
// alongside the error with no citations appended.
func (s *Streamer) Stream(ctx context.Context, notebookID, question string, selected []storage.Source, history []storage.Message, emit func(delta string) error) (*Result, error) {
	if len(selected) == 0 {
		return nil, fmt.Errorf("no sources selected")
	}

	blocks, err := s.gatherContext(ctx, notebookID, question, selected)
	if err != nil {
		return nil, err
	}

	messages := buildMessages(blocks, history, question)

	var answer strings.Builder
	deltas, errc := s.settings.Chat.StreamChat(ctx, s.settings.ChatModel, messages)
	for delta := range deltas {
		answer.WriteString(delta)
		if err := emit(delta); err != nil {
			return &Result{Answer: answer.String(), Interrupted: true}, err
		}
	}
	if err := <-errc; err != nil {
		return &Result{Answer: answer.String(), Interrupted: true}, fmt.Errorf("generation interrupted: %w", err)
	}

	citations := CitationJSON(blocks)
	if err := emit(CitationDelimiter + citations); err != nil {
		return &Result{Answer: answer.String(), Interrupted: true}, err
	}

	return &Result{Answer: answer.String(), CitationsJSON: citations}, nil
}

// gatherContext picks between full-context and retrieval mode. When the
// selection's entire extracted text fits under MaxFullContext the model
// sees everything; otherwise the top chunks for the question are
// retrieved.
func (s *Streamer) gatherContext(ctx context.Context, notebookID, question string, selected []storage.Source) ([]Block, error) {
	total := 0
	for _, src := range selected {
		total += len(src.Content)
	}
	if total > 0 && total < MaxFullContext {
		return blocksFromSources(selected), nil
	}

	names := make([]string, len(selected))
	for i, src := range selected {
		names[i] = src.Name
	}
	chunks, err := s.retriever.Retrieve(ctx, notebookID, question, names, retrieval.MaxTopK)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}
	return blocksFromChunks(chunks), nil
}

func buildMessages(blocks []Block, history []storage.Message, question string) []provider.Message {
	system := systemPrompt
	if len(blocks) > 0 {
		system += "\n\nSources:\n\n" + renderContext(blocks)
	} else {
		system += "\n\nNo relevant content was found in the selected sources for this question."
	}

	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}

	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: system})
	for _, m := range history {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: question})
	return messages
}
