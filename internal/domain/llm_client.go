package domain

import "context"

// Message is one turn of a chat-style prompt.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// LLMResponse carries a complete generation and whether the model finished on
// its own rather than hitting the token limit.
type LLMResponse struct {
	Text string
	Done bool
}

// LLMStreamChunk is one streamed token batch. Response holds the text delta,
// Thinking holds reasoning-trace text when the model emits it separately; the
// final chunk has Done set, usually with an empty Response.
type LLMStreamChunk struct {
	Response string
	Thinking string
	Done     bool
}

// LLMClient sends prompts to the generation model. Streaming variants return
// a chunk channel and an error channel; both are closed when the stream ends.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (*LLMResponse, error)
	GenerateStream(ctx context.Context, prompt string, maxTokens int) (<-chan LLMStreamChunk, <-chan error, error)
	Chat(ctx context.Context, messages []Message, maxTokens int) (*LLMResponse, error)
	ChatStream(ctx context.Context, messages []Message, maxTokens int) (<-chan LLMStreamChunk, <-chan error, error)

	// Version identifies the generation model for log correlation.
	Version() string
}
