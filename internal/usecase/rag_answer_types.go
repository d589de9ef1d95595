package usecase

import (
	"context"
)

// AnswerWithRAGUsecase produces grounded answers over retrieved article
// chunks, either as a single response or as a stream of events.
type AnswerWithRAGUsecase interface {
	Execute(ctx context.Context, input AnswerWithRAGInput) (*AnswerWithRAGOutput, error)
	Stream(ctx context.Context, input AnswerWithRAGInput) <-chan StreamEvent
}

// AnswerWithRAGInput carries one answer request. Zero values fall back to the
// usecase defaults.
type AnswerWithRAGInput struct {
	Query               string
	CandidateArticleIDs []string
	MaxChunks           int
	MaxTokens           int
	UserID              string
	Locale              string
}

// AnswerWithRAGOutput is the normalized answer handed back to API clients.
// When Fallback is set, Answer is empty and Reason explains why.
type AnswerWithRAGOutput struct {
	Answer           string
	Citations        []Citation
	Contexts         []ContextItem
	Fallback         bool
	Reason           string
	FallbackCategory FallbackCategory
	Debug            AnswerDebug
}

// Citation ties an answer back to the chunk it was grounded on.
type Citation struct {
	ChunkID         string
	ChunkText       string
	URL             string
	Title           string
	Score           float32
	DocumentVersion int
}

// AnswerDebug carries identifiers for tracing an answer back to the
// retrieval pass that produced it.
type AnswerDebug struct {
	RetrievalSetID  string
	PromptVersion   string
	ExpandedQueries []string
}

// StreamEventKind names the event types emitted while streaming an answer.
type StreamEventKind string

const (
	StreamEventKindMeta      StreamEventKind = "meta"
	StreamEventKindDelta     StreamEventKind = "delta"
	StreamEventKindThinking  StreamEventKind = "thinking"
	StreamEventKindProgress  StreamEventKind = "progress"
	StreamEventKindHeartbeat StreamEventKind = "heartbeat"
	StreamEventKindDone      StreamEventKind = "done"
	StreamEventKindFallback  StreamEventKind = "fallback"
	StreamEventKindError     StreamEventKind = "error"
)

// StreamEvent is one unit of a streamed answer. Payload shape depends on
// Kind: meta carries StreamMeta, delta and thinking carry text fragments,
// done carries the final AnswerWithRAGOutput.
type StreamEvent struct {
	Kind    StreamEventKind
	Payload interface{}
}

// StreamMeta is sent first on a stream, before any answer text, so clients
// can render contexts while generation runs.
type StreamMeta struct {
	Contexts []ContextItem
	Debug    AnswerDebug
}

// FallbackCategory labels the stage that forced a fallback answer.
type FallbackCategory string

const (
	FallbackRetrievalEmpty   FallbackCategory = "retrieval_empty"
	FallbackGenerationFailed FallbackCategory = "generation_failed"
	FallbackValidationFailed FallbackCategory = "validation_failed"
	FallbackLLMFallback      FallbackCategory = "llm_fallback"
)
