package domain

import "context"

// RerankCandidate is one chunk offered to the cross-encoder, carrying the
// fusion score it holds going in.
type RerankCandidate struct {
	ID      string
	Content string
	Score   float32
}

// RerankResult maps a candidate ID to its cross-encoder relevance score.
type RerankResult struct {
	ID    string
	Score float32
}

// Reranker scores (query, candidate) pairs with a cross-encoder model.
// Reranking is best-effort: on error or timeout, callers keep the scores the
// candidates already carry.
type Reranker interface {
	// Rerank returns results ordered by score descending. A result may be
	// missing for a candidate the model could not score.
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)

	// ModelName identifies the model for log correlation.
	ModelName() string
}
