package domain

import "context"

// SearchHit is one full-text hit from the article search index.
type SearchHit struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// SearchClient queries the external article index. Retrieval uses it to
// harvest tag reformulations for the raw query.
type SearchClient interface {
	Search(ctx context.Context, query string) ([]SearchHit, error)
}

// BM25SearchResult is one sparse keyword hit. BM25 ranks whole articles;
// ChunkID is empty when the index does not track chunk granularity.
type BM25SearchResult struct {
	ArticleID string
	ChunkID   string
	Content   string
	Title     string
	URL       string
	// Rank is the 1-based position in the BM25 result list, the input to
	// reciprocal-rank fusion.
	Rank  int
	Score float32
}

// BM25Searcher runs keyword search for hybrid fusion. Implementations must be
// safe for concurrent use.
type BM25Searcher interface {
	// SearchBM25 returns results ordered by BM25 relevance, best first.
	SearchBM25(ctx context.Context, query string, limit int) ([]BM25SearchResult, error)
}
