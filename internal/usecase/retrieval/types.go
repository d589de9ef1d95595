package retrieval

import (
	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/google/uuid"
)

// StageContext is the mutable state threaded through the five pipeline
// stages. Stages run sequentially; within a stage, concurrent sub-tasks write
// only to fields they own, so no locking is needed.
type StageContext struct {
	// Input, immutable for the whole invocation.
	RetrievalID         string
	Query               string
	CandidateArticleIDs []string

	// Written by Expand.
	OriginalEmbedding []float32
	ExpandedQueries   []string
	TagQueries        []string

	// Written by EmbedAndSearch. AdditionalEmbeddings[i] is the vector for
	// AdditionalQueries[i]; the two stay positionally aligned or both empty.
	AdditionalQueries    []string
	AdditionalEmbeddings [][]float32
	OriginalResults      []domain.SearchResult
	BM25Results          []domain.BM25SearchResult

	// Written by Fuse, re-scored in place by Rerank.
	HitsOriginal []domain.SearchResult
	HitsExpanded []ContextItem

	// Configuration fixed at pipeline entry.
	SearchLimit   int
	RRFK          float64
	QuotaOriginal int
	QuotaExpanded int
}

// ContextItem is one retrieval candidate in the form handed to the answer
// generator: the chunk text plus the presentation fields and current score.
type ContextItem struct {
	ChunkText       string
	URL             string
	Title           string
	PublishedAt     string // RFC 3339
	Score           float32
	DocumentVersion int
	ChunkID         uuid.UUID
}

// toContextItem converts a dense search result, formatting the publication
// timestamp for presentation.
func toContextItem(r domain.SearchResult) ContextItem {
	published := ""
	if !r.PublishedAt.IsZero() {
		published = r.PublishedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return ContextItem{
		ChunkText:       r.Chunk.Content,
		URL:             r.URL,
		Title:           r.Title,
		PublishedAt:     published,
		Score:           r.Score,
		DocumentVersion: r.DocumentVersion,
		ChunkID:         r.Chunk.ID,
	}
}
