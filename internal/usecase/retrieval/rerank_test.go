package retrieval_test

import (
	"context"
	"testing"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"
	"github.com/Kaikei-e/Alt-sub006/internal/usecase/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockReranker is a test double for domain.Reranker.
type MockReranker struct {
	mock.Mock
}

func (m *MockReranker) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
	args := m.Called(ctx, query, candidates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RerankResult), args.Error(1)
}

func (m *MockReranker) ModelName() string {
	return "mock-reranker-v1"
}

func enabledRerankConfig() retrieval.RerankConfig {
	return retrieval.RerankConfig{Enabled: true, Timeout: 5 * time.Second}
}

func TestRerank_SkippedWhenDisabled(t *testing.T) {
	reranker := new(MockReranker)

	sc := &retrieval.StageContext{
		RetrievalID:  "rerank-1",
		Query:        "query",
		HitsOriginal: []domain.SearchResult{makeSearchResult("A", 0.9)},
	}

	retrieval.Rerank(context.Background(), sc, reranker, retrieval.RerankConfig{Enabled: false}, discardLogger())

	assert.Equal(t, float32(0.9), sc.HitsOriginal[0].Score)
	reranker.AssertNotCalled(t, "Rerank", mock.Anything, mock.Anything, mock.Anything)
}

func TestRerank_SkippedWhenNoReranker(t *testing.T) {
	sc := &retrieval.StageContext{
		RetrievalID:  "rerank-2",
		Query:        "query",
		HitsOriginal: []domain.SearchResult{makeSearchResult("A", 0.9)},
	}

	retrieval.Rerank(context.Background(), sc, nil, enabledRerankConfig(), discardLogger())

	assert.Equal(t, float32(0.9), sc.HitsOriginal[0].Score)
}

func TestRerank_OverwritesScoresAndResorts(t *testing.T) {
	reranker := new(MockReranker)

	hitA := makeSearchResult("Article A", 0.9)
	hitB := makeSearchResult("Article B", 0.8)
	itemC := makeContextItem("Article C", 0.7)

	sc := &retrieval.StageContext{
		RetrievalID:  "rerank-3",
		Query:        "query",
		HitsOriginal: []domain.SearchResult{hitA, hitB},
		HitsExpanded: []retrieval.ContextItem{itemC},
	}

	reranker.On("Rerank", mock.Anything, "query", mock.Anything).Return([]domain.RerankResult{
		{ID: hitB.Chunk.ID.String(), Score: 0.95},
		{ID: itemC.ChunkID.String(), Score: 0.50},
		{ID: hitA.Chunk.ID.String(), Score: 0.20},
	}, nil)

	retrieval.Rerank(context.Background(), sc, reranker, enabledRerankConfig(), discardLogger())

	require.Len(t, sc.HitsOriginal, 2)
	assert.Equal(t, "Article B", sc.HitsOriginal[0].Title)
	assert.Equal(t, float32(0.95), sc.HitsOriginal[0].Score)
	assert.Equal(t, "Article A", sc.HitsOriginal[1].Title)
	assert.Equal(t, float32(0.20), sc.HitsOriginal[1].Score)
	require.Len(t, sc.HitsExpanded, 1)
	assert.Equal(t, float32(0.50), sc.HitsExpanded[0].Score)
}

func TestRerank_Failure_PreservesScoresAndOrder(t *testing.T) {
	reranker := new(MockReranker)

	hitA := makeSearchResult("Article A", 0.9)
	hitB := makeSearchResult("Article B", 0.8)
	itemC := makeContextItem("Article C", 0.7)

	sc := &retrieval.StageContext{
		RetrievalID:  "rerank-4",
		Query:        "query",
		HitsOriginal: []domain.SearchResult{hitA, hitB},
		HitsExpanded: []retrieval.ContextItem{itemC},
	}

	reranker.On("Rerank", mock.Anything, "query", mock.Anything).Return(nil, context.DeadlineExceeded)

	retrieval.Rerank(context.Background(), sc, reranker, enabledRerankConfig(), discardLogger())

	assert.Equal(t, "Article A", sc.HitsOriginal[0].Title)
	assert.Equal(t, float32(0.9), sc.HitsOriginal[0].Score)
	assert.Equal(t, "Article B", sc.HitsOriginal[1].Title)
	assert.Equal(t, float32(0.8), sc.HitsOriginal[1].Score)
	assert.Equal(t, float32(0.7), sc.HitsExpanded[0].Score)
}

// blockingReranker waits for its context. Without the stage deadline this
// test would hang instead of degrading.
type blockingReranker struct{}

func (blockingReranker) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingReranker) ModelName() string { return "blocking" }

func TestRerank_StageTimeoutFires(t *testing.T) {
	sc := &retrieval.StageContext{
		RetrievalID:  "rerank-timeout",
		Query:        "query",
		HitsOriginal: []domain.SearchResult{makeSearchResult("Article A", 0.9)},
	}
	cfg := retrieval.RerankConfig{Enabled: true, Timeout: 10 * time.Millisecond}

	retrieval.Rerank(context.Background(), sc, blockingReranker{}, cfg, discardLogger())

	assert.Equal(t, float32(0.9), sc.HitsOriginal[0].Score)
}

// identityReranker echoes every candidate back with its input score.
type identityReranker struct{}

func (identityReranker) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
	results := make([]domain.RerankResult, len(candidates))
	for i, c := range candidates {
		results[i] = domain.RerankResult{ID: c.ID, Score: c.Score}
	}
	return results, nil
}

func (identityReranker) ModelName() string { return "identity" }

func TestRerank_IdentityScoresKeepContentAndOrder(t *testing.T) {
	hitA := makeSearchResult("Article A", 0.9)
	hitB := makeSearchResult("Article B", 0.8)
	itemC := makeContextItem("Article C", 0.7)

	sc := &retrieval.StageContext{
		RetrievalID:  "rerank-identity",
		Query:        "query",
		HitsOriginal: []domain.SearchResult{hitA, hitB},
		HitsExpanded: []retrieval.ContextItem{itemC},
	}

	retrieval.Rerank(context.Background(), sc, identityReranker{}, enabledRerankConfig(), discardLogger())

	assert.Equal(t, []domain.SearchResult{hitA, hitB}, sc.HitsOriginal)
	assert.Equal(t, []retrieval.ContextItem{itemC}, sc.HitsExpanded)
}

func TestRerank_CapsCandidatesAtThirty(t *testing.T) {
	reranker := new(MockReranker)

	hits := make([]domain.SearchResult, 0, 40)
	for i := 0; i < 40; i++ {
		hits = append(hits, makeSearchResult("Article", float32(100-i)/100))
	}
	sc := &retrieval.StageContext{
		RetrievalID:  "rerank-5",
		Query:        "query",
		HitsOriginal: hits,
	}

	reranker.On("Rerank", mock.Anything, "query", mock.MatchedBy(func(candidates []domain.RerankCandidate) bool {
		if len(candidates) != 30 {
			return false
		}
		// Scores run 1.00 down to 0.61; the cut keeps the top 30, so
		// nothing below 0.71 may survive.
		for _, c := range candidates {
			if c.Score < 0.705 {
				return false
			}
		}
		return true
	})).Return([]domain.RerankResult{}, nil)

	retrieval.Rerank(context.Background(), sc, reranker, enabledRerankConfig(), discardLogger())

	reranker.AssertExpectations(t)
}

func TestRerank_DeduplicatesAcrossLists(t *testing.T) {
	reranker := new(MockReranker)

	shared := makeSearchResult("Shared", 0.9)
	sc := &retrieval.StageContext{
		RetrievalID:  "rerank-6",
		Query:        "query",
		HitsOriginal: []domain.SearchResult{shared},
		HitsExpanded: []retrieval.ContextItem{
			{ChunkID: shared.Chunk.ID, ChunkText: shared.Chunk.Content, Title: "Shared", Score: 0.85},
		},
	}

	reranker.On("Rerank", mock.Anything, "query", mock.MatchedBy(func(candidates []domain.RerankCandidate) bool {
		return len(candidates) == 1 && candidates[0].ID == shared.Chunk.ID.String()
	})).Return([]domain.RerankResult{
		{ID: shared.Chunk.ID.String(), Score: 0.4},
	}, nil)

	retrieval.Rerank(context.Background(), sc, reranker, enabledRerankConfig(), discardLogger())

	assert.Equal(t, float32(0.4), sc.HitsOriginal[0].Score)
	assert.Equal(t, float32(0.4), sc.HitsExpanded[0].Score, "the shared chunk is rescored in both lists")
	reranker.AssertExpectations(t)
}

func TestRerank_UnscoredHitsKeepFusionScore(t *testing.T) {
	reranker := new(MockReranker)

	hitA := makeSearchResult("Article A", 0.9)
	hitB := makeSearchResult("Article B", 0.8)

	sc := &retrieval.StageContext{
		RetrievalID:  "rerank-7",
		Query:        "query",
		HitsOriginal: []domain.SearchResult{hitA, hitB},
	}

	reranker.On("Rerank", mock.Anything, "query", mock.Anything).Return([]domain.RerankResult{
		{ID: hitB.Chunk.ID.String(), Score: 0.95},
	}, nil)

	retrieval.Rerank(context.Background(), sc, reranker, enabledRerankConfig(), discardLogger())

	assert.Equal(t, "Article B", sc.HitsOriginal[0].Title)
	assert.Equal(t, float32(0.95), sc.HitsOriginal[0].Score)
	assert.Equal(t, "Article A", sc.HitsOriginal[1].Title)
	assert.Equal(t, float32(0.9), sc.HitsOriginal[1].Score, "hits the model skipped keep their scores")
}
