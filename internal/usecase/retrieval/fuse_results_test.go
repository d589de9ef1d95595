package retrieval_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"
	"github.com/Kaikei-e/Alt-sub006/internal/usecase/retrieval"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRagChunkRepository is a test double for domain.RagChunkRepository.
type MockRagChunkRepository struct {
	mock.Mock
}

func (m *MockRagChunkRepository) BulkInsertChunks(ctx context.Context, chunks []domain.RagChunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

func (m *MockRagChunkRepository) GetChunksByVersionID(ctx context.Context, versionID uuid.UUID) ([]domain.RagChunk, error) {
	args := m.Called(ctx, versionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RagChunk), args.Error(1)
}

func (m *MockRagChunkRepository) InsertEvents(ctx context.Context, events []domain.RagChunkEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func (m *MockRagChunkRepository) Search(ctx context.Context, queryVector []float32, limit int) ([]domain.SearchResult, error) {
	args := m.Called(ctx, queryVector, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SearchResult), args.Error(1)
}

func (m *MockRagChunkRepository) SearchWithinArticles(ctx context.Context, queryVector []float32, articleIDs []string, limit int) ([]domain.SearchResult, error) {
	args := m.Called(ctx, queryVector, articleIDs, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SearchResult), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func denseResult(id uuid.UUID, articleID, title string, score float32) domain.SearchResult {
	return domain.SearchResult{
		Chunk:     domain.RagChunk{ID: id, Content: "content of " + title},
		Score:     score,
		ArticleID: articleID,
		Title:     title,
	}
}

func TestFuseResults_SingleQuery_NoExpansion(t *testing.T) {
	mockRepo := new(MockRagChunkRepository)

	sc := &retrieval.StageContext{
		RetrievalID:       "fuse-single",
		Query:             "test query",
		OriginalEmbedding: []float32{0.1, 0.2},
		OriginalResults: []domain.SearchResult{
			denseResult(uuid.New(), "art-1", "Original Article", 0.95),
		},
		SearchLimit: 50,
		RRFK:        60.0,
	}

	err := retrieval.FuseResults(context.Background(), sc, mockRepo, discardLogger())
	require.NoError(t, err)

	require.Len(t, sc.HitsOriginal, 1)
	assert.Equal(t, "Original Article", sc.HitsOriginal[0].Title)
	assert.Equal(t, float32(0.95), sc.HitsOriginal[0].Score, "no BM25 results means dense scores pass through")
	assert.Empty(t, sc.HitsExpanded, "no expanded queries means no expanded hits")
	mockRepo.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
}

func TestFuseResults_WithExpandedQueries(t *testing.T) {
	mockRepo := new(MockRagChunkRepository)

	sc := &retrieval.StageContext{
		RetrievalID:          "fuse-expanded",
		Query:                "test query",
		OriginalEmbedding:    []float32{0.1, 0.2},
		OriginalResults:      []domain.SearchResult{denseResult(uuid.New(), "art-1", "Original", 0.90)},
		AdditionalQueries:    []string{"expanded query 1"},
		AdditionalEmbeddings: [][]float32{{0.3, 0.4}},
		SearchLimit:          50,
		RRFK:                 60.0,
	}

	expanded := denseResult(uuid.New(), "art-2", "Expanded Article", 0.85)
	expanded.DocumentVersion = 1
	mockRepo.On("Search", mock.Anything, []float32{0.3, 0.4}, 50).Return([]domain.SearchResult{expanded}, nil)

	err := retrieval.FuseResults(context.Background(), sc, mockRepo, discardLogger())
	require.NoError(t, err)

	assert.Len(t, sc.HitsOriginal, 1)
	require.Len(t, sc.HitsExpanded, 1)
	assert.Equal(t, "Expanded Article", sc.HitsExpanded[0].Title)
	assert.Equal(t, float32(0.85), sc.HitsExpanded[0].Score, "expanded hits keep the dense score for display")
	assert.Equal(t, 1, sc.HitsExpanded[0].DocumentVersion)
	mockRepo.AssertExpectations(t)
}

func TestFuseResults_HybridRRFScores(t *testing.T) {
	mockRepo := new(MockRagChunkRepository)

	sc := &retrieval.StageContext{
		RetrievalID:       "fuse-hybrid",
		Query:             "test query",
		OriginalEmbedding: []float32{0.1, 0.2},
		OriginalResults: []domain.SearchResult{
			denseResult(uuid.New(), "art-1", "Both Lists", 0.90),
			denseResult(uuid.New(), "art-2", "Dense Only", 0.80),
		},
		BM25Results: []domain.BM25SearchResult{
			{ArticleID: "art-1", Rank: 1, Score: 10.5},
		},
		SearchLimit: 50,
		RRFK:        60.0,
	}

	err := retrieval.FuseResults(context.Background(), sc, mockRepo, discardLogger())
	require.NoError(t, err)

	require.Len(t, sc.HitsOriginal, 2)
	// art-1: dense rank 0 gives 1/61, BM25 rank 1 gives 1/61.
	assert.Equal(t, "art-1", sc.HitsOriginal[0].ArticleID)
	assert.InDelta(t, 1.0/61.0+1.0/61.0, float64(sc.HitsOriginal[0].Score), 1e-6)
	// art-2: dense rank 1 only, 1/62.
	assert.Equal(t, "art-2", sc.HitsOriginal[1].ArticleID)
	assert.InDelta(t, 1.0/62.0, float64(sc.HitsOriginal[1].Score), 1e-6)
}

func TestFuseResults_BM25OnlyArticleDropped(t *testing.T) {
	mockRepo := new(MockRagChunkRepository)

	sc := &retrieval.StageContext{
		RetrievalID:       "fuse-bm25-only",
		Query:             "test query",
		OriginalEmbedding: []float32{0.1, 0.2},
		OriginalResults: []domain.SearchResult{
			denseResult(uuid.New(), "art-1", "Dense Article", 0.90),
		},
		BM25Results: []domain.BM25SearchResult{
			{ArticleID: "art-1", Rank: 1, Score: 10.5},
			{ArticleID: "art-9", Rank: 2, Score: 8.0},
		},
		SearchLimit: 50,
		RRFK:        60.0,
	}

	err := retrieval.FuseResults(context.Background(), sc, mockRepo, discardLogger())
	require.NoError(t, err)

	require.Len(t, sc.HitsOriginal, 1, "an article seen only by BM25 has no chunk to return")
	assert.Equal(t, "art-1", sc.HitsOriginal[0].ArticleID)
}

func TestFuseResults_SearchError(t *testing.T) {
	mockRepo := new(MockRagChunkRepository)

	sc := &retrieval.StageContext{
		RetrievalID:          "fuse-error",
		Query:                "test query",
		OriginalEmbedding:    []float32{0.1, 0.2},
		AdditionalQueries:    []string{"expanded"},
		AdditionalEmbeddings: [][]float32{{0.3, 0.4}},
		SearchLimit:          50,
		RRFK:                 60.0,
	}

	mockRepo.On("Search", mock.Anything, mock.Anything, 50).Return(nil, assert.AnError)

	err := retrieval.FuseResults(context.Background(), sc, mockRepo, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to search chunks")
}

func TestFuseResults_DeduplicatesExpandedHits(t *testing.T) {
	mockRepo := new(MockRagChunkRepository)

	sharedChunkID := uuid.New()
	sc := &retrieval.StageContext{
		RetrievalID:          "fuse-dedup",
		Query:                "test query",
		OriginalEmbedding:    []float32{0.1, 0.2},
		AdditionalQueries:    []string{"expanded 1", "expanded 2"},
		AdditionalEmbeddings: [][]float32{{0.3, 0.4}, {0.5, 0.6}},
		SearchLimit:          50,
		RRFK:                 60.0,
	}

	shared := []domain.SearchResult{
		denseResult(sharedChunkID, "art-1", "Shared Article", 0.85),
	}
	mockRepo.On("Search", mock.Anything, mock.Anything, 50).Return(shared, nil)

	err := retrieval.FuseResults(context.Background(), sc, mockRepo, discardLogger())
	require.NoError(t, err)

	require.Len(t, sc.HitsExpanded, 1, "duplicate chunks should be merged")
	assert.Equal(t, sharedChunkID, sc.HitsExpanded[0].ChunkID)
	assert.Equal(t, float32(0.85), sc.HitsExpanded[0].Score)
}

func TestFuseResults_ExpandedOrderedByAccumulatedRank(t *testing.T) {
	mockRepo := new(MockRagChunkRepository)

	chunkA := uuid.New()
	chunkB := uuid.New()
	sc := &retrieval.StageContext{
		RetrievalID:          "fuse-order",
		Query:                "test query",
		OriginalEmbedding:    []float32{0.1, 0.2},
		AdditionalQueries:    []string{"expanded 1", "expanded 2"},
		AdditionalEmbeddings: [][]float32{{0.3, 0.4}, {0.5, 0.6}},
		SearchLimit:          50,
		RRFK:                 60.0,
	}

	// Query 1 ranks A above B; query 2 sees only B. B accumulates
	// 1/62 + 1/61 and overtakes A's single 1/61.
	mockRepo.On("Search", mock.Anything, []float32{0.3, 0.4}, 50).Return([]domain.SearchResult{
		denseResult(chunkA, "art-a", "Article A", 0.9),
		denseResult(chunkB, "art-b", "Article B", 0.8),
	}, nil)
	mockRepo.On("Search", mock.Anything, []float32{0.5, 0.6}, 50).Return([]domain.SearchResult{
		denseResult(chunkB, "art-b", "Article B", 0.8),
	}, nil)

	err := retrieval.FuseResults(context.Background(), sc, mockRepo, discardLogger())
	require.NoError(t, err)

	require.Len(t, sc.HitsExpanded, 2)
	assert.Equal(t, chunkB, sc.HitsExpanded[0].ChunkID)
	assert.Equal(t, chunkA, sc.HitsExpanded[1].ChunkID)
}

func TestFuseResults_RestrictsToCandidateArticles(t *testing.T) {
	mockRepo := new(MockRagChunkRepository)

	sc := &retrieval.StageContext{
		RetrievalID:          "fuse-candidates",
		Query:                "test query",
		CandidateArticleIDs:  []string{"art-1", "art-2"},
		OriginalEmbedding:    []float32{0.1, 0.2},
		OriginalResults:      []domain.SearchResult{denseResult(uuid.New(), "art-1", "Original", 0.9)},
		AdditionalQueries:    []string{"expanded"},
		AdditionalEmbeddings: [][]float32{{0.3, 0.4}},
		SearchLimit:          50,
		RRFK:                 60.0,
	}

	mockRepo.On("SearchWithinArticles", mock.Anything, []float32{0.3, 0.4}, []string{"art-1", "art-2"}, 50).
		Return([]domain.SearchResult{denseResult(uuid.New(), "art-2", "Scoped", 0.8)}, nil)

	err := retrieval.FuseResults(context.Background(), sc, mockRepo, discardLogger())
	require.NoError(t, err)

	assert.Len(t, sc.HitsExpanded, 1)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
}
