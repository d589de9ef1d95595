package retrieval_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"
	"github.com/Kaikei-e/Alt-sub006/internal/usecase/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockQueryExpander is a test double for domain.QueryExpander.
type MockQueryExpander struct {
	mock.Mock
}

func (m *MockQueryExpander) ExpandQuery(ctx context.Context, query string, japaneseCount, englishCount int) ([]string, error) {
	args := m.Called(ctx, query, japaneseCount, englishCount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockLLMClient is a test double for domain.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string, maxTokens int) (*domain.LLMResponse, error) {
	args := m.Called(ctx, prompt, maxTokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LLMResponse), args.Error(1)
}

func (m *MockLLMClient) GenerateStream(ctx context.Context, prompt string, maxTokens int) (<-chan domain.LLMStreamChunk, <-chan error, error) {
	args := m.Called(ctx, prompt, maxTokens)
	var chunks <-chan domain.LLMStreamChunk
	var errs <-chan error
	if args.Get(0) != nil {
		chunks = args.Get(0).(<-chan domain.LLMStreamChunk)
	}
	if args.Get(1) != nil {
		errs = args.Get(1).(<-chan error)
	}
	return chunks, errs, args.Error(2)
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []domain.Message, maxTokens int) (*domain.LLMResponse, error) {
	args := m.Called(ctx, messages, maxTokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LLMResponse), args.Error(1)
}

func (m *MockLLMClient) ChatStream(ctx context.Context, messages []domain.Message, maxTokens int) (<-chan domain.LLMStreamChunk, <-chan error, error) {
	args := m.Called(ctx, messages, maxTokens)
	var chunks <-chan domain.LLMStreamChunk
	var errs <-chan error
	if args.Get(0) != nil {
		chunks = args.Get(0).(<-chan domain.LLMStreamChunk)
	}
	if args.Get(1) != nil {
		errs = args.Get(1).(<-chan error)
	}
	return chunks, errs, args.Error(2)
}

func (m *MockLLMClient) Version() string {
	return "mock-llm-v1"
}

// MockSearchClient is a test double for domain.SearchClient.
type MockSearchClient struct {
	mock.Mock
}

func (m *MockSearchClient) Search(ctx context.Context, query string) ([]domain.SearchHit, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SearchHit), args.Error(1)
}

// MockVectorEncoder is a test double for domain.VectorEncoder.
type MockVectorEncoder struct {
	mock.Mock
}

func (m *MockVectorEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockVectorEncoder) Version() string {
	return "mock-encoder-v1"
}

func TestExpandQueries_Success(t *testing.T) {
	expander := new(MockQueryExpander)
	llm := new(MockLLMClient)
	search := new(MockSearchClient)
	encoder := new(MockVectorEncoder)

	sc := &retrieval.StageContext{RetrievalID: "expand-1", Query: "kubernetes networking"}

	expander.On("ExpandQuery", mock.Anything, "kubernetes networking", 1, 3).
		Return([]string{"k8s network policies", "container networking"}, nil)
	// The legacy source races alongside and may or may not finish first.
	llm.On("Generate", mock.Anything, mock.Anything, 200).
		Return(&domain.LLMResponse{Text: "cni plugins\nservice mesh"}, nil).Maybe()
	search.On("Search", mock.Anything, "kubernetes networking").Return([]domain.SearchHit{
		{ID: "hit-1", Tags: []string{"kubernetes", "networking"}},
	}, nil)
	encoder.On("Encode", mock.Anything, []string{"kubernetes networking"}).
		Return([][]float32{{0.1, 0.2, 0.3}}, nil)

	err := retrieval.ExpandQueries(context.Background(), sc, expander, llm, search, encoder, discardLogger())
	require.NoError(t, err)

	assert.NotEmpty(t, sc.ExpandedQueries)
	assert.Equal(t, []string{"kubernetes", "networking"}, sc.TagQueries)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, sc.OriginalEmbedding)
}

func TestExpandQueries_OriginalEmbeddingFailure_IsFatal(t *testing.T) {
	llm := new(MockLLMClient)
	encoder := new(MockVectorEncoder)

	sc := &retrieval.StageContext{RetrievalID: "expand-2", Query: "some query"}

	llm.On("Generate", mock.Anything, mock.Anything, 200).
		Return(&domain.LLMResponse{Text: "variation"}, nil).Maybe()
	encoder.On("Encode", mock.Anything, []string{"some query"}).Return(nil, assert.AnError)

	err := retrieval.ExpandQueries(context.Background(), sc, nil, llm, nil, encoder, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode original query")
}

func TestExpandQueries_EmptyEmbedding_IsFatal(t *testing.T) {
	llm := new(MockLLMClient)
	encoder := new(MockVectorEncoder)

	sc := &retrieval.StageContext{RetrievalID: "expand-3", Query: "some query"}

	llm.On("Generate", mock.Anything, mock.Anything, 200).
		Return(&domain.LLMResponse{Text: "variation"}, nil).Maybe()
	encoder.On("Encode", mock.Anything, []string{"some query"}).Return([][]float32{}, nil)

	err := retrieval.ExpandQueries(context.Background(), sc, nil, llm, nil, encoder, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedding returned")
}

func TestExpandQueries_BothExpansionSourcesFail_Degrades(t *testing.T) {
	expander := new(MockQueryExpander)
	llm := new(MockLLMClient)
	encoder := new(MockVectorEncoder)

	sc := &retrieval.StageContext{RetrievalID: "expand-4", Query: "some query"}

	expander.On("ExpandQuery", mock.Anything, "some query", 1, 3).Return(nil, assert.AnError)
	llm.On("Generate", mock.Anything, mock.Anything, 200).Return(nil, assert.AnError)
	encoder.On("Encode", mock.Anything, []string{"some query"}).
		Return([][]float32{{0.5}}, nil)

	err := retrieval.ExpandQueries(context.Background(), sc, expander, llm, nil, encoder, discardLogger())
	require.NoError(t, err, "expansion failure degrades, it does not abort")

	assert.Empty(t, sc.ExpandedQueries)
	assert.Equal(t, []float32{0.5}, sc.OriginalEmbedding)
}

func TestExpandQueries_RaceFallsBackToLLM(t *testing.T) {
	expander := new(MockQueryExpander)
	llm := new(MockLLMClient)
	encoder := new(MockVectorEncoder)

	sc := &retrieval.StageContext{RetrievalID: "expand-5", Query: "some query"}

	expander.On("ExpandQuery", mock.Anything, "some query", 1, 3).Return(nil, assert.AnError)
	llm.On("Generate", mock.Anything, mock.Anything, 200).
		Return(&domain.LLMResponse{Text: "fallback one\nfallback two\n\n"}, nil)
	encoder.On("Encode", mock.Anything, []string{"some query"}).
		Return([][]float32{{0.5}}, nil)

	err := retrieval.ExpandQueries(context.Background(), sc, expander, llm, nil, encoder, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"fallback one", "fallback two"}, sc.ExpandedQueries,
		"blank lines in the model output are dropped")
}

func TestExpandQueries_TagSearchFailure_Degrades(t *testing.T) {
	llm := new(MockLLMClient)
	search := new(MockSearchClient)
	encoder := new(MockVectorEncoder)

	sc := &retrieval.StageContext{RetrievalID: "expand-6", Query: "some query"}

	llm.On("Generate", mock.Anything, mock.Anything, 200).
		Return(&domain.LLMResponse{Text: "variation"}, nil).Maybe()
	search.On("Search", mock.Anything, "some query").Return(nil, assert.AnError)
	encoder.On("Encode", mock.Anything, []string{"some query"}).
		Return([][]float32{{0.5}}, nil)

	err := retrieval.ExpandQueries(context.Background(), sc, nil, llm, search, encoder, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, sc.TagQueries)
}

func TestExpandQueries_TagCollection(t *testing.T) {
	llm := new(MockLLMClient)
	search := new(MockSearchClient)
	encoder := new(MockVectorEncoder)

	sc := &retrieval.StageContext{RetrievalID: "expand-7", Query: "rust"}

	llm.On("Generate", mock.Anything, mock.Anything, 200).
		Return(&domain.LLMResponse{Text: "variation"}, nil).Maybe()
	// Only the top three hits contribute tags; duplicates, empty tags, and
	// the raw query itself are dropped.
	search.On("Search", mock.Anything, "rust").Return([]domain.SearchHit{
		{ID: "h1", Tags: []string{"systems", "rust", ""}},
		{ID: "h2", Tags: []string{"memory-safety", "systems"}},
		{ID: "h3", Tags: []string{"cargo"}},
		{ID: "h4", Tags: []string{"never-included"}},
	}, nil)
	encoder.On("Encode", mock.Anything, []string{"rust"}).
		Return([][]float32{{0.5}}, nil)

	err := retrieval.ExpandQueries(context.Background(), sc, nil, llm, search, encoder, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"systems", "memory-safety", "cargo"}, sc.TagQueries)
}

func TestExpandQueries_NilSearchClient(t *testing.T) {
	llm := new(MockLLMClient)
	encoder := new(MockVectorEncoder)

	sc := &retrieval.StageContext{RetrievalID: "expand-8", Query: "some query"}

	llm.On("Generate", mock.Anything, mock.Anything, 200).
		Return(&domain.LLMResponse{Text: "variation"}, nil).Maybe()
	encoder.On("Encode", mock.Anything, []string{"some query"}).
		Return([][]float32{{0.5}}, nil)

	err := retrieval.ExpandQueries(context.Background(), sc, nil, llm, nil, encoder, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, sc.TagQueries)
}

func TestExpandQueries_LLMPromptShape(t *testing.T) {
	llm := new(MockLLMClient)
	encoder := new(MockVectorEncoder)

	sc := &retrieval.StageContext{RetrievalID: "expand-9", Query: "solar flares this month"}

	today := time.Now().Format("2006-01-02")
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "expert search query generator") &&
			strings.Contains(prompt, "Current Date: "+today) &&
			strings.Contains(prompt, "User Input: solar flares this month")
	}), 200).Return(&domain.LLMResponse{Text: "solar storm forecast"}, nil)
	encoder.On("Encode", mock.Anything, []string{"solar flares this month"}).
		Return([][]float32{{0.5}}, nil)

	err := retrieval.ExpandQueries(context.Background(), sc, nil, llm, nil, encoder, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"solar storm forecast"}, sc.ExpandedQueries)
	llm.AssertExpectations(t)
}
