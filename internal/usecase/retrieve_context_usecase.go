package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"
	"github.com/Kaikei-e/Alt-sub006/internal/usecase/retrieval"

	"github.com/google/uuid"
)

// ContextItem is one retrieved chunk with its presentation metadata.
type ContextItem = retrieval.ContextItem

// RetrieveContextInput defines the input parameters for RetrieveContext.
type RetrieveContextInput struct {
	Query               string
	CandidateArticleIDs []string
}

// RetrieveContextOutput defines the output for RetrieveContext.
type RetrieveContextOutput struct {
	Contexts        []ContextItem
	ExpandedQueries []string
}

// RetrieveContextUsecase defines the interface for retrieving context.
type RetrieveContextUsecase interface {
	Execute(ctx context.Context, input RetrieveContextInput) (*RetrieveContextOutput, error)
}

type retrieveContextUsecase struct {
	chunkRepo     domain.RagChunkRepository
	encoder       domain.VectorEncoder
	llmClient     domain.LLMClient
	searchClient  domain.SearchClient
	queryExpander domain.QueryExpander
	bm25Searcher  domain.BM25Searcher
	reranker      domain.Reranker
	config        RetrievalConfig
	logger        *slog.Logger
}

// RetrieveContextOption customizes optional retrieval collaborators.
type RetrieveContextOption func(*retrieveContextUsecase)

// WithReranker attaches a cross-encoder reranker.
func WithReranker(r domain.Reranker) RetrieveContextOption {
	return func(u *retrieveContextUsecase) { u.reranker = r }
}

// WithBM25Searcher attaches a sparse keyword searcher for hybrid fusion.
func WithBM25Searcher(s domain.BM25Searcher) RetrieveContextOption {
	return func(u *retrieveContextUsecase) { u.bm25Searcher = s }
}

// NewRetrieveContextUsecase creates a new RetrieveContextUsecase.
func NewRetrieveContextUsecase(
	chunkRepo domain.RagChunkRepository,
	encoder domain.VectorEncoder,
	llmClient domain.LLMClient,
	searchClient domain.SearchClient,
	queryExpander domain.QueryExpander,
	config RetrievalConfig,
	logger *slog.Logger,
	opts ...RetrieveContextOption,
) RetrieveContextUsecase {
	u := &retrieveContextUsecase{
		chunkRepo:     chunkRepo,
		encoder:       encoder,
		llmClient:     llmClient,
		searchClient:  searchClient,
		queryExpander: queryExpander,
		config:        config,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Execute runs the five-stage retrieval pipeline: expand, embed and search,
// fuse, rerank, allocate. Stage outputs accumulate on a shared StageContext;
// any fatal stage error aborts the run and no partial result is returned.
func (u *retrieveContextUsecase) Execute(ctx context.Context, input RetrieveContextInput) (*RetrieveContextOutput, error) {
	if input.Query == "" {
		return nil, fmt.Errorf("query is empty")
	}

	start := time.Now()
	sc := &retrieval.StageContext{
		RetrievalID:         uuid.NewString(),
		Query:               input.Query,
		CandidateArticleIDs: input.CandidateArticleIDs,
		SearchLimit:         u.config.SearchLimit,
		RRFK:                u.config.RRFK,
		QuotaOriginal:       u.config.QuotaOriginal,
		QuotaExpanded:       u.config.QuotaExpanded,
	}

	u.logger.Info("retrieval_started",
		slog.String("retrieval_id", sc.RetrievalID),
		slog.String("query", input.Query),
		slog.Int("candidate_articles", len(input.CandidateArticleIDs)))

	if err := retrieval.ExpandQueries(ctx, sc, u.queryExpander, u.llmClient, u.searchClient, u.encoder, u.logger); err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	if err := retrieval.EmbedAndSearch(ctx, sc, u.encoder, u.bm25Searcher, u.chunkRepo,
		u.config.HybridSearch.Enabled, u.config.HybridSearch.BM25Limit, u.logger); err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	if err := retrieval.FuseResults(ctx, sc, u.chunkRepo, u.logger); err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	retrieval.Rerank(ctx, sc, u.reranker, retrieval.RerankConfig{
		Enabled: u.config.Reranking.Enabled,
		Timeout: u.config.Reranking.Timeout,
	}, u.logger)

	contexts := retrieval.Allocate(sc, retrieval.AllocateConfig{
		DynamicLanguageAllocationEnabled: u.config.LanguageAllocation.Enabled,
	}, u.logger)

	u.logger.Info("retrieval_completed",
		slog.String("retrieval_id", sc.RetrievalID),
		slog.Int("contexts_returned", len(contexts)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return &RetrieveContextOutput{
		Contexts:        contexts,
		ExpandedQueries: sc.ExpandedQueries,
	}, nil
}
