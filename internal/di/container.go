package di

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kaikei-e/Alt-sub006/internal/adapter/altdb"
	"github.com/Kaikei-e/Alt-sub006/internal/adapter/rag_augur"
	"github.com/Kaikei-e/Alt-sub006/internal/adapter/rag_http"
	"github.com/Kaikei-e/Alt-sub006/internal/adapter/repository"
	"github.com/Kaikei-e/Alt-sub006/internal/adapter/search"
	"github.com/Kaikei-e/Alt-sub006/internal/domain"
	"github.com/Kaikei-e/Alt-sub006/internal/infra/config"
	"github.com/Kaikei-e/Alt-sub006/internal/infra/httpclient"
	"github.com/Kaikei-e/Alt-sub006/internal/usecase"
	"github.com/Kaikei-e/Alt-sub006/internal/worker"
)

// ApplicationComponents is the wired object graph the entrypoints pull from:
// the HTTP handlers, the job worker, and the factories behind the per-request
// embedder override on backfill.
type ApplicationComponents struct {
	JobRepo domain.RagJobRepository

	IndexUsecase         usecase.IndexArticleUsecase
	RetrieveUsecase      usecase.RetrieveContextUsecase
	AnswerUsecase        usecase.AnswerWithRAGUsecase
	MorningLetterUsecase usecase.MorningLetterUsecase

	Worker *worker.JobWorker

	EmbedderFactory     rag_http.EmbedderFactory
	IndexUsecaseFactory rag_http.IndexUsecaseFactory

	EmbeddingModel  string
	EmbedderTimeout int
}

// NewApplicationComponents wires the full graph from config and the shared
// connection pool.
func NewApplicationComponents(cfg *config.Config, pool *pgxpool.Pool, log *slog.Logger) *ApplicationComponents {
	chunkRepo := repository.NewRagChunkRepository(pool)
	docRepo := repository.NewRagDocumentRepository(pool)
	jobRepo := repository.NewRagJobRepository(pool)
	txManager := repository.NewPostgresTransactionManager(pool)

	embedder := rag_augur.NewOllamaEmbedder(
		cfg.Embedder.URL, cfg.Embedder.Model, cfg.Embedder.Timeout,
		pooledClient(cfg.Embedder.Timeout),
	)
	generator := rag_augur.NewOllamaGenerator(
		cfg.Augur.URL, cfg.Augur.Model, cfg.Augur.Timeout, log,
		pooledClient(cfg.Augur.Timeout),
	)
	queryExpander := rag_augur.NewQueryExpanderClient(
		cfg.QueryExpansion.URL, cfg.QueryExpansion.Timeout, log,
		pooledClient(cfg.QueryExpansion.Timeout),
	)

	searchClient, bm25Searcher := connectSearch(cfg, log)

	hasher := domain.NewSourceHashPolicy()
	chunker := domain.NewChunker()
	indexUsecase := usecase.NewIndexArticleUsecase(docRepo, chunkRepo, txManager, hasher, chunker, embedder)

	retrieveUsecase := usecase.NewRetrieveContextUsecase(
		chunkRepo, embedder, generator, searchClient, queryExpander,
		retrievalConfig(cfg), log,
		retrieveOptions(cfg, bm25Searcher, log)...,
	)

	answerUsecase := usecase.NewAnswerWithRAGUsecase(
		retrieveUsecase,
		usecase.NewXMLPromptBuilder("Answer in Japanese."),
		generator,
		usecase.NewOutputValidator(),
		cfg.RAG.MaxChunks, cfg.RAG.MaxTokens, cfg.RAG.MaxPromptTokens,
		cfg.RAG.PromptVersion, cfg.RAG.Locale, log,
		usecase.WithCacheConfig(cfg.Cache.Size, time.Duration(cfg.Cache.TTL)*time.Minute),
	)

	articleClient := altdb.NewHTTPArticleClient(
		cfg.Backend.URL,
		time.Duration(cfg.Backend.Timeout)*time.Second,
		log,
	)
	morningLetterUsecase := usecase.NewMorningLetterUsecase(
		articleClient, retrieveUsecase, usecase.NewMorningLetterPromptBuilder(), generator,
		cfg.RAG.MorningLetterMaxTokens, cfg.RAG.MaxPromptTokens,
		usecase.TemporalBoostConfig{
			Boost6h:  cfg.Temporal.Boost6h,
			Boost12h: cfg.Temporal.Boost12h,
			Boost18h: cfg.Temporal.Boost18h,
		},
		log,
	)

	return &ApplicationComponents{
		JobRepo:              jobRepo,
		IndexUsecase:         indexUsecase,
		RetrieveUsecase:      retrieveUsecase,
		AnswerUsecase:        answerUsecase,
		MorningLetterUsecase: morningLetterUsecase,
		Worker:               worker.NewJobWorker(jobRepo, indexUsecase, log),
		EmbedderFactory: func(url, model string, timeout int) domain.VectorEncoder {
			return rag_augur.NewOllamaEmbedder(url, model, timeout, pooledClient(timeout))
		},
		IndexUsecaseFactory: func(encoder domain.VectorEncoder) usecase.IndexArticleUsecase {
			return usecase.NewIndexArticleUsecase(docRepo, chunkRepo, txManager, hasher, chunker, encoder)
		},
		EmbeddingModel:  cfg.Embedder.Model,
		EmbedderTimeout: cfg.Embedder.Timeout,
	}
}

// pooledClient builds the shared-transport HTTP client for one upstream.
func pooledClient(timeoutSeconds int) *http.Client {
	return httpclient.NewPooledClient(time.Duration(timeoutSeconds) * time.Second)
}

// connectSearch dials meilisearch. Retrieval degrades to vector-only when it
// is unreachable, so a failed connect returns nil backends instead of
// aborting boot.
func connectSearch(cfg *config.Config, log *slog.Logger) (domain.SearchClient, domain.BM25Searcher) {
	manager, err := search.Connect(cfg.Search.Host, cfg.Search.APIKey, log)
	if err != nil {
		log.Warn("meilisearch unavailable, continuing without keyword search",
			slog.String("host", cfg.Search.Host),
			slog.String("error", err.Error()))
		return nil, nil
	}
	client := search.NewMeilisearchClient(manager, cfg.Search.Index, log)
	return client, client
}

func retrievalConfig(cfg *config.Config) usecase.RetrievalConfig {
	return usecase.RetrievalConfig{
		SearchLimit:   cfg.RAG.SearchLimit,
		QuotaOriginal: cfg.RAG.QuotaOriginal,
		QuotaExpanded: cfg.RAG.QuotaExpanded,
		RRFK:          cfg.RAG.RRFK,
		Reranking: usecase.RerankingConfig{
			Enabled: cfg.Rerank.Enabled,
			TopK:    cfg.Rerank.TopK,
			Timeout: time.Duration(cfg.Rerank.Timeout) * time.Second,
		},
		HybridSearch: usecase.HybridSearchConfig{
			Enabled:   cfg.Hybrid.Enabled,
			Alpha:     cfg.Hybrid.Alpha,
			BM25Limit: cfg.Hybrid.BM25Limit,
		},
		LanguageAllocation: usecase.LanguageAllocationConfig{
			Enabled: cfg.RAG.DynamicLanguageAllocationEnabled,
		},
	}
}

// retrieveOptions assembles the optional pipeline stages the config enables.
func retrieveOptions(cfg *config.Config, bm25 domain.BM25Searcher, log *slog.Logger) []usecase.RetrieveContextOption {
	var opts []usecase.RetrieveContextOption
	if cfg.Rerank.Enabled {
		opts = append(opts, usecase.WithReranker(rag_augur.NewRerankerClient(
			cfg.Rerank.URL, cfg.Rerank.Model,
			time.Duration(cfg.Rerank.Timeout)*time.Second,
			log, pooledClient(cfg.Rerank.Timeout),
		)))
		log.Info("reranker_enabled",
			slog.String("url", cfg.Rerank.URL),
			slog.String("model", cfg.Rerank.Model))
	}
	if cfg.Hybrid.Enabled && bm25 != nil {
		opts = append(opts, usecase.WithBM25Searcher(bm25))
		log.Info("hybrid_search_enabled",
			slog.Int("bm25_limit", cfg.Hybrid.BM25Limit))
	}
	return opts
}
