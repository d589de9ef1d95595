package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"golang.org/x/sync/errgroup"
)

// EmbedAndSearch is the second pipeline stage. It embeds the additional
// queries, runs BM25 over the raw query, and runs the original dense search,
// all concurrently. Only the dense search is required.
func EmbedAndSearch(
	ctx context.Context,
	sc *StageContext,
	encoder domain.VectorEncoder,
	bm25Searcher domain.BM25Searcher,
	chunkRepo domain.RagChunkRepository,
	hybridEnabled bool,
	bm25Limit int,
	logger *slog.Logger,
) error {
	sc.AdditionalQueries = mergeQueryLists(sc.ExpandedQueries, sc.TagQueries)

	g, gctx := errgroup.WithContext(ctx)

	if len(sc.AdditionalQueries) > 0 {
		g.Go(func() error {
			embeddings, err := encoder.Encode(gctx, sc.AdditionalQueries)
			if err != nil || len(embeddings) != len(sc.AdditionalQueries) {
				if err == nil {
					err = fmt.Errorf("expected %d embeddings, got %d", len(sc.AdditionalQueries), len(embeddings))
				}
				logger.Warn("expanded_embedding_failed",
					slog.String("retrieval_id", sc.RetrievalID),
					slog.String("error", err.Error()))
				// Queries and embeddings stay positionally aligned; without
				// vectors the queries are dropped too.
				sc.AdditionalQueries = nil
				return nil
			}
			sc.AdditionalEmbeddings = embeddings
			return nil
		})
	}

	if hybridEnabled && bm25Searcher != nil {
		g.Go(func() error {
			start := time.Now()
			results, err := bm25Searcher.SearchBM25(gctx, sc.Query, bm25Limit)
			if err != nil {
				logger.Warn("hybrid_bm25_search_failed",
					slog.String("retrieval_id", sc.RetrievalID),
					slog.String("error", err.Error()),
					slog.Int64("duration_ms", time.Since(start).Milliseconds()))
				return nil
			}
			sc.BM25Results = results
			logger.Info("hybrid_bm25_search_completed",
				slog.String("retrieval_id", sc.RetrievalID),
				slog.Int("bm25_hits", len(results)),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()))
			return nil
		})
	}

	g.Go(func() error {
		var results []domain.SearchResult
		var err error
		if len(sc.CandidateArticleIDs) > 0 {
			results, err = chunkRepo.SearchWithinArticles(gctx, sc.OriginalEmbedding, sc.CandidateArticleIDs, sc.SearchLimit)
		} else {
			results, err = chunkRepo.Search(gctx, sc.OriginalEmbedding, sc.SearchLimit)
		}
		if err != nil {
			return fmt.Errorf("failed to search original query: %w", err)
		}
		sc.OriginalResults = results
		return nil
	})

	return g.Wait()
}

// mergeQueryLists appends the tag queries that are not already among the
// expanded queries, preserving order. The combined list is what gets
// embedded, so its order fixes the positional alignment with
// AdditionalEmbeddings.
func mergeQueryLists(expandedQueries, tagQueries []string) []string {
	merged := make([]string, 0, len(expandedQueries)+len(tagQueries))
	merged = append(merged, expandedQueries...)
	for _, tag := range tagQueries {
		duplicate := false
		for _, eq := range expandedQueries {
			if eq == tag {
				duplicate = true
				break
			}
		}
		if !duplicate {
			merged = append(merged, tag)
		}
	}
	return merged
}
