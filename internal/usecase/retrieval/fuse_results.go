package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/google/uuid"
)

// FuseResults is the third pipeline stage. It fans out dense searches for
// every additional embedding, fuses the original-query results with BM25 via
// reciprocal-rank fusion, and collapses the expanded-query results into one
// deduplicated RRF-ranked list.
func FuseResults(
	ctx context.Context,
	sc *StageContext,
	chunkRepo domain.RagChunkRepository,
	logger *slog.Logger,
) error {
	allEmbeddings := make([][]float32, 0, 1+len(sc.AdditionalEmbeddings))
	allEmbeddings = append(allEmbeddings, sc.OriginalEmbedding)
	allEmbeddings = append(allEmbeddings, sc.AdditionalEmbeddings...)

	allQueries := make([]string, 0, 1+len(sc.AdditionalQueries))
	allQueries = append(allQueries, sc.Query)
	allQueries = append(allQueries, sc.AdditionalQueries...)

	logger.Info("queries_encoded",
		slog.String("retrieval_id", sc.RetrievalID),
		slog.Int("query_count", len(allQueries)),
		slog.Any("queries", allQueries))

	allResults, err := fanOutSearches(ctx, sc, allEmbeddings, chunkRepo, logger)
	if err != nil {
		return err
	}

	if len(sc.BM25Results) > 0 {
		allResults[0] = fuseHybrid(allResults[0], sc.BM25Results, sc.RRFK, sc.RetrievalID, logger)
	}
	sc.HitsOriginal = allResults[0]
	sc.HitsExpanded = fuseExpanded(allResults[1:], sc.RRFK)

	logExpandedHits(sc, logger)
	return nil
}

// fanOutSearches runs one dense search per embedding concurrently and
// collects results by dispatch position. Index 0 reuses the original-query
// results from the previous stage. Collecting by position, not by arrival,
// keeps downstream fusion deterministic.
func fanOutSearches(
	ctx context.Context,
	sc *StageContext,
	allEmbeddings [][]float32,
	chunkRepo domain.RagChunkRepository,
	logger *slog.Logger,
) ([][]domain.SearchResult, error) {
	type indexedResult struct {
		index   int
		results []domain.SearchResult
		err     error
	}

	start := time.Now()
	resultsChan := make(chan indexedResult, len(allEmbeddings))
	resultsChan <- indexedResult{index: 0, results: sc.OriginalResults}

	restricted := len(sc.CandidateArticleIDs) > 0
	var wg sync.WaitGroup
	for i := 1; i < len(allEmbeddings); i++ {
		wg.Add(1)
		go func(idx int, vector []float32) {
			defer wg.Done()
			var results []domain.SearchResult
			var err error
			if restricted {
				results, err = chunkRepo.SearchWithinArticles(ctx, vector, sc.CandidateArticleIDs, sc.SearchLimit)
			} else {
				results, err = chunkRepo.Search(ctx, vector, sc.SearchLimit)
			}
			resultsChan <- indexedResult{index: idx, results: results, err: err}
		}(i, allEmbeddings[i])
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	collected := make([][]domain.SearchResult, len(allEmbeddings))
	var firstErr error
	for r := range resultsChan {
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		collected[r.index] = r.results
	}
	if firstErr != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", firstErr)
	}

	logger.Info("parallel_vector_search_completed",
		slog.String("retrieval_id", sc.RetrievalID),
		slog.Int("query_count", len(allEmbeddings)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return collected, nil
}

// fuseHybrid merges the original-query dense list with BM25 results using
// reciprocal-rank fusion keyed by article id; BM25 ranks articles, not
// chunks, so this is the only key both sides share. Articles seen only by
// BM25 carry no chunk to return and are dropped rather than synthesized.
func fuseHybrid(
	vectorResults []domain.SearchResult,
	bm25Results []domain.BM25SearchResult,
	rrfK float64,
	retrievalID string,
	logger *slog.Logger,
) []domain.SearchResult {
	type fusedEntry struct {
		dense    *domain.SearchResult
		rrfScore float64
	}
	fused := make(map[string]*fusedEntry, len(vectorResults))
	var order []string

	for i := range vectorResults {
		articleID := vectorResults[i].ArticleID
		entry, ok := fused[articleID]
		if !ok {
			dense := vectorResults[i]
			entry = &fusedEntry{dense: &dense}
			fused[articleID] = entry
			order = append(order, articleID)
		}
		entry.rrfScore += 1.0 / (rrfK + float64(i+1))
	}

	for _, br := range bm25Results {
		entry, ok := fused[br.ArticleID]
		if !ok {
			entry = &fusedEntry{}
			fused[br.ArticleID] = entry
			order = append(order, br.ArticleID)
		}
		entry.rrfScore += 1.0 / (rrfK + float64(br.Rank))
	}

	results := make([]domain.SearchResult, 0, len(vectorResults))
	for _, articleID := range order {
		entry := fused[articleID]
		if entry.dense == nil {
			continue
		}
		result := *entry.dense
		result.Score = float32(entry.rrfScore)
		results = append(results, result)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	logger.Info("hybrid_rrf_fusion_completed",
		slog.String("retrieval_id", retrievalID),
		slog.Int("vector_count", len(vectorResults)),
		slog.Int("bm25_count", len(bm25Results)),
		slog.Int("fused_count", len(results)))
	return results
}

// fuseExpanded collapses the expanded-query result lists into one list keyed
// by chunk id. The first occurrence of a chunk fixes its presentation fields
// and dense score; every occurrence adds 1/(k+rank) to its RRF score, which
// decides the order of the returned list.
func fuseExpanded(expandedResults [][]domain.SearchResult, rrfK float64) []ContextItem {
	type chunkEntry struct {
		item     ContextItem
		rrfScore float64
	}
	entries := make(map[uuid.UUID]*chunkEntry)
	var order []uuid.UUID

	for _, results := range expandedResults {
		for rank, res := range results {
			entry, ok := entries[res.Chunk.ID]
			if !ok {
				entry = &chunkEntry{item: toContextItem(res)}
				entries[res.Chunk.ID] = entry
				order = append(order, res.Chunk.ID)
			}
			entry.rrfScore += 1.0 / (rrfK + float64(rank+1))
		}
	}

	hits := make([]ContextItem, 0, len(order))
	for _, id := range order {
		hits = append(hits, entries[id].item)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return entries[hits[i].ChunkID].rrfScore > entries[hits[j].ChunkID].rrfScore
	})
	return hits
}

// logExpandedHits emits a debug snapshot of the strongest expanded hits so
// operators can see what the rewrites contributed.
func logExpandedHits(sc *StageContext, logger *slog.Logger) {
	limit := 5
	if len(sc.HitsExpanded) < limit {
		limit = len(sc.HitsExpanded)
	}
	if limit == 0 {
		logger.Info("expanded_query_hits_debug",
			slog.String("retrieval_id", sc.RetrievalID),
			slog.String("msg", "no hits for expanded queries"))
		return
	}

	top := make([]map[string]interface{}, 0, limit)
	for _, hit := range sc.HitsExpanded[:limit] {
		top = append(top, map[string]interface{}{
			"title": hit.Title,
			"url":   hit.URL,
			"score": hit.Score,
		})
	}
	logger.Info("expanded_query_hits_debug",
		slog.String("retrieval_id", sc.RetrievalID),
		slog.Any("top_hits", top))
}
