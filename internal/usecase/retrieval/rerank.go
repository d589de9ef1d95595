package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/google/uuid"
)

// maxRerankCandidates bounds the cross-encoder batch regardless of
// configuration; larger batches push inference past any usable timeout.
const maxRerankCandidates = 30

// RerankConfig holds the reranking stage parameters.
type RerankConfig struct {
	Enabled bool
	Timeout time.Duration
}

// Rerank is the fourth pipeline stage. It rescores the fused candidates with
// a cross-encoder and re-sorts both hit lists. The stage is best-effort: on
// failure or timeout it leaves the fusion scores untouched and the pipeline
// continues.
func Rerank(
	ctx context.Context,
	sc *StageContext,
	reranker domain.Reranker,
	cfg RerankConfig,
	logger *slog.Logger,
) {
	if !cfg.Enabled || reranker == nil {
		return
	}

	start := time.Now()
	candidates := buildRerankCandidates(sc)

	rerankCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	reranked, err := reranker.Rerank(rerankCtx, sc.Query, candidates)
	cancel()

	duration := time.Since(start)
	if err != nil {
		logger.Warn("reranking_failed_using_original_scores",
			slog.String("retrieval_id", sc.RetrievalID),
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", duration.Milliseconds()))
		return
	}

	logger.Info("reranking_completed",
		slog.String("retrieval_id", sc.RetrievalID),
		slog.Int("candidate_count", len(candidates)),
		slog.Int("reranked_count", len(reranked)),
		slog.String("model", reranker.ModelName()),
		slog.Int64("duration_ms", duration.Milliseconds()))

	applyRerankScores(sc, reranked)
}

// buildRerankCandidates gathers the unique chunks from both hit lists,
// original hits first so their content wins on overlap, and truncates to the
// strongest maxRerankCandidates by current score.
func buildRerankCandidates(sc *StageContext) []domain.RerankCandidate {
	seen := make(map[uuid.UUID]struct{}, len(sc.HitsOriginal)+len(sc.HitsExpanded))
	candidates := make([]domain.RerankCandidate, 0, len(sc.HitsOriginal)+len(sc.HitsExpanded))

	for _, res := range sc.HitsOriginal {
		if _, ok := seen[res.Chunk.ID]; ok {
			continue
		}
		seen[res.Chunk.ID] = struct{}{}
		candidates = append(candidates, domain.RerankCandidate{
			ID:      res.Chunk.ID.String(),
			Content: res.Chunk.Content,
			Score:   res.Score,
		})
	}
	for _, item := range sc.HitsExpanded {
		if _, ok := seen[item.ChunkID]; ok {
			continue
		}
		seen[item.ChunkID] = struct{}{}
		candidates = append(candidates, domain.RerankCandidate{
			ID:      item.ChunkID.String(),
			Content: item.ChunkText,
			Score:   item.Score,
		})
	}

	if len(candidates) > maxRerankCandidates {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Score > candidates[j].Score
		})
		candidates = candidates[:maxRerankCandidates]
	}
	return candidates
}

// applyRerankScores overwrites the scores of every hit the cross-encoder
// scored and re-sorts both lists descending. Hits the model skipped keep
// their fusion scores.
func applyRerankScores(sc *StageContext, reranked []domain.RerankResult) {
	scores := make(map[uuid.UUID]float32, len(reranked))
	for _, r := range reranked {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			continue
		}
		scores[id] = r.Score
	}

	for i := range sc.HitsOriginal {
		if score, ok := scores[sc.HitsOriginal[i].Chunk.ID]; ok {
			sc.HitsOriginal[i].Score = score
		}
	}
	sort.SliceStable(sc.HitsOriginal, func(i, j int) bool {
		return sc.HitsOriginal[i].Score > sc.HitsOriginal[j].Score
	})

	for i := range sc.HitsExpanded {
		if score, ok := scores[sc.HitsExpanded[i].ChunkID]; ok {
			sc.HitsExpanded[i].Score = score
		}
	}
	sort.SliceStable(sc.HitsExpanded, func(i, j int) bool {
		return sc.HitsExpanded[i].Score > sc.HitsExpanded[j].Score
	})
}
