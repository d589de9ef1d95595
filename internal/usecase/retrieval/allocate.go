package retrieval

import (
	"log/slog"
	"sort"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/google/uuid"
)

// AllocateConfig holds the allocation stage parameters.
type AllocateConfig struct {
	DynamicLanguageAllocationEnabled bool
}

// Allocate is the fifth pipeline stage. It selects the final context list
// from the original and expanded hits, bounded by the two quotas. Dynamic
// mode merges both lists and keeps the global top-N by score; legacy mode
// fills each quota from its own list, preferring non-Japanese titles on the
// expanded side.
func Allocate(sc *StageContext, cfg AllocateConfig, logger *slog.Logger) []ContextItem {
	if !cfg.DynamicLanguageAllocationEnabled {
		return allocateLegacy(sc.HitsOriginal, sc.HitsExpanded, sc.QuotaOriginal, sc.QuotaExpanded)
	}

	contexts := SelectContextsDynamic(sc.HitsOriginal, sc.HitsExpanded, sc.QuotaOriginal+sc.QuotaExpanded)

	jaCount, enCount := 0, 0
	for _, c := range contexts {
		if IsJapanese(c.Title) {
			jaCount++
		} else {
			enCount++
		}
	}
	logger.Info("dynamic_language_allocation_completed",
		slog.String("retrieval_id", sc.RetrievalID),
		slog.Int("japanese_count", jaCount),
		slog.Int("english_count", enCount),
		slog.Int("total_contexts", len(contexts)))
	return contexts
}

// SelectContextsDynamic merges both hit lists, deduplicates by chunk id with
// original hits taking precedence, and returns the top totalQuota items by
// score descending.
func SelectContextsDynamic(hitsOriginal []domain.SearchResult, hitsExpanded []ContextItem, totalQuota int) []ContextItem {
	seen := make(map[uuid.UUID]bool, len(hitsOriginal)+len(hitsExpanded))
	candidates := make([]ContextItem, 0, len(hitsOriginal)+len(hitsExpanded))

	for _, res := range hitsOriginal {
		if seen[res.Chunk.ID] {
			continue
		}
		seen[res.Chunk.ID] = true
		candidates = append(candidates, toContextItem(res))
	}
	for _, item := range hitsExpanded {
		if seen[item.ChunkID] {
			continue
		}
		seen[item.ChunkID] = true
		candidates = append(candidates, item)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > totalQuota {
		candidates = candidates[:totalQuota]
	}
	return candidates
}

// allocateLegacy is the fixed-quota scheme kept behind the dynamic flag.
// The original list fills quotaOriginal in order. The expanded list fills
// quotaExpanded in two passes, non-Japanese titles first, so one language
// cannot crowd out the expanded slots.
func allocateLegacy(hitsOriginal []domain.SearchResult, hitsExpanded []ContextItem, quotaOriginal, quotaExpanded int) []ContextItem {
	contexts := make([]ContextItem, 0, quotaOriginal+quotaExpanded)
	seen := make(map[uuid.UUID]bool, quotaOriginal+quotaExpanded)

	taken := 0
	for _, res := range hitsOriginal {
		if taken >= quotaOriginal {
			break
		}
		if seen[res.Chunk.ID] {
			continue
		}
		seen[res.Chunk.ID] = true
		contexts = append(contexts, toContextItem(res))
		taken++
	}

	taken = 0
	for _, item := range hitsExpanded {
		if taken >= quotaExpanded {
			break
		}
		if seen[item.ChunkID] || IsJapanese(item.Title) {
			continue
		}
		seen[item.ChunkID] = true
		contexts = append(contexts, item)
		taken++
	}
	for _, item := range hitsExpanded {
		if taken >= quotaExpanded {
			break
		}
		if seen[item.ChunkID] {
			continue
		}
		seen[item.ChunkID] = true
		contexts = append(contexts, item)
		taken++
	}

	return contexts
}

// IsJapanese reports whether s contains any hiragana, katakana, or common
// CJK ideograph.
func IsJapanese(s string) bool {
	for _, r := range s {
		if r >= '぀' && r <= 'ゟ' {
			return true
		}
		if r >= '゠' && r <= 'ヿ' {
			return true
		}
		if r >= '一' && r <= '龯' {
			return true
		}
	}
	return false
}
