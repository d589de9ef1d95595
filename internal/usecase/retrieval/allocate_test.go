package retrieval_test

import (
	"testing"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"
	"github.com/Kaikei-e/Alt-sub006/internal/usecase/retrieval"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAllocate_DynamicMode_GlobalScoreOrder(t *testing.T) {
	sc := &retrieval.StageContext{
		RetrievalID:   "alloc-dyn-order",
		QuotaOriginal: 3,
		QuotaExpanded: 3,
		HitsOriginal: []domain.SearchResult{
			makeSearchResult("プロセス分離の基礎", 0.88),
			makeSearchResult("Container runtimes compared", 0.72),
		},
		HitsExpanded: []retrieval.ContextItem{
			makeContextItem("eBPF observability primer", 0.93),
			makeContextItem("落ち穂拾い", 0.35),
		},
	}

	contexts := retrieval.Allocate(sc, retrieval.AllocateConfig{
		DynamicLanguageAllocationEnabled: true,
	}, discardLogger())

	assert.Len(t, contexts, 4)
	assert.Equal(t, "eBPF observability primer", contexts[0].Title)
	assert.Equal(t, "プロセス分離の基礎", contexts[1].Title)
	assert.Equal(t, "Container runtimes compared", contexts[2].Title)
	assert.Equal(t, "落ち穂拾い", contexts[3].Title)
	for i := 1; i < len(contexts); i++ {
		assert.LessOrEqual(t, contexts[i].Score, contexts[i-1].Score)
	}
}

func TestAllocate_DynamicMode_CombinedQuotaIgnoresListBoundary(t *testing.T) {
	sc := &retrieval.StageContext{
		RetrievalID:   "alloc-dyn-quota",
		QuotaOriginal: 1,
		QuotaExpanded: 1,
		HitsOriginal: []domain.SearchResult{
			makeSearchResult("Original pick", 0.50),
		},
		HitsExpanded: []retrieval.ContextItem{
			makeContextItem("Expanded front runner", 0.90),
			makeContextItem("Expanded runner up", 0.80),
			makeContextItem("Expanded tail", 0.10),
		},
	}

	contexts := retrieval.Allocate(sc, retrieval.AllocateConfig{
		DynamicLanguageAllocationEnabled: true,
	}, discardLogger())

	// The quotas only size the budget; the cut is global by score, so one
	// list may take every slot.
	assert.Len(t, contexts, 2)
	assert.Equal(t, "Expanded front runner", contexts[0].Title)
	assert.Equal(t, "Expanded runner up", contexts[1].Title)
}

func TestAllocate_DynamicMode_OriginalCopyWinsOnSharedChunk(t *testing.T) {
	sharedID := uuid.New()

	sc := &retrieval.StageContext{
		RetrievalID:   "alloc-dyn-dedupe",
		QuotaOriginal: 5,
		QuotaExpanded: 5,
		HitsOriginal: []domain.SearchResult{
			{
				Chunk: domain.RagChunk{ID: sharedID, Content: "shared content"},
				Score: 0.64,
				Title: "Shared story",
			},
		},
		HitsExpanded: []retrieval.ContextItem{
			{ChunkID: sharedID, Title: "Shared story", Score: 0.91},
			makeContextItem("Unique story", 0.80),
		},
	}

	contexts := retrieval.Allocate(sc, retrieval.AllocateConfig{
		DynamicLanguageAllocationEnabled: true,
	}, discardLogger())

	// Deduplication runs before the sort, so the original-list copy survives
	// even though the expanded copy outscores it.
	assert.Len(t, contexts, 2)
	assert.Equal(t, "Unique story", contexts[0].Title)
	assert.Equal(t, "Shared story", contexts[1].Title)
	assert.Equal(t, float32(0.64), contexts[1].Score)
}

func TestAllocate_LegacyMode_OriginalSlotsFollowListOrder(t *testing.T) {
	sc := &retrieval.StageContext{
		RetrievalID:   "alloc-legacy-order",
		QuotaOriginal: 1,
		QuotaExpanded: 0,
		HitsOriginal: []domain.SearchResult{
			makeSearchResult("First in list", 0.55),
			makeSearchResult("Second in list", 0.95),
		},
	}

	contexts := retrieval.Allocate(sc, retrieval.AllocateConfig{
		DynamicLanguageAllocationEnabled: false,
	}, discardLogger())

	// Legacy slots trust the upstream ranking, not the raw score.
	assert.Len(t, contexts, 1)
	assert.Equal(t, "First in list", contexts[0].Title)
}

func TestAllocate_LegacyMode_EnglishFillsExpandedSlotsFirst(t *testing.T) {
	sc := &retrieval.StageContext{
		RetrievalID:   "alloc-legacy-lang",
		QuotaOriginal: 1,
		QuotaExpanded: 2,
		HitsOriginal: []domain.SearchResult{
			makeSearchResult("開発日誌", 0.95),
		},
		HitsExpanded: []retrieval.ContextItem{
			makeContextItem("設計メモ", 0.90),
			makeContextItem("Design retrospective", 0.85),
			makeContextItem("視点の整理", 0.80),
		},
	}

	contexts := retrieval.Allocate(sc, retrieval.AllocateConfig{
		DynamicLanguageAllocationEnabled: false,
	}, discardLogger())

	assert.Len(t, contexts, 3)
	assert.Equal(t, "開発日誌", contexts[0].Title)
	assert.Equal(t, "Design retrospective", contexts[1].Title, "non-Japanese titles fill the expanded quota first")
	assert.Equal(t, "設計メモ", contexts[2].Title, "the second pass falls back to higher-ranked Japanese hits")
}

func TestAllocate_LegacyMode_SkipsChunksAlreadyTakenFromOriginal(t *testing.T) {
	shared := makeContextItem("Shared story", 0.85)

	sc := &retrieval.StageContext{
		RetrievalID:   "alloc-legacy-dedupe",
		QuotaOriginal: 2,
		QuotaExpanded: 2,
		HitsOriginal: []domain.SearchResult{
			{
				Chunk: domain.RagChunk{ID: shared.ChunkID, Content: shared.ChunkText},
				Score: 0.95,
				Title: shared.Title,
			},
		},
		HitsExpanded: []retrieval.ContextItem{
			shared,
			makeContextItem("Backup story", 0.60),
		},
	}

	contexts := retrieval.Allocate(sc, retrieval.AllocateConfig{
		DynamicLanguageAllocationEnabled: false,
	}, discardLogger())

	assert.Len(t, contexts, 2)
	assert.Equal(t, "Shared story", contexts[0].Title)
	assert.Equal(t, "Backup story", contexts[1].Title)
}

func TestAllocate_AppliedTwiceIsIdempotent(t *testing.T) {
	for name, dynamic := range map[string]bool{"dynamic": true, "legacy": false} {
		t.Run(name, func(t *testing.T) {
			sc := &retrieval.StageContext{
				RetrievalID:   "alloc-idem",
				QuotaOriginal: 2,
				QuotaExpanded: 2,
				HitsOriginal: []domain.SearchResult{
					makeSearchResult("Scheduler internals", 0.91),
					makeSearchResult("キャッシュ戦略", 0.77),
				},
				HitsExpanded: []retrieval.ContextItem{
					makeContextItem("Memory ballast tuning", 0.84),
					makeContextItem("障害の振り返り", 0.52),
				},
			}
			cfg := retrieval.AllocateConfig{DynamicLanguageAllocationEnabled: dynamic}

			first := retrieval.Allocate(sc, cfg, discardLogger())
			second := retrieval.Allocate(sc, cfg, discardLogger())

			assert.Equal(t, first, second)
		})
	}
}

func TestAllocate_EmptyInputs(t *testing.T) {
	sc := &retrieval.StageContext{
		RetrievalID:   "alloc-empty",
		QuotaOriginal: 5,
		QuotaExpanded: 5,
	}

	contexts := retrieval.Allocate(sc, retrieval.AllocateConfig{
		DynamicLanguageAllocationEnabled: true,
	}, discardLogger())

	assert.Empty(t, contexts)
}

func TestAllocate_PublishedAtFormatting(t *testing.T) {
	dated := makeSearchResult("Dated story", 0.9)
	dated.PublishedAt = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	undated := makeSearchResult("Undated story", 0.8)

	sc := &retrieval.StageContext{
		RetrievalID:   "alloc-published",
		QuotaOriginal: 5,
		QuotaExpanded: 5,
		HitsOriginal:  []domain.SearchResult{dated, undated},
	}

	contexts := retrieval.Allocate(sc, retrieval.AllocateConfig{
		DynamicLanguageAllocationEnabled: true,
	}, discardLogger())

	assert.Len(t, contexts, 2)
	assert.Equal(t, "2025-06-01T09:30:00Z", contexts[0].PublishedAt)
	assert.Empty(t, contexts[1].PublishedAt, "a zero publish time renders empty, not the epoch")
}

func TestIsJapanese(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"English Title", false},
		{"日本語のタイトル", true},
		{"カタカナ", true},
		{"ひらがな", true},
		{"Mixed日本語Title", true},
		{"漢字まじりのTitle", true},
		{"123 Numbers", false},
		{"🚀 launch notes", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, retrieval.IsJapanese(tt.input))
		})
	}
}

// Helpers

func makeSearchResult(title string, score float32) domain.SearchResult {
	return domain.SearchResult{
		Chunk: domain.RagChunk{
			ID:      uuid.New(),
			Content: "content for " + title,
		},
		Score: score,
		Title: title,
	}
}

func makeContextItem(title string, score float32) retrieval.ContextItem {
	return retrieval.ContextItem{
		ChunkID:   uuid.New(),
		ChunkText: "content for " + title,
		Title:     title,
		Score:     score,
	}
}
