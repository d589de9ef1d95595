package usecase

import (
	"fmt"
	"time"
)

// RerankingConfig holds settings for cross-encoder reranking.
type RerankingConfig struct {
	// Enabled controls whether reranking is applied.
	Enabled bool
	// TopK is the number of scored results requested from the reranker.
	TopK int
	// Timeout is the maximum duration for reranking requests.
	Timeout time.Duration
}

// DefaultRerankingConfig returns the standard reranking settings.
func DefaultRerankingConfig() RerankingConfig {
	return RerankingConfig{
		Enabled: true,
		TopK:    10,
		Timeout: 30 * time.Second,
	}
}

// Validate checks if the reranking configuration is valid.
func (c RerankingConfig) Validate() error {
	if c.Enabled {
		if c.TopK <= 0 {
			return fmt.Errorf("reranking topK must be positive, got %d", c.TopK)
		}
		if c.Timeout <= 0 {
			return fmt.Errorf("reranking timeout must be positive, got %v", c.Timeout)
		}
	}
	return nil
}

// HybridSearchConfig holds settings for BM25+vector hybrid search.
type HybridSearchConfig struct {
	// Enabled controls whether BM25 results are fused with vector results.
	Enabled bool
	// Alpha weights BM25 (0.0) against vector (1.0). Reserved for weighted
	// fusion; the current fusion is rank-based and does not read it.
	Alpha float64
	// BM25Limit is the number of BM25 results to fetch for fusion.
	BM25Limit int
}

// DefaultHybridSearchConfig returns the standard hybrid search settings.
func DefaultHybridSearchConfig() HybridSearchConfig {
	return HybridSearchConfig{
		Enabled:   true,
		Alpha:     0.3,
		BM25Limit: 50,
	}
}

// Validate checks if the hybrid search configuration is valid.
func (c HybridSearchConfig) Validate() error {
	if c.Enabled {
		if c.Alpha < 0.0 || c.Alpha > 1.0 {
			return fmt.Errorf("hybrid alpha must be in [0.0, 1.0], got %f", c.Alpha)
		}
		if c.BM25Limit <= 0 {
			return fmt.Errorf("hybrid BM25Limit must be positive, got %d", c.BM25Limit)
		}
	}
	return nil
}

// LanguageAllocationConfig controls the final allocation stage.
type LanguageAllocationConfig struct {
	// Enabled switches allocation from fixed per-source quotas to a merged
	// top-N by score.
	Enabled bool
}

// RetrievalConfig holds the tunable parameters for RAG retrieval.
type RetrievalConfig struct {
	// SearchLimit is the number of candidates fetched per dense search
	// before quota filtering.
	SearchLimit int

	// QuotaOriginal is the number of chunks selected from the
	// original-query results.
	QuotaOriginal int

	// QuotaExpanded is the number of chunks selected from the
	// expanded-query results.
	QuotaExpanded int

	// RRFK is the reciprocal-rank fusion constant.
	RRFK float64

	// Reranking holds cross-encoder reranking settings.
	Reranking RerankingConfig

	// HybridSearch holds BM25+vector fusion settings.
	HybridSearch HybridSearchConfig

	// LanguageAllocation holds final-allocation settings.
	LanguageAllocation LanguageAllocationConfig
}

// DefaultRetrievalConfig returns the standard retrieval settings.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		SearchLimit:        50,
		QuotaOriginal:      5,
		QuotaExpanded:      5,
		RRFK:               60.0,
		Reranking:          DefaultRerankingConfig(),
		HybridSearch:       DefaultHybridSearchConfig(),
		LanguageAllocation: LanguageAllocationConfig{Enabled: true},
	}
}

// TotalQuota returns the total number of chunks passed to the LLM.
func (c RetrievalConfig) TotalQuota() int {
	return c.QuotaOriginal + c.QuotaExpanded
}

// Validate checks if the configuration values are within acceptable ranges.
func (c RetrievalConfig) Validate() error {
	if c.SearchLimit <= 0 {
		return fmt.Errorf("searchLimit must be positive, got %d", c.SearchLimit)
	}
	if c.QuotaOriginal < 0 {
		return fmt.Errorf("quotaOriginal must be non-negative, got %d", c.QuotaOriginal)
	}
	if c.QuotaExpanded < 0 {
		return fmt.Errorf("quotaExpanded must be non-negative, got %d", c.QuotaExpanded)
	}
	if c.TotalQuota() > 20 {
		return fmt.Errorf("total quota (%d) exceeds maximum of 20", c.TotalQuota())
	}
	if err := c.Reranking.Validate(); err != nil {
		return fmt.Errorf("reranking config invalid: %w", err)
	}
	if err := c.HybridSearch.Validate(); err != nil {
		return fmt.Errorf("hybrid search config invalid: %w", err)
	}
	return nil
}
