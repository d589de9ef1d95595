package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/meilisearch/meilisearch-go"
)

// tagSearchLimit bounds the page fetched for tag harvesting. Retrieval only
// reads tags from the top hits, so a small page is enough.
const tagSearchLimit = 10

// Connect builds a meilisearch client and waits for the service to become
// healthy. Retrieval treats search as optional, so callers may continue with
// a nil client when this fails.
func Connect(host, apiKey string, logger *slog.Logger) (meilisearch.ServiceManager, error) {
	const maxRetries = 5
	const retryDelay = 5 * time.Second

	var client meilisearch.ServiceManager
	for i := range maxRetries {
		client = meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
		if _, err := client.Health(); err != nil {
			logger.Warn("meilisearch not ready, retrying",
				slog.Int("attempt", i+1),
				slog.Int("max", maxRetries),
				slog.String("error", err.Error()))
			if i < maxRetries-1 {
				time.Sleep(retryDelay)
				continue
			}
			return nil, fmt.Errorf("failed to connect to meilisearch after %d attempts: %w", maxRetries, err)
		}
		break
	}
	return client, nil
}

// MeilisearchClient serves both the tag-harvest search and the keyword leg of
// hybrid retrieval from the articles index.
type MeilisearchClient struct {
	index  meilisearch.IndexManager
	logger *slog.Logger
}

// NewMeilisearchClient wraps an established connection around one index.
func NewMeilisearchClient(client meilisearch.ServiceManager, indexName string, logger *slog.Logger) *MeilisearchClient {
	return &MeilisearchClient{
		index:  client.Index(indexName),
		logger: logger,
	}
}

var (
	_ domain.SearchClient = (*MeilisearchClient)(nil)
	_ domain.BM25Searcher = (*MeilisearchClient)(nil)
)

// Search returns full-text hits for tag harvesting.
func (c *MeilisearchClient) Search(ctx context.Context, query string) ([]domain.SearchHit, error) {
	result, err := c.index.SearchWithContext(ctx, query, &meilisearch.SearchRequest{
		Query: query,
		Limit: tagSearchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("meilisearch search failed: %w", err)
	}

	hits := make([]domain.SearchHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var hitMap map[string]interface{}
		if err := hit.Decode(&hitMap); err != nil {
			continue
		}
		hits = append(hits, domain.SearchHit{
			ID:      getString(hitMap, "id"),
			Title:   getString(hitMap, "title"),
			Content: getString(hitMap, "content"),
			Tags:    getStringSlice(hitMap, "tags"),
		})
	}
	return hits, nil
}

// SearchBM25 runs keyword search and assigns 1-based ranks in result order,
// the input reciprocal-rank fusion expects. The articles index ranks whole
// articles, so ChunkID stays empty.
func (c *MeilisearchClient) SearchBM25(ctx context.Context, query string, limit int) ([]domain.BM25SearchResult, error) {
	result, err := c.index.SearchWithContext(ctx, query, &meilisearch.SearchRequest{
		Query:            query,
		Limit:            int64(limit),
		ShowRankingScore: true,
	})
	if err != nil {
		return nil, fmt.Errorf("meilisearch keyword search failed: %w", err)
	}

	results := make([]domain.BM25SearchResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var hitMap map[string]interface{}
		if err := hit.Decode(&hitMap); err != nil {
			continue
		}
		results = append(results, domain.BM25SearchResult{
			ArticleID: getString(hitMap, "id"),
			Content:   getString(hitMap, "content"),
			Title:     getString(hitMap, "title"),
			Rank:      len(results) + 1,
			Score:     float32(getFloat64(hitMap, "_rankingScore")),
		})
	}
	return results, nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getStringSlice(m map[string]interface{}, key string) []string {
	if v, ok := m[key]; ok {
		if slice, ok := v.([]interface{}); ok {
			result := make([]string, 0, len(slice))
			for _, item := range slice {
				if s, ok := item.(string); ok {
					result = append(result, s)
				}
			}
			return result
		}
	}
	return []string{}
}

func getFloat64(m map[string]interface{}, key string) float64 {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}
