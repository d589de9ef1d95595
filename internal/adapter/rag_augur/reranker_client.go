package rag_augur

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"
)

// RerankRequest mirrors the news-creator /v1/rerank request body.
type RerankRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
}

// RerankResponseResult scores one candidate by its position in the request.
type RerankResponseResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// RerankResponse mirrors the news-creator /v1/rerank response body.
type RerankResponse struct {
	Results          []RerankResponseResult `json:"results"`
	Model            string                 `json:"model"`
	ProcessingTimeMs *float64               `json:"processing_time_ms,omitempty"`
}

// RerankerClient scores candidates against a query with a cross-encoder
// model served by news-creator.
type RerankerClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRerankerClient builds a client for the news-creator rerank endpoint.
// An optional *http.Client overrides the default client built from timeout.
func NewRerankerClient(baseURL, model string, timeout time.Duration, logger *slog.Logger, client ...*http.Client) *RerankerClient {
	httpClient := &http.Client{Timeout: timeout}
	if len(client) > 0 && client[0] != nil {
		httpClient = client[0]
	}
	return &RerankerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}
}

var _ domain.Reranker = (*RerankerClient)(nil)

// Rerank submits the candidate texts and maps the scored indices back onto
// candidate IDs. Result order follows the server's score-descending order.
func (c *RerankerClient) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
	if len(candidates) == 0 {
		return []domain.RerankResult{}, nil
	}

	start := time.Now()
	c.logger.Info("rerank_request_started",
		slog.String("query", truncateString(query, 100)),
		slog.Int("candidate_count", len(candidates)),
		slog.String("model", c.model))

	contents := make([]string, len(candidates))
	for i, cand := range candidates {
		contents[i] = cand.Content
	}

	resp, err := c.post(ctx, RerankRequest{
		Query:      query,
		Candidates: contents,
		Model:      c.model,
	})
	if err != nil {
		c.logger.Warn("rerank_request_failed",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}

	results := make([]domain.RerankResult, len(resp.Results))
	for i, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			return nil, fmt.Errorf("invalid result index %d for %d candidates", r.Index, len(candidates))
		}
		results[i] = domain.RerankResult{
			ID:    candidates[r.Index].ID,
			Score: r.Score,
		}
	}

	c.logger.Info("rerank_request_completed",
		slog.Int("result_count", len(results)),
		slog.String("model", resp.Model),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return results, nil
}

func (c *RerankerClient) post(ctx context.Context, reqBody RerankRequest) (*RerankResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call rerank endpoint: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("rerank endpoint returned %d: %s", httpResp.StatusCode, string(body))
	}

	var resp RerankResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	return &resp, nil
}

// ModelName identifies the cross-encoder model in stage logs.
func (c *RerankerClient) ModelName() string {
	return c.model
}
