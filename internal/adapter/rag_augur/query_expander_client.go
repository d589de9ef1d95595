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

// ExpandQueryRequest mirrors the news-creator /api/v1/expand-query request
// body. Counts ask for that many paraphrases per language.
type ExpandQueryRequest struct {
	Query         string `json:"query"`
	JapaneseCount int    `json:"japanese_count"`
	EnglishCount  int    `json:"english_count"`
}

// ExpandQueryResponse mirrors the news-creator /api/v1/expand-query response
// body.
type ExpandQueryResponse struct {
	ExpandedQueries  []string `json:"expanded_queries"`
	OriginalQuery    string   `json:"original_query"`
	Model            string   `json:"model"`
	ProcessingTimeMs *float64 `json:"processing_time_ms"`
}

// QueryExpanderClient asks news-creator for cross-language paraphrases of a
// search query.
type QueryExpanderClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewQueryExpanderClient builds a client for the expand-query endpoint. An
// optional *http.Client overrides the default client built from timeoutSec.
func NewQueryExpanderClient(baseURL string, timeoutSec int, logger *slog.Logger, client ...*http.Client) *QueryExpanderClient {
	httpClient := &http.Client{Timeout: time.Duration(timeoutSec) * time.Second}
	if len(client) > 0 && client[0] != nil {
		httpClient = client[0]
	}
	return &QueryExpanderClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

var _ domain.QueryExpander = (*QueryExpanderClient)(nil)

// ExpandQuery returns the expanded query variants. The original query is not
// included in the result.
func (c *QueryExpanderClient) ExpandQuery(ctx context.Context, query string, japaneseCount, englishCount int) ([]string, error) {
	start := time.Now()
	c.logger.Info("query_expansion_started",
		slog.String("query", truncateString(query, 100)),
		slog.Int("japanese_count", japaneseCount),
		slog.Int("english_count", englishCount))

	resp, err := c.post(ctx, ExpandQueryRequest{
		Query:         query,
		JapaneseCount: japaneseCount,
		EnglishCount:  englishCount,
	})
	if err != nil {
		c.logger.Warn("query_expansion_failed",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}

	c.logger.Info("query_expansion_completed",
		slog.Int("expanded_count", len(resp.ExpandedQueries)),
		slog.String("model", resp.Model),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return resp.ExpandedQueries, nil
}

func (c *QueryExpanderClient) post(ctx context.Context, reqBody ExpandQueryRequest) (*ExpandQueryResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal expand query request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/expand-query", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create expand query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call expand query endpoint: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("expand query endpoint returned %d: %s", httpResp.StatusCode, string(body))
	}

	var resp ExpandQueryResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode expand query response: %w", err)
	}
	return &resp, nil
}

// truncateString shortens log values without splitting a multibyte rune.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
