package altdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/google/uuid"
)

// HTTPArticleClient implements domain.ArticleClient against the backend's
// internal articles API.
type HTTPArticleClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPArticleClient creates a new HTTP-based article client.
func NewHTTPArticleClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPArticleClient {
	return &HTTPArticleClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

var _ domain.ArticleClient = (*HTTPArticleClient)(nil)

type recentArticlesResponse struct {
	Articles []articleMetadataDTO `json:"articles"`
	Since    string               `json:"since"`
	Until    string               `json:"until"`
	Count    int                  `json:"count"`
}

type articleMetadataDTO struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	PublishedAt string   `json:"published_at"`
	FeedID      string   `json:"feed_id"`
	Tags        []string `json:"tags"`
}

// GetRecentArticles fetches articles published within the window, newest
// first. Records with unparsable ids are dropped rather than failing the
// whole fetch.
func (c *HTTPArticleClient) GetRecentArticles(ctx context.Context, withinHours int, limit int) ([]domain.ArticleMetadata, error) {
	query := url.Values{}
	query.Set("within_hours", strconv.Itoa(withinHours))
	query.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + "/v1/internal/articles/recent?" + query.Encode()

	c.logger.Info("fetching recent articles",
		slog.Int("within_hours", withinHours),
		slog.Int("limit", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent articles: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, string(body))
	}

	var response recentArticlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Info("fetched recent articles", slog.Int("count", response.Count))

	articles := make([]domain.ArticleMetadata, 0, len(response.Articles))
	for _, dto := range response.Articles {
		article, err := c.toArticle(dto)
		if err != nil {
			c.logger.Warn("skipping malformed article record",
				slog.String("id", dto.ID),
				slog.String("error", err.Error()))
			continue
		}
		articles = append(articles, article)
	}

	return articles, nil
}

// toArticle converts one backend record. FeedID is optional in the payload
// and a missing publication time degrades to now rather than dropping the
// record.
func (c *HTTPArticleClient) toArticle(dto articleMetadataDTO) (domain.ArticleMetadata, error) {
	articleID, err := uuid.Parse(dto.ID)
	if err != nil {
		return domain.ArticleMetadata{}, fmt.Errorf("invalid article id %q: %w", dto.ID, err)
	}

	feedID, err := uuid.Parse(dto.FeedID)
	if err != nil {
		feedID = uuid.Nil
	}

	publishedAt, err := time.Parse(time.RFC3339, dto.PublishedAt)
	if err != nil {
		c.logger.Warn("invalid published_at, using current time",
			slog.String("published_at", dto.PublishedAt))
		publishedAt = time.Now()
	}

	return domain.ArticleMetadata{
		ID:          articleID,
		Title:       dto.Title,
		URL:         dto.URL,
		PublishedAt: publishedAt,
		FeedID:      feedID,
		Tags:        dto.Tags,
	}, nil
}
