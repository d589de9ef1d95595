package altdb

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPArticleClient_GetRecentArticles_SkipsInvalidIDs(t *testing.T) {
	goodID := uuid.New()
	feedID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/internal/articles/recent", r.URL.Path)
		assert.Equal(t, "24", r.URL.Query().Get("within_hours"))
		assert.Equal(t, "0", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"articles": []map[string]interface{}{
				{
					"id":           goodID.String(),
					"title":        "Valid article",
					"url":          "https://example.com/valid",
					"published_at": "2025-12-25T09:00:00Z",
					"feed_id":      feedID.String(),
					"tags":         []string{"tech"},
				},
				{
					"id":           "not-a-uuid",
					"title":        "Broken article",
					"url":          "https://example.com/broken",
					"published_at": "2025-12-25T08:00:00Z",
				},
			},
			"count": 2,
		})
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := NewHTTPArticleClient(server.URL, 5*time.Second, logger)

	articles, err := client.GetRecentArticles(context.Background(), 24, 0)
	require.NoError(t, err)

	require.Len(t, articles, 1)
	assert.Equal(t, goodID, articles[0].ID)
	assert.Equal(t, "Valid article", articles[0].Title)
	assert.Equal(t, feedID, articles[0].FeedID)
	assert.Equal(t, []string{"tech"}, articles[0].Tags)
	assert.Equal(t, time.Date(2025, 12, 25, 9, 0, 0, 0, time.UTC), articles[0].PublishedAt.UTC())
}

func TestHTTPArticleClient_GetRecentArticles_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := NewHTTPArticleClient(server.URL, 5*time.Second, logger)

	_, err := client.GetRecentArticles(context.Background(), 24, 0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
