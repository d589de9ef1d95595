package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ArticleMetadata is the minimal article record needed for time-window
// filtering and presentation.
type ArticleMetadata struct {
	ID          uuid.UUID
	Title       string
	URL         string
	PublishedAt time.Time
	FeedID      uuid.UUID
	Tags        []string
}

// ArticleClient fetches article metadata from the backend service.
type ArticleClient interface {
	// GetRecentArticles returns articles published within the last
	// withinHours hours, newest first. A limit of 0 means no cap beyond
	// the time window.
	GetRecentArticles(ctx context.Context, withinHours int, limit int) ([]ArticleMetadata, error)
}
