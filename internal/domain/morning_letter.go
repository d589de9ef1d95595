package domain

import (
	"time"

	"github.com/google/uuid"
)

// TopicSummary is one clustered topic extracted from a recent-news window.
type TopicSummary struct {
	Topic       string       `json:"topic"`
	Headline    string       `json:"headline"`
	Summary     string       `json:"summary"`
	Importance  float32      `json:"importance"` // 0..1
	ArticleRefs []ArticleRef `json:"article_refs"`
	Keywords    []string     `json:"keywords"`
}

// ArticleRef points a topic back at one of its source articles.
type ArticleRef struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// TopicsMeta carries the model's own assessment of its coverage.
type TopicsMeta struct {
	TopicsFound        int    `json:"topics_found"`
	CoverageAssessment string `json:"coverage_assessment"`
}
