package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"
)

const (
	defaultMorningLetterMaxTokens    = 4096
	defaultMorningLetterPromptBudget = 6000

	// Rough token overhead of the system message and response format block.
	morningLetterPromptOverhead = 600
)

// MorningLetterInput defines the parameters for morning letter extraction.
type MorningLetterInput struct {
	Query       string // user query, e.g. "important news from yesterday"
	WithinHours int    // time window, default 24, capped at 168
	TopicLimit  int    // max topics to return, default 5, capped at 20
	Locale      string // response language, default "ja"
}

// MorningLetterOutput is the topic digest returned to API clients.
type MorningLetterOutput struct {
	Topics          []domain.TopicSummary `json:"topics"`
	TimeWindow      TimeWindow            `json:"time_window"`
	ArticlesScanned int                   `json:"articles_scanned"`
	GenerationInfo  GenerationInfo        `json:"generation_info"`
}

// TimeWindow represents the time range the digest covers.
type TimeWindow struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// GenerationInfo carries metadata about the LLM generation.
type GenerationInfo struct {
	Model    string `json:"model"`
	Fallback bool   `json:"fallback"`
}

// MorningLetterUsecase extracts the important topics from recently published
// articles.
type MorningLetterUsecase interface {
	Execute(ctx context.Context, input MorningLetterInput) (*MorningLetterOutput, error)
}

type morningLetterUsecase struct {
	articleClient   domain.ArticleClient
	retrieveUC      RetrieveContextUsecase
	promptBuilder   MorningLetterPromptBuilder
	llmClient       domain.LLMClient
	maxTokens       int
	maxPromptTokens int
	boostConfig     TemporalBoostConfig
	logger          *slog.Logger
}

// NewMorningLetterUsecase creates a morning letter usecase.
func NewMorningLetterUsecase(
	articleClient domain.ArticleClient,
	retrieveUC RetrieveContextUsecase,
	promptBuilder MorningLetterPromptBuilder,
	llmClient domain.LLMClient,
	maxTokens int,
	maxPromptTokens int,
	boostConfig TemporalBoostConfig,
	logger *slog.Logger,
) MorningLetterUsecase {
	if maxTokens <= 0 {
		maxTokens = defaultMorningLetterMaxTokens
	}
	if maxPromptTokens <= 0 {
		maxPromptTokens = defaultMorningLetterPromptBudget
	}
	return &morningLetterUsecase{
		articleClient:   articleClient,
		retrieveUC:      retrieveUC,
		promptBuilder:   promptBuilder,
		llmClient:       llmClient,
		maxTokens:       maxTokens,
		maxPromptTokens: maxPromptTokens,
		boostConfig:     boostConfig,
		logger:          logger,
	}
}

// Execute extracts important topics from articles published inside the window.
func (u *morningLetterUsecase) Execute(ctx context.Context, input MorningLetterInput) (*MorningLetterOutput, error) {
	withinHours := input.WithinHours
	if withinHours <= 0 {
		withinHours = 24
	}
	if withinHours > 168 {
		withinHours = 168
	}

	topicLimit := input.TopicLimit
	if topicLimit <= 0 {
		topicLimit = 5
	}
	if topicLimit > 20 {
		topicLimit = 20
	}

	locale := input.Locale
	if locale == "" {
		locale = "ja"
	}

	now := time.Now()
	since := now.Add(-time.Duration(withinHours) * time.Hour)
	window := TimeWindow{Since: since, Until: now}

	u.logger.Info("morning_letter_started",
		slog.String("query", input.Query),
		slog.Int("within_hours", withinHours),
		slog.Int("topic_limit", topicLimit),
		slog.String("locale", locale))

	// Limit 0 leaves the cap to the time constraint alone.
	articles, err := u.articleClient.GetRecentArticles(ctx, withinHours, 0)
	if err != nil {
		u.logger.Error("failed to fetch recent articles", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to fetch recent articles: %w", err)
	}

	u.logger.Info("fetched recent articles", slog.Int("count", len(articles)))

	if len(articles) == 0 {
		return &MorningLetterOutput{
			Topics:          []domain.TopicSummary{},
			TimeWindow:      window,
			ArticlesScanned: 0,
			GenerationInfo:  GenerationInfo{Model: "none", Fallback: true},
		}, nil
	}

	articleIDs := make([]string, len(articles))
	for i, a := range articles {
		articleIDs[i] = a.ID.String()
	}

	retrieveOutput, err := u.retrieveUC.Execute(ctx, RetrieveContextInput{
		Query:               input.Query,
		CandidateArticleIDs: articleIDs,
	})
	if err != nil {
		u.logger.Error("failed to retrieve context", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}

	u.logger.Info("retrieved context", slog.Int("context_count", len(retrieveOutput.Contexts)))

	if len(retrieveOutput.Contexts) == 0 {
		return &MorningLetterOutput{
			Topics:          []domain.TopicSummary{},
			TimeWindow:      window,
			ArticlesScanned: len(articles),
			GenerationInfo:  GenerationInfo{Model: "none", Fallback: true},
		}, nil
	}

	boostedContexts := u.applyTemporalBoost(retrieveOutput.Contexts, now)
	limitedContexts := u.limitContextsByTokens(boostedContexts)
	if len(limitedContexts) < len(boostedContexts) {
		u.logger.Info("limited contexts to fit prompt budget",
			slog.Int("kept", len(limitedContexts)),
			slog.Int("dropped", len(boostedContexts)-len(limitedContexts)))
	}

	messages, err := u.promptBuilder.Build(MorningLetterPromptInput{
		Query:      input.Query,
		Contexts:   limitedContexts,
		Since:      since,
		Until:      now,
		TopicLimit: topicLimit,
		Locale:     locale,
	})
	if err != nil {
		u.logger.Error("failed to build prompt", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	response, err := u.llmClient.Chat(ctx, messages, u.maxTokens)
	if err != nil {
		u.logger.Error("llm generation failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}

	topics, meta, err := u.parseTopicsResponse(response.Text, limitedContexts, articles)
	if err != nil {
		u.logger.Warn("failed to parse topics response, returning empty",
			slog.String("error", err.Error()),
			slog.String("raw_response", truncate(response.Text, 500)))
		return &MorningLetterOutput{
			Topics:          []domain.TopicSummary{},
			TimeWindow:      window,
			ArticlesScanned: len(articles),
			GenerationInfo:  GenerationInfo{Model: u.llmClient.Version(), Fallback: true},
		}, nil
	}

	if len(topics) > topicLimit {
		topics = topics[:topicLimit]
	}

	u.logger.Info("morning_letter_completed",
		slog.Int("topics_extracted", len(topics)),
		slog.Int("articles_scanned", len(articles)),
		slog.String("coverage_assessment", meta.CoverageAssessment))

	return &MorningLetterOutput{
		Topics:          topics,
		TimeWindow:      window,
		ArticlesScanned: len(articles),
		GenerationInfo: GenerationInfo{
			Model:    u.llmClient.Version(),
			Fallback: false,
		},
	}, nil
}

// applyTemporalBoost scales context scores by recency and re-sorts.
func (u *morningLetterUsecase) applyTemporalBoost(contexts []ContextItem, now time.Time) []ContextItem {
	for i := range contexts {
		publishedAt, err := time.Parse(time.RFC3339, contexts[i].PublishedAt)
		if err != nil {
			continue
		}
		hoursSince := now.Sub(publishedAt).Hours()
		contexts[i].Score *= u.boostConfig.GetBoostFactor(hoursSince)
	}

	sort.SliceStable(contexts, func(i, j int) bool {
		return contexts[i].Score > contexts[j].Score
	})

	return contexts
}

// limitContextsByTokens keeps the highest scored contexts that fit the prompt
// budget. Japanese text runs close to three bytes per token.
func (u *morningLetterUsecase) limitContextsByTokens(contexts []ContextItem) []ContextItem {
	used := morningLetterPromptOverhead
	limited := make([]ContextItem, 0, len(contexts))
	for _, ctxItem := range contexts {
		chunkTokens := len(ctxItem.ChunkText) / 3
		if used+chunkTokens > u.maxPromptTokens {
			break
		}
		used += chunkTokens
		limited = append(limited, ctxItem)
	}
	// A single oversized chunk still has to reach the model.
	if len(limited) == 0 && len(contexts) > 0 {
		limited = contexts[:1]
	}
	return limited
}

// llmTopic mirrors the topic object the model emits. Article references are
// 1-based indexes into the prompt's context list.
type llmTopic struct {
	Topic       string   `json:"topic"`
	Headline    string   `json:"headline"`
	Summary     string   `json:"summary"`
	Importance  float32  `json:"importance"`
	ArticleRefs []int    `json:"article_refs"`
	Keywords    []string `json:"keywords"`
}

type llmTopicsResponse struct {
	Topics []llmTopic        `json:"topics"`
	Meta   domain.TopicsMeta `json:"meta"`
}

// parseTopicsResponse extracts the JSON document from the model output and
// resolves article indexes into full references.
func (u *morningLetterUsecase) parseTopicsResponse(text string, contexts []ContextItem, articles []domain.ArticleMetadata) ([]domain.TopicSummary, domain.TopicsMeta, error) {
	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return nil, domain.TopicsMeta{}, err
	}

	var response llmTopicsResponse
	if err := json.Unmarshal([]byte(jsonStr), &response); err != nil {
		return nil, domain.TopicsMeta{}, fmt.Errorf("failed to unmarshal topics response: %w", err)
	}

	articlesByURL := make(map[string]domain.ArticleMetadata, len(articles))
	for _, a := range articles {
		articlesByURL[a.URL] = a
	}

	topics := make([]domain.TopicSummary, 0, len(response.Topics))
	for _, raw := range response.Topics {
		refs := make([]domain.ArticleRef, 0, len(raw.ArticleRefs))
		seen := make(map[string]struct{}, len(raw.ArticleRefs))
		for _, idx := range raw.ArticleRefs {
			if idx < 1 || idx > len(contexts) {
				continue
			}
			ctxItem := contexts[idx-1]
			if _, dup := seen[ctxItem.URL]; dup {
				continue
			}
			seen[ctxItem.URL] = struct{}{}

			ref := domain.ArticleRef{Title: ctxItem.Title, URL: ctxItem.URL}
			if publishedAt, parseErr := time.Parse(time.RFC3339, ctxItem.PublishedAt); parseErr == nil {
				ref.PublishedAt = publishedAt
			}
			if meta, ok := articlesByURL[ctxItem.URL]; ok {
				ref.ID = meta.ID
				if ref.Title == "" {
					ref.Title = meta.Title
				}
			}
			refs = append(refs, ref)
		}

		topics = append(topics, domain.TopicSummary{
			Topic:       raw.Topic,
			Headline:    raw.Headline,
			Summary:     raw.Summary,
			Importance:  raw.Importance,
			ArticleRefs: refs,
			Keywords:    raw.Keywords,
		})
	}

	return topics, response.Meta, nil
}

// extractJSONObject returns the first balanced top-level JSON object in text,
// tolerating surrounding prose and code fences.
func extractJSONObject(text string) (string, error) {
	jsonStart := -1
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			jsonStart = i
			break
		}
	}
	if jsonStart == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := jsonStart; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[jsonStart : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("incomplete JSON object")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
