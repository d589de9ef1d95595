package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var errNoContext = errors.New("no context returned from retrieval")

type answerWithRAGUsecase struct {
	retrieve        RetrieveContextUsecase
	promptBuilder   PromptBuilder
	llmClient       domain.LLMClient
	validator       OutputValidator
	maxChunks       int
	maxTokens       int
	maxPromptTokens int
	promptVersion   string
	defaultLocale   string
	logger          *slog.Logger
	cache           *expirable.LRU[string, *AnswerWithRAGOutput]
}

// AnswerOption adjusts optional behavior of the answer usecase.
type AnswerOption func(*answerWithRAGUsecase)

// WithCacheConfig enables the in-memory answer cache with the given capacity
// and entry TTL. Only successful, non-fallback answers are cached.
func WithCacheConfig(size int, ttl time.Duration) AnswerOption {
	return func(u *answerWithRAGUsecase) {
		if size <= 0 {
			return
		}
		u.cache = expirable.NewLRU[string, *AnswerWithRAGOutput](size, nil, ttl)
	}
}

// NewAnswerWithRAGUsecase wires together the components needed to generate a
// grounded answer.
func NewAnswerWithRAGUsecase(
	retrieve RetrieveContextUsecase,
	promptBuilder PromptBuilder,
	llmClient domain.LLMClient,
	validator OutputValidator,
	maxChunks, maxTokens, maxPromptTokens int,
	promptVersion, defaultLocale string,
	logger *slog.Logger,
	opts ...AnswerOption,
) AnswerWithRAGUsecase {
	u := &answerWithRAGUsecase{
		retrieve:        retrieve,
		promptBuilder:   promptBuilder,
		llmClient:       llmClient,
		validator:       validator,
		maxChunks:       maxChunks,
		maxTokens:       maxTokens,
		maxPromptTokens: maxPromptTokens,
		promptVersion:   promptVersion,
		defaultLocale:   defaultLocale,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *answerWithRAGUsecase) Execute(ctx context.Context, input AnswerWithRAGInput) (*AnswerWithRAGOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	var cacheKey string
	if u.cache != nil {
		cacheKey = u.cacheKey(input)
		if cached, ok := u.cache.Get(cacheKey); ok {
			u.logger.Info("returning cached answer",
				slog.String("retrieval_set_id", cached.Debug.RetrievalSetID))
			return cached, nil
		}
	}

	promptData, err := u.buildPrompt(ctx, input)
	if err != nil {
		u.logger.Warn("failed to prepare rag prompt",
			slog.String("retrieval_set_id", promptData.retrievalSetID),
			slog.String("reason", err.Error()))
		return u.prepareFallback(promptData, err.Error(), FallbackRetrievalEmpty)
	}

	llmResp, err := u.llmClient.Chat(ctx, promptData.messages, promptData.maxTokens)
	if err != nil {
		return u.prepareFallback(promptData, fmt.Sprintf("llm generation failed: %v", err), FallbackGenerationFailed)
	}
	if llmResp == nil || strings.TrimSpace(llmResp.Text) == "" {
		u.logger.Warn("llm returned empty response",
			slog.String("retrieval_set_id", promptData.retrievalSetID),
			slog.Int("context_count", len(promptData.contexts)))
		return u.prepareFallback(promptData, "empty llm response", FallbackGenerationFailed)
	}
	if !llmResp.Done {
		u.logger.Warn("llm response incomplete",
			slog.String("retrieval_set_id", promptData.retrievalSetID))
		return u.prepareFallback(promptData, "llm response incomplete", FallbackGenerationFailed)
	}

	parsed, err := u.validator.Validate(llmResp.Text, promptData.contexts)
	if err != nil {
		u.logger.Warn("llm response validation failed",
			slog.String("retrieval_set_id", promptData.retrievalSetID),
			slog.String("error", err.Error()))
		return u.prepareFallback(promptData, fmt.Sprintf("validation failed: %v", err), FallbackValidationFailed)
	}
	if parsed.Fallback {
		reason := parsed.Reason
		if reason == "" {
			reason = "model signaled fallback"
		}
		return u.prepareFallback(promptData, reason, FallbackLLMFallback)
	}

	output := &AnswerWithRAGOutput{
		Answer:    strings.TrimSpace(parsed.Answer),
		Citations: u.buildCitations(promptData.contexts, parsed.Citations),
		Contexts:  promptData.contexts,
		Fallback:  false,
		Reason:    "",
		Debug:     u.answerDebug(promptData),
	}

	if u.cache != nil {
		u.cache.Add(cacheKey, output)
	}
	return output, nil
}

// prepareFallback converts a failed generation into a degraded-but-usable
// response. The retrieved contexts are still returned so callers can render
// source material even without an answer.
func (u *answerWithRAGUsecase) prepareFallback(promptData *promptBuildResult, reason string, category FallbackCategory) (*AnswerWithRAGOutput, error) {
	return &AnswerWithRAGOutput{
		Answer:           "",
		Citations:        nil,
		Contexts:         promptData.contexts,
		Fallback:         true,
		Reason:           reason,
		FallbackCategory: category,
		Debug:            u.answerDebug(promptData),
	}, nil
}

// buildCitations hydrates the chunk ids cited by the model with the metadata
// of the retrieved contexts. Citations for chunks outside the retrieval set
// are dropped.
func (u *answerWithRAGUsecase) buildCitations(contexts []ContextItem, raw []LLMCitation) []Citation {
	ctxMap := make(map[string]ContextItem, len(contexts))
	for _, ctx := range contexts {
		ctxMap[ctx.ChunkID.String()] = ctx
	}

	var citations []Citation
	for _, cite := range raw {
		meta, ok := ctxMap[cite.ChunkID]
		if !ok {
			continue
		}
		citations = append(citations, Citation{
			ChunkID:         cite.ChunkID,
			ChunkText:       meta.ChunkText,
			URL:             meta.URL,
			Title:           meta.Title,
			Score:           meta.Score,
			DocumentVersion: meta.DocumentVersion,
		})
	}

	return citations
}

func (u *answerWithRAGUsecase) answerDebug(promptData *promptBuildResult) AnswerDebug {
	return AnswerDebug{
		RetrievalSetID:  promptData.retrievalSetID,
		PromptVersion:   u.promptVersion,
		ExpandedQueries: promptData.expandedQueries,
	}
}

type promptBuildResult struct {
	retrievalSetID  string
	contexts        []ContextItem
	messages        []domain.Message
	maxTokens       int
	expandedQueries []string
}

// buildPrompt runs retrieval and renders the chat messages. The result is
// non-nil even on error so fallback responses can carry the retrieval set id
// and any contexts gathered before the failure.
func (u *answerWithRAGUsecase) buildPrompt(ctx context.Context, input AnswerWithRAGInput) (*promptBuildResult, error) {
	maxChunks := input.MaxChunks
	if maxChunks <= 0 {
		maxChunks = u.maxChunks
	}
	maxTokens := input.MaxTokens
	if maxTokens <= 0 {
		maxTokens = u.maxTokens
	}

	result := &promptBuildResult{
		retrievalSetID: uuid.NewString(),
		maxTokens:      maxTokens,
	}

	retrieveInput := RetrieveContextInput{
		Query:               input.Query,
		CandidateArticleIDs: input.CandidateArticleIDs,
	}

	retrieved, err := u.retrieve.Execute(ctx, retrieveInput)
	if err != nil {
		return result, fmt.Errorf("failed to retrieve context: %w", err)
	}
	result.expandedQueries = retrieved.ExpandedQueries

	contexts := retrieved.Contexts
	if len(contexts) > maxChunks {
		contexts = contexts[:maxChunks]
	}
	result.contexts = contexts

	if len(contexts) == 0 {
		return result, errNoContext
	}

	locale := strings.TrimSpace(input.Locale)
	if locale == "" {
		locale = u.defaultLocale
	}

	promptInput := PromptInput{
		Query:         input.Query,
		Locale:        locale,
		PromptVersion: u.promptVersion,
		Contexts:      u.toPromptContexts(contexts),
	}

	messages, err := u.promptBuilder.Build(promptInput)
	if err != nil {
		return result, fmt.Errorf("failed to build prompt: %w", err)
	}

	// Contexts arrive sorted by score, so trimming from the tail drops the
	// weakest evidence first when the prompt exceeds the token budget.
	for u.maxPromptTokens > 0 && estimatePromptTokens(messages) > u.maxPromptTokens && len(contexts) > 1 {
		contexts = contexts[:len(contexts)-1]
		promptInput.Contexts = u.toPromptContexts(contexts)
		messages, err = u.promptBuilder.Build(promptInput)
		if err != nil {
			return result, fmt.Errorf("failed to build prompt: %w", err)
		}
	}
	if dropped := len(result.contexts) - len(contexts); dropped > 0 {
		u.logger.Debug("trimmed contexts to fit prompt budget",
			slog.String("retrieval_set_id", result.retrievalSetID),
			slog.Int("dropped_contexts", dropped),
			slog.Int("kept_contexts", len(contexts)))
		result.contexts = contexts
	}

	result.messages = messages
	return result, nil
}

func (u *answerWithRAGUsecase) toPromptContexts(contexts []ContextItem) []PromptContext {
	promptContexts := make([]PromptContext, len(contexts))
	for i, ctxItem := range contexts {
		promptContexts[i] = PromptContext{
			ChunkID:         ctxItem.ChunkID.String(),
			ChunkText:       ctxItem.ChunkText,
			Title:           ctxItem.Title,
			URL:             ctxItem.URL,
			PublishedAt:     ctxItem.PublishedAt,
			Score:           ctxItem.Score,
			DocumentVersion: ctxItem.DocumentVersion,
		}
	}
	return promptContexts
}

// estimatePromptTokens approximates the token count at four bytes per token,
// which is conservative for mixed English and Japanese text.
func estimatePromptTokens(messages []domain.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}

// cacheKey derives a stable key from every input that affects the answer.
func (u *answerWithRAGUsecase) cacheKey(input AnswerWithRAGInput) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\x00%s", input.Query, input.Locale, input.MaxChunks, input.MaxTokens, u.promptVersion)
	ids := append([]string(nil), input.CandidateArticleIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(h, "\x00%s", id)
	}
	return hex.EncodeToString(h.Sum(nil))
}
