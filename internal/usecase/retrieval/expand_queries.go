package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"golang.org/x/sync/errgroup"
)

// tagSearchTopHits bounds how many full-text hits contribute tags.
const tagSearchTopHits = 3

// ExpandQueries is the first pipeline stage. It runs three sub-tasks
// concurrently: query expansion, tag harvesting, and embedding the original
// query. Only the embedding is required; the other two degrade to empty
// lists on failure.
func ExpandQueries(
	ctx context.Context,
	sc *StageContext,
	queryExpander domain.QueryExpander,
	llmClient domain.LLMClient,
	searchClient domain.SearchClient,
	encoder domain.VectorEncoder,
	logger *slog.Logger,
) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		expanded, err := expandWithRace(gctx, sc.Query, queryExpander, llmClient, logger)
		if err != nil {
			logger.Warn("expansion_failed",
				slog.String("retrieval_id", sc.RetrievalID),
				slog.String("query", sc.Query),
				slog.String("error", err.Error()))
			return nil
		}
		if len(expanded) > 0 {
			sc.ExpandedQueries = expanded
			logger.Info("query_expanded",
				slog.String("retrieval_id", sc.RetrievalID),
				slog.String("original", sc.Query),
				slog.Any("expanded", expanded))
		}
		return nil
	})

	g.Go(func() error {
		if searchClient == nil {
			return nil
		}
		start := time.Now()
		hits, err := searchClient.Search(gctx, sc.Query)
		if err != nil {
			logger.Warn("tag_search_failed",
				slog.String("retrieval_id", sc.RetrievalID),
				slog.String("error", err.Error()))
			return nil
		}

		sc.TagQueries = collectTags(hits, sc.Query)

		logger.Info("tag_search_completed",
			slog.String("retrieval_id", sc.RetrievalID),
			slog.Int("hits_found", len(hits)),
			slog.Int("tags_extracted", len(sc.TagQueries)),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		return nil
	})

	g.Go(func() error {
		embeddings, err := encoder.Encode(gctx, []string{sc.Query})
		if err != nil {
			return fmt.Errorf("failed to encode original query: %w", err)
		}
		if len(embeddings) == 0 || len(embeddings[0]) == 0 {
			return fmt.Errorf("no embedding returned for original query")
		}
		sc.OriginalEmbedding = embeddings[0]
		return nil
	})

	return g.Wait()
}

// collectTags takes the tags of the top hits in hit order, dropping
// duplicates and any tag equal to the raw query. Hit order keeps the result
// deterministic for identical inputs.
func collectTags(hits []domain.SearchHit, query string) []string {
	top := len(hits)
	if top > tagSearchTopHits {
		top = tagSearchTopHits
	}

	var tags []string
	seen := make(map[string]bool)
	for _, hit := range hits[:top] {
		for _, tag := range hit.Tags {
			if tag == "" || tag == query || seen[tag] {
				continue
			}
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// expandWithRace runs both expansion sources concurrently and returns the
// first non-empty success. When no dedicated expander is configured it goes
// straight to the LLM.
func expandWithRace(ctx context.Context, query string, queryExpander domain.QueryExpander, llmClient domain.LLMClient, logger *slog.Logger) ([]string, error) {
	if queryExpander == nil {
		return expandWithLLM(ctx, query, llmClient)
	}

	type result struct {
		queries []string
		err     error
		source  string
	}
	ch := make(chan result, 2)

	go func() {
		queries, err := queryExpander.ExpandQuery(ctx, query, 1, 3)
		ch <- result{queries, err, "news-creator"}
	}()
	go func() {
		queries, err := expandWithLLM(ctx, query, llmClient)
		ch <- result{queries, err, "ollama-legacy"}
	}()

	var lastErr error
	for i := 0; i < 2; i++ {
		r := <-ch
		if r.err == nil && len(r.queries) > 0 {
			logger.Info("query_expansion_completed",
				slog.String("source", r.source),
				slog.Int("count", len(r.queries)))
			return r.queries, nil
		}
		if r.err != nil {
			logger.Warn("query_expansion_source_failed",
				slog.String("source", r.source),
				slog.String("error", r.err.Error()))
			lastErr = r.err
		}
	}
	return nil, fmt.Errorf("all expansion methods failed: %w", lastErr)
}

// expandWithLLM prompts the generation model directly. The prompt wording is
// load-bearing: the date line anchors relative time references and the
// output-format instructions make line-by-line parsing safe.
func expandWithLLM(ctx context.Context, query string, llmClient domain.LLMClient) ([]string, error) {
	currentDate := time.Now().Format("2006-01-02")
	prompt := fmt.Sprintf(`You are an expert search query generator.
Current Date: %s

Generate 3 to 5 diverse English search queries to find information related to the user's input.
If the input is Japanese, translate it and also generate variations.
If the user specifies a time (e.g., "December" or "this month"), interpret it based on the Current Date.
Focus on different aspects like main keywords, synonyms, and specific events.
Output ONLY the generated queries, one per line. Do not add numbering or bullets or explanations.

User Input: %s`, currentDate, query)

	resp, err := llmClient.Generate(ctx, prompt, 200)
	if err != nil {
		return nil, err
	}

	var queries []string
	for _, line := range strings.Split(resp.Text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			queries = append(queries, trimmed)
		}
	}
	return queries, nil
}
