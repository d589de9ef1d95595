package rag_augur

import (
	"bufio"
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

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string                 `json:"model"`
	Messages  []chatMessage          `json:"messages"`
	Stream    bool                   `json:"stream"`
	KeepAlive int                    `json:"keep_alive"`
	Format    interface{}            `json:"format,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
	Think     interface{}            `json:"think,omitempty"`
}

// chatStreamChunk is one NDJSON line of a streamed chat response.
type chatStreamChunk struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done bool `json:"done"`
}

// OllamaGenerator talks to Ollama's chat endpoint. All requests stream; the
// non-stream methods aggregate the chunks before returning.
type OllamaGenerator struct {
	BaseURL string
	Model   string
	Client  *http.Client
	logger  *slog.Logger
}

// NewOllamaGenerator builds a generator for the given endpoint and model.
// When no client is passed, a dedicated one bounded by the timeout is used.
func NewOllamaGenerator(baseURL, model string, timeoutSeconds int, logger *slog.Logger, client ...*http.Client) *OllamaGenerator {
	var c *http.Client
	if len(client) > 0 && client[0] != nil {
		c = client[0]
	} else {
		timeout := 120 * time.Second
		if timeoutSeconds > 0 {
			timeout = time.Duration(timeoutSeconds) * time.Second
		}
		c = &http.Client{Timeout: timeout}
	}
	return &OllamaGenerator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  c,
		logger:  logger,
	}
}

// buildOptions returns sampling options tuned per model family. The values
// were settled by manual evaluation against Japanese news summaries; changing
// them changes answer tone.
func (g *OllamaGenerator) buildOptions(maxTokens int) map[string]interface{} {
	opts := map[string]interface{}{}
	switch {
	case strings.Contains(g.Model, "gemma"):
		opts["temperature"] = 0.7
		opts["top_p"] = 0.85
		opts["top_k"] = 40
		opts["num_ctx"] = 8192
		opts["repeat_penalty"] = 1.15
	case strings.Contains(g.Model, "swallow"):
		opts["temperature"] = 0.6
		opts["top_p"] = 0.9
		opts["num_ctx"] = 16384
		opts["repeat_penalty"] = 1.1
	default:
		opts["temperature"] = 0.2
		opts["num_ctx"] = 8192
	}
	if maxTokens > 0 {
		opts["num_predict"] = maxTokens
	}
	return opts
}

// getThinkParam returns the think mode for the model family. Gemma and
// swallow builds reject the parameter, so it must stay absent for them;
// qwen3 accepts it and answers faster with thinking off.
func (g *OllamaGenerator) getThinkParam(maxTokens int) interface{} {
	if strings.Contains(g.Model, "qwen3") {
		return false
	}
	return nil
}

// Generate sends a single-turn prompt and returns the aggregated text.
// No format constraint: query expansion parses the output line by line.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (*domain.LLMResponse, error) {
	return g.aggregate(ctx, []chatMessage{{Role: "user", Content: prompt}}, maxTokens, nil)
}

// GenerateStream is Generate with the chunk stream exposed.
func (g *OllamaGenerator) GenerateStream(ctx context.Context, prompt string, maxTokens int) (<-chan domain.LLMStreamChunk, <-chan error, error) {
	return g.stream(ctx, []chatMessage{{Role: "user", Content: prompt}}, maxTokens, nil)
}

// Chat sends a multi-turn prompt and returns the aggregated text. JSON mode
// is enforced; the prompt dictates the object shape.
func (g *OllamaGenerator) Chat(ctx context.Context, messages []domain.Message, maxTokens int) (*domain.LLMResponse, error) {
	return g.aggregate(ctx, toChatMessages(messages), maxTokens, "json")
}

// ChatStream is Chat with the chunk stream exposed.
func (g *OllamaGenerator) ChatStream(ctx context.Context, messages []domain.Message, maxTokens int) (<-chan domain.LLMStreamChunk, <-chan error, error) {
	return g.stream(ctx, toChatMessages(messages), maxTokens, "json")
}

// Version returns the wrapped model name.
func (g *OllamaGenerator) Version() string {
	return g.Model
}

var _ domain.LLMClient = (*OllamaGenerator)(nil)

func toChatMessages(messages []domain.Message) []chatMessage {
	out := make([]chatMessage, len(messages))
	for i, m := range messages {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// postChat opens a streaming chat request. The caller owns the response body.
func (g *OllamaGenerator) postChat(ctx context.Context, messages []chatMessage, maxTokens int, format interface{}) (*http.Response, error) {
	reqBody := chatRequest{
		Model:     g.Model,
		Messages:  messages,
		Stream:    true,
		KeepAlive: -1,
		Format:    format,
		Options:   g.buildOptions(maxTokens),
		Think:     g.getThinkParam(maxTokens),
	}

	jsonPayload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", g.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call generation endpoint: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("generation endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

// aggregate reads the whole stream into one response. Done reflects the
// final chunk, so a connection cut mid-generation reports an unfinished
// response instead of silently truncating.
func (g *OllamaGenerator) aggregate(ctx context.Context, messages []chatMessage, maxTokens int, format interface{}) (*domain.LLMResponse, error) {
	start := time.Now()
	g.logger.Info("ollama_chat_started",
		slog.String("model", g.Model),
		slog.Int("message_count", len(messages)))

	resp, err := g.postChat(ctx, messages, maxTokens, format)
	if err != nil {
		g.logger.Warn("ollama_chat_failed",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var sb strings.Builder
	done := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("failed to decode generation response: %w", err)
		}
		sb.WriteString(chunk.Message.Content)
		if chunk.Done {
			done = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read generation response: %w", err)
	}

	g.logger.Info("ollama_chat_completed",
		slog.Bool("done", done),
		slog.Int("text_length", sb.Len()),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return &domain.LLMResponse{
		Text: strings.TrimSpace(sb.String()),
		Done: done,
	}, nil
}

// stream forwards chunks as they arrive. Both channels close when the stream
// ends; the error channel carries at most one error.
func (g *OllamaGenerator) stream(ctx context.Context, messages []chatMessage, maxTokens int, format interface{}) (<-chan domain.LLMStreamChunk, <-chan error, error) {
	start := time.Now()
	g.logger.Info("ollama_chat_stream_started",
		slog.String("model", g.Model),
		slog.Int("message_count", len(messages)))

	resp, err := g.postChat(ctx, messages, maxTokens, format)
	if err != nil {
		g.logger.Warn("ollama_chat_stream_failed",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, nil, err
	}

	chunks := make(chan domain.LLMStreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer func() { _ = resp.Body.Close() }()
		defer close(chunks)
		defer close(errs)

		count := 0
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk chatStreamChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				errs <- fmt.Errorf("failed to decode stream chunk: %w", err)
				return
			}
			count++

			select {
			case chunks <- domain.LLMStreamChunk{
				Response: chunk.Message.Content,
				Thinking: chunk.Message.Thinking,
				Done:     chunk.Done,
			}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}

			if chunk.Done {
				g.logger.Info("ollama_chat_stream_completed",
					slog.Int("chunk_count", count),
					slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("stream read failed: %w", err)
		}
	}()

	return chunks, errs, nil
}
