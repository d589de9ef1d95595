package rag_http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Kaikei-e/Alt-sub006/internal/adapter/rag_http/openapi"
	"github.com/Kaikei-e/Alt-sub006/internal/domain"
	"github.com/Kaikei-e/Alt-sub006/internal/usecase"
)

// EmbedderFactory builds a vector encoder against an arbitrary Ollama URL.
type EmbedderFactory func(url, model string, timeoutSeconds int) domain.VectorEncoder

// IndexUsecaseFactory builds an index usecase around a specific encoder.
type IndexUsecaseFactory func(encoder domain.VectorEncoder) usecase.IndexArticleUsecase

type Handler struct {
	retrieveUsecase      usecase.RetrieveContextUsecase
	answerUsecase        usecase.AnswerWithRAGUsecase
	indexUsecase         usecase.IndexArticleUsecase
	jobRepo              domain.RagJobRepository
	morningLetterUsecase usecase.MorningLetterUsecase

	embedderFactory     EmbedderFactory
	indexUsecaseFactory IndexUsecaseFactory
	embeddingModel      string
	embedderTimeout     int

	// One embedder override is active at a time; a new URL evicts the
	// previous usecase.
	overrideMu  sync.Mutex
	overrideURL string
	overrideUC  usecase.IndexArticleUsecase
}

type HandlerOption func(*Handler)

// WithEmbedderOverride lets backfill requests redirect embedding to a
// caller-supplied Ollama instance, such as the backfill CLI's temporary
// GPU container.
func WithEmbedderOverride(embedderFactory EmbedderFactory, indexUsecaseFactory IndexUsecaseFactory, model string, timeoutSeconds int) HandlerOption {
	return func(h *Handler) {
		h.embedderFactory = embedderFactory
		h.indexUsecaseFactory = indexUsecaseFactory
		h.embeddingModel = model
		h.embedderTimeout = timeoutSeconds
	}
}

func NewHandler(
	retrieveUsecase usecase.RetrieveContextUsecase,
	answerUsecase usecase.AnswerWithRAGUsecase,
	indexUsecase usecase.IndexArticleUsecase,
	jobRepo domain.RagJobRepository,
	morningLetterUsecase usecase.MorningLetterUsecase,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		retrieveUsecase:      retrieveUsecase,
		answerUsecase:        answerUsecase,
		indexUsecase:         indexUsecase,
		jobRepo:              jobRepo,
		morningLetterUsecase: morningLetterUsecase,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Ensure Handler implements ServerInterface
var _ openapi.ServerInterface = (*Handler)(nil)

// Upsert an article to the RAG index
// (POST /v1/rag/index/upsert)
func (h *Handler) UpsertIndex(ctx echo.Context) error {
	var req openapi.UpsertIndexRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.ArticleId == "" || req.Title == "" || req.Body == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "article_id, title and body are required"})
	}

	if err := h.indexUsecase.Upsert(ctx.Request().Context(), req.ArticleId, req.Title, req.Url, req.Body); err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	status := "indexed"
	return ctx.JSON(http.StatusOK, openapi.UpsertIndexResponse{Status: &status})
}

// Delete or tombstone an article from the index
// (POST /v1/rag/index/delete)
func (h *Handler) DeleteIndex(ctx echo.Context) error {
	var req openapi.DeleteIndexRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.ArticleId == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing article_id"})
	}

	if err := h.indexUsecase.Delete(ctx.Request().Context(), req.ArticleId); err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	status := "deleted"
	return ctx.JSON(http.StatusOK, openapi.DeleteIndexResponse{Status: &status})
}

// Answer a query using RAG (with LLM generation)
// (POST /v1/rag/answer)
func (h *Handler) AnswerWithRAG(ctx echo.Context) error {
	var req openapi.AnswerRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	output, err := h.answerUsecase.Execute(ctx.Request().Context(), answerInputFromRequest(req))
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	contexts := contextsToAPI(output.Contexts)

	citations := make([]openapi.AnswerCitation, 0, len(output.Citations))
	for _, cite := range output.Citations {
		chunkID := cite.ChunkID
		chunkText := cite.ChunkText
		url := cite.URL
		title := cite.Title
		score := cite.Score
		docVer := int64(cite.DocumentVersion)

		citations = append(citations, openapi.AnswerCitation{
			ChunkId:         &chunkID,
			ChunkText:       &chunkText,
			Url:             &url,
			Title:           &title,
			Score:           &score,
			DocumentVersion: &docVer,
		})
	}

	var answerPtr *string
	if !output.Fallback && output.Answer != "" {
		answerPtr = &output.Answer
	}

	fallback := output.Fallback
	var reasonPtr *string
	if output.Reason != "" {
		reasonPtr = &output.Reason
	}
	debug := openapi.AnswerDebug{
		RetrievalSetId: &output.Debug.RetrievalSetID,
		PromptVersion:  &output.Debug.PromptVersion,
	}
	if len(output.Debug.ExpandedQueries) > 0 {
		debug.ExpandedQueries = &output.Debug.ExpandedQueries
	}

	var citationsPtr *[]openapi.AnswerCitation
	if len(citations) > 0 {
		citationsPtr = &citations
	}

	return ctx.JSON(http.StatusOK, openapi.AnswerResponse{
		Answer:    answerPtr,
		Contexts:  &contexts,
		Citations: citationsPtr,
		Fallback:  &fallback,
		Reason:    reasonPtr,
		Debug:     &debug,
	})
}

// Answer a query using RAG, streamed as Server-Sent Events
// (POST /v1/rag/answer/stream)
func (h *Handler) AnswerWithRAGStream(ctx echo.Context) error {
	var req openapi.AnswerRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	events := h.answerUsecase.Stream(ctx.Request().Context(), answerInputFromRequest(req))
	for event := range events {
		if err := writeSSEEvent(res, event); err != nil {
			// Client went away; the usecase sees the canceled context and
			// winds down on its own.
			return nil
		}
	}
	return nil
}

// Retrieve context for a query (Retrieve-Only)
// (POST /v1/rag/retrieve)
func (h *Handler) RetrieveContext(ctx echo.Context) error {
	var req openapi.RetrieveRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	input := usecase.RetrieveContextInput{
		Query: req.Query,
	}
	if req.CandidateArticleIds != nil {
		input.CandidateArticleIDs = *req.CandidateArticleIds
	}

	output, err := h.retrieveUsecase.Execute(ctx.Request().Context(), input)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	contexts := contextsToAPI(output.Contexts)
	resp := openapi.RetrieveResponse{
		Contexts: &contexts,
	}
	if len(output.ExpandedQueries) > 0 {
		resp.ExpandedQueries = &output.ExpandedQueries
	}

	return ctx.JSON(http.StatusOK, resp)
}

// Backfill enqueues an article for indexing
// (POST /internal/rag/backfill)
func (h *Handler) Backfill(ctx echo.Context) error {
	var body map[string]interface{}
	if err := ctx.Bind(&body); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	articleID, _ := body["article_id"].(string)
	title, _ := body["title"].(string)
	articleBody, _ := body["body"].(string)
	if articleID == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing article_id"})
	}
	if title == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing title"})
	}
	if articleBody == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing body"})
	}

	// A request carrying embedder_url wants its article embedded by the
	// caller's temporary container, which is gone once the caller exits.
	// Index synchronously instead of queueing.
	if embedderURL, ok := body["embedder_url"].(string); ok && embedderURL != "" {
		if h.embedderFactory == nil || h.indexUsecaseFactory == nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "embedder override not supported"})
		}
		url, _ := body["url"].(string)
		indexUC := h.overrideIndexUsecase(embedderURL)
		if err := indexUC.Upsert(ctx.Request().Context(), articleID, title, url, articleBody); err != nil {
			return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return ctx.JSON(http.StatusOK, map[string]string{"status": "indexed"})
	}

	job := &domain.RagJob{
		ID:        uuid.New(),
		JobType:   domain.JobTypeBackfillArticle,
		Payload:   body,
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := h.jobRepo.Enqueue(ctx.Request().Context(), job); err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return ctx.JSON(http.StatusAccepted, map[string]string{"job_id": job.ID.String(), "status": "queued"})
}

// MorningLetterRequest is the body for the manually registered morning
// letter route, which sits outside the OpenAPI surface.
type MorningLetterRequest struct {
	Query       string `json:"query"`
	WithinHours int    `json:"within_hours"`
	TopicLimit  int    `json:"topic_limit"`
	Locale      string `json:"locale"`
}

// MorningLetter builds a topic digest of recent articles
// (POST /v1/rag/morning-letter)
func (h *Handler) MorningLetter(ctx echo.Context) error {
	var req MorningLetterRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	output, err := h.morningLetterUsecase.Execute(ctx.Request().Context(), usecase.MorningLetterInput{
		Query:       req.Query,
		WithinHours: req.WithinHours,
		TopicLimit:  req.TopicLimit,
		Locale:      req.Locale,
	})
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return ctx.JSON(http.StatusOK, output)
}

func (h *Handler) overrideIndexUsecase(embedderURL string) usecase.IndexArticleUsecase {
	h.overrideMu.Lock()
	defer h.overrideMu.Unlock()
	if h.overrideURL != embedderURL {
		encoder := h.embedderFactory(embedderURL, h.embeddingModel, h.embedderTimeout)
		h.overrideUC = h.indexUsecaseFactory(encoder)
		h.overrideURL = embedderURL
	}
	return h.overrideUC
}

func answerInputFromRequest(req openapi.AnswerRequest) usecase.AnswerWithRAGInput {
	input := usecase.AnswerWithRAGInput{
		Query: req.Query,
	}
	if req.CandidateArticleIds != nil {
		input.CandidateArticleIDs = *req.CandidateArticleIds
	}
	if req.Locale != nil {
		input.Locale = *req.Locale
	}
	if req.UserId != nil {
		input.UserID = *req.UserId
	}
	if req.MaxChunks != nil {
		input.MaxChunks = int(*req.MaxChunks)
	}
	if req.MaxTokens != nil {
		input.MaxTokens = int(*req.MaxTokens)
	}
	return input
}

func contextsToAPI(items []usecase.ContextItem) []openapi.Context {
	contexts := make([]openapi.Context, 0, len(items))
	for _, c := range items {
		chunkText := c.ChunkText
		url := c.URL
		title := c.Title
		score := c.Score
		docVer := int64(c.DocumentVersion)
		chunkID := c.ChunkID.String()

		var pubAt *time.Time
		if c.PublishedAt != "" {
			if parsed, perr := time.Parse(time.RFC3339, c.PublishedAt); perr == nil {
				pubAt = &parsed
			}
		}

		contexts = append(contexts, openapi.Context{
			ChunkText:       &chunkText,
			Url:             &url,
			Title:           &title,
			PublishedAt:     pubAt,
			Score:           &score,
			DocumentVersion: &docVer,
			ChunkId:         &chunkID,
		})
	}
	return contexts
}

func writeSSEEvent(res *echo.Response, event usecase.StreamEvent) error {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%q", fmt.Sprint(event.Payload)))
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}
