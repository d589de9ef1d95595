package logger

import (
	"context"
	"log/slog"
)

type ContextKey string

// Business context keys propagated alongside the request context so that job
// processing logs carry the ids needed to follow one article through the
// pipeline.
const (
	JobIDKey           ContextKey = "rag.job.id"
	ArticleIDKey       ContextKey = "rag.article.id"
	ProcessingStageKey ContextKey = "rag.processing.stage"
)

// FromContext returns base enriched with whichever business context keys are
// present on ctx.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	var fields []any

	if jobID := ctx.Value(JobIDKey); jobID != nil {
		fields = append(fields, string(JobIDKey), jobID)
	}
	if articleID := ctx.Value(ArticleIDKey); articleID != nil {
		fields = append(fields, string(ArticleIDKey), articleID)
	}
	if stage := ctx.Value(ProcessingStageKey); stage != nil {
		fields = append(fields, string(ProcessingStageKey), stage)
	}

	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

func WithArticleID(ctx context.Context, articleID string) context.Context {
	return context.WithValue(ctx, ArticleIDKey, articleID)
}

func WithProcessingStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ProcessingStageKey, stage)
}
