package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job lifecycle states as persisted in rag_jobs.status.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobTypeBackfillArticle asks the worker to index one article.
const JobTypeBackfillArticle = "backfill_article"

// RagJob is a queued unit of indexing work.
type RagJob struct {
	ID           uuid.UUID
	JobType      string
	Payload      map[string]interface{}
	Status       string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RagJobRepository is the persistent job queue. AcquireNextJob must hand each
// pending job to exactly one worker even when several poll concurrently.
type RagJobRepository interface {
	Enqueue(ctx context.Context, job *RagJob) error

	// AcquireNextJob claims the oldest pending job and marks it processing.
	// Returns nil, nil when the queue is empty.
	AcquireNextJob(ctx context.Context) (*RagJob, error)

	UpdateStatus(ctx context.Context, jobID uuid.UUID, status string, errorMessage *string) error
}
