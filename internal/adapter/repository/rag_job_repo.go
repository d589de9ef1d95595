package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ragJobRepository struct {
	pool *pgxpool.Pool
}

// NewRagJobRepository returns the Postgres-backed job queue.
func NewRagJobRepository(pool *pgxpool.Pool) domain.RagJobRepository {
	return &ragJobRepository{pool: pool}
}

func (r *ragJobRepository) Enqueue(ctx context.Context, job *domain.RagJob) error {
	query := `
		INSERT INTO rag_jobs (id, job_type, payload, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	payloadBytes, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = executorFrom(ctx, r.pool).Exec(ctx, query,
		job.ID,
		job.JobType,
		payloadBytes,
		job.Status,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// AcquireNextJob claims the oldest pending job and flips it to processing in
// one statement. FOR UPDATE SKIP LOCKED keeps concurrent workers from
// claiming the same row.
func (r *ragJobRepository) AcquireNextJob(ctx context.Context) (*domain.RagJob, error) {
	query := `
		WITH next_job AS (
			SELECT id
			FROM rag_jobs
			WHERE status = $1
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE rag_jobs
		SET status = $2, updated_at = $3
		FROM next_job
		WHERE rag_jobs.id = next_job.id
		RETURNING rag_jobs.id, rag_jobs.job_type, rag_jobs.payload, rag_jobs.status, rag_jobs.error_message, rag_jobs.created_at, rag_jobs.updated_at
	`

	var job domain.RagJob
	var payloadBytes []byte

	err := executorFrom(ctx, r.pool).QueryRow(ctx, query, domain.JobStatusPending, domain.JobStatusProcessing, time.Now()).Scan(
		&job.ID,
		&job.JobType,
		&payloadBytes,
		&job.Status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire next job: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &job.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return &job, nil
}

func (r *ragJobRepository) UpdateStatus(ctx context.Context, jobID uuid.UUID, status string, errorMessage *string) error {
	query := `
		UPDATE rag_jobs
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := executorFrom(ctx, r.pool).Exec(ctx, query, status, errorMessage, time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}
