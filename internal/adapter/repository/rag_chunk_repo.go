package repository

import (
	"context"
	"fmt"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type ragChunkRepository struct {
	pool *pgxpool.Pool
}

// NewRagChunkRepository returns a RagChunkRepository backed by Postgres with
// pgvector.
func NewRagChunkRepository(pool *pgxpool.Pool) domain.RagChunkRepository {
	return &ragChunkRepository{pool: pool}
}

func (r *ragChunkRepository) BulkInsertChunks(ctx context.Context, chunks []domain.RagChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(chunks))
	for i, chunk := range chunks {
		rows[i] = []interface{}{
			chunk.ID,
			chunk.VersionID,
			chunk.Ordinal,
			chunk.Content,
			chunk.Embedding,
			chunk.CreatedAt,
		}
	}

	_, err := executorFrom(ctx, r.pool).CopyFrom(
		ctx,
		pgx.Identifier{"rag_chunks"},
		[]string{"id", "version_id", "ordinal", "content", "embedding", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to bulk insert chunks: %w", err)
	}

	return nil
}

func (r *ragChunkRepository) GetChunksByVersionID(ctx context.Context, versionID uuid.UUID) ([]domain.RagChunk, error) {
	query := `
		SELECT id, version_id, ordinal, content, embedding, created_at
		FROM rag_chunks
		WHERE version_id = $1
		ORDER BY ordinal ASC
	`
	rows, err := executorFrom(ctx, r.pool).Query(ctx, query, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.RagChunk
	for rows.Next() {
		var c domain.RagChunk
		if err := rows.Scan(&c.ID, &c.VersionID, &c.Ordinal, &c.Content, &c.Embedding, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return chunks, nil
}

func (r *ragChunkRepository) InsertEvents(ctx context.Context, events []domain.RagChunkEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(events))
	for i, event := range events {
		rows[i] = []interface{}{
			event.ID,
			event.VersionID,
			event.ChunkID,
			event.Ordinal,
			event.EventType,
			event.Metadata,
			event.CreatedAt,
		}
	}

	_, err := executorFrom(ctx, r.pool).CopyFrom(
		ctx,
		pgx.Identifier{"rag_chunk_events"},
		[]string{"id", "version_id", "chunk_id", "ordinal", "event_type", "metadata", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk events: %w", err)
	}

	return nil
}

// Search returns the chunks nearest to the query vector by cosine distance.
// Only each document's current version is searched; tombstone versions carry
// no chunks, so deleted articles drop out of results naturally.
func (r *ragChunkRepository) Search(ctx context.Context, queryVector []float32, limit int) ([]domain.SearchResult, error) {
	query := `
		SELECT c.id, c.version_id, c.ordinal, c.content, c.created_at,
		       1 - (c.embedding <=> $1) AS score,
		       d.article_id, v.title, v.url, v.version_number
		FROM rag_chunks c
		JOIN rag_document_versions v ON v.id = c.version_id
		JOIN rag_documents d ON d.id = v.document_id AND d.current_version_id = c.version_id
		WHERE c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1
		LIMIT $2
	`
	rows, err := executorFrom(ctx, r.pool).Query(ctx, query, pgvector.NewVector(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	return scanSearchResults(rows)
}

// SearchWithinArticles is Search restricted to the given article ids.
func (r *ragChunkRepository) SearchWithinArticles(ctx context.Context, queryVector []float32, articleIDs []string, limit int) ([]domain.SearchResult, error) {
	query := `
		SELECT c.id, c.version_id, c.ordinal, c.content, c.created_at,
		       1 - (c.embedding <=> $1) AS score,
		       d.article_id, v.title, v.url, v.version_number
		FROM rag_chunks c
		JOIN rag_document_versions v ON v.id = c.version_id
		JOIN rag_documents d ON d.id = v.document_id AND d.current_version_id = c.version_id
		WHERE c.embedding IS NOT NULL
		  AND d.article_id = ANY($2)
		ORDER BY c.embedding <=> $1
		LIMIT $3
	`
	rows, err := executorFrom(ctx, r.pool).Query(ctx, query, pgvector.NewVector(queryVector), articleIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks within articles: %w", err)
	}
	defer rows.Close()

	return scanSearchResults(rows)
}

func scanSearchResults(rows pgx.Rows) ([]domain.SearchResult, error) {
	var results []domain.SearchResult
	for rows.Next() {
		var res domain.SearchResult
		var score float64
		var title, url pgtype.Text
		err := rows.Scan(
			&res.Chunk.ID,
			&res.Chunk.VersionID,
			&res.Chunk.Ordinal,
			&res.Chunk.Content,
			&res.Chunk.CreatedAt,
			&score,
			&res.ArticleID,
			&title,
			&url,
			&res.DocumentVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		res.Score = float32(score)
		res.Title = title.String
		res.URL = url.String
		// Chunk creation time stands in for publication time; the index does
		// not store the article's own publication date.
		res.PublishedAt = res.Chunk.CreatedAt
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return results, nil
}
