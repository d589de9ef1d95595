package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	selectDocumentByArticleID = `
		SELECT id, article_id, current_version_id, created_at, updated_at
		FROM rag_documents
		WHERE article_id = $1
	`
	insertDocument = `
		INSERT INTO rag_documents (id, article_id, current_version_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	updateDocumentVersion = `
		UPDATE rag_documents
		SET current_version_id = $1, updated_at = NOW()
		WHERE id = $2
	`
	selectLatestVersion = `
		SELECT id, document_id, version_number, title, url, source_hash, chunker_version, embedder_version, created_at
		FROM rag_document_versions
		WHERE document_id = $1
		ORDER BY version_number DESC
		LIMIT 1
	`
	insertVersion = `
		INSERT INTO rag_document_versions (id, document_id, version_number, title, url, source_hash, chunker_version, embedder_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
)

type ragDocumentRepository struct {
	pool *pgxpool.Pool
}

// NewRagDocumentRepository returns a RagDocumentRepository backed by Postgres.
func NewRagDocumentRepository(pool *pgxpool.Pool) domain.RagDocumentRepository {
	return &ragDocumentRepository{pool: pool}
}

// GetByArticleID returns nil without error when no document exists yet.
func (r *ragDocumentRepository) GetByArticleID(ctx context.Context, articleID string) (*domain.RagDocument, error) {
	row := executorFrom(ctx, r.pool).QueryRow(ctx, selectDocumentByArticleID, articleID)

	var doc domain.RagDocument
	err := row.Scan(&doc.ID, &doc.ArticleID, &doc.CurrentVersionID, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	return &doc, nil
}

func (r *ragDocumentRepository) CreateDocument(ctx context.Context, doc *domain.RagDocument) error {
	_, err := executorFrom(ctx, r.pool).Exec(ctx, insertDocument,
		doc.ID, doc.ArticleID, doc.CurrentVersionID, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (r *ragDocumentRepository) UpdateCurrentVersion(ctx context.Context, docID uuid.UUID, versionID uuid.UUID) error {
	tag, err := executorFrom(ctx, r.pool).Exec(ctx, updateDocumentVersion, versionID, docID)
	if err != nil {
		return fmt.Errorf("failed to update current version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", docID)
	}
	return nil
}

// GetLatestVersion returns nil without error when the document has no
// versions yet.
func (r *ragDocumentRepository) GetLatestVersion(ctx context.Context, docID uuid.UUID) (*domain.RagDocumentVersion, error) {
	row := executorFrom(ctx, r.pool).QueryRow(ctx, selectLatestVersion, docID)

	var (
		ver        domain.RagDocumentVersion
		title, url pgtype.Text
	)
	err := row.Scan(&ver.ID, &ver.DocumentID, &ver.VersionNumber, &title, &url,
		&ver.SourceHash, &ver.ChunkerVersion, &ver.EmbedderVersion, &ver.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	ver.Title = title.String
	ver.URL = url.String
	return &ver, nil
}

func (r *ragDocumentRepository) CreateVersion(ctx context.Context, version *domain.RagDocumentVersion) error {
	_, err := executorFrom(ctx, r.pool).Exec(ctx, insertVersion,
		version.ID, version.DocumentID, version.VersionNumber, version.Title, version.URL,
		version.SourceHash, version.ChunkerVersion, version.EmbedderVersion, version.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}
