package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// RagDocument is the indexed counterpart of one article. It owns a chain of
// immutable versions and points at the one currently served by retrieval.
type RagDocument struct {
	ID               uuid.UUID
	ArticleID        string
	CurrentVersionID *uuid.UUID // nil until the first version lands
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RagDocumentVersion is one immutable snapshot of a document. Re-indexing an
// article never rewrites chunks in place; it appends a new version.
type RagDocumentVersion struct {
	ID              uuid.UUID
	DocumentID      uuid.UUID
	VersionNumber   int
	Title           string
	URL             string
	SourceHash      string
	ChunkerVersion  string
	EmbedderVersion string
	CreatedAt       time.Time
}

// RagChunk is the stored unit of retrieval: one embedded fragment of a
// document version.
type RagChunk struct {
	ID        uuid.UUID
	VersionID uuid.UUID
	Ordinal   int
	Content   string
	Embedding pgvector.Vector
	CreatedAt time.Time
}

// RagChunkEvent records what happened to a chunk position when a new version
// was written (added, updated, unchanged, deleted).
type RagChunkEvent struct {
	ID        uuid.UUID
	VersionID uuid.UUID
	ChunkID   *uuid.UUID // nil for events that no longer reference a live chunk
	Ordinal   int
	EventType string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// SearchResult is a chunk returned by dense search together with its
// similarity score and the denormalized presentation fields callers need.
type SearchResult struct {
	Chunk           RagChunk
	Score           float32
	ArticleID       string
	Title           string
	URL             string
	PublishedAt     time.Time
	DocumentVersion int
}

// RagDocumentRepository manages documents and their version chains.
type RagDocumentRepository interface {
	// GetByArticleID returns nil, nil when no document exists for the article.
	GetByArticleID(ctx context.Context, articleID string) (*RagDocument, error)

	CreateDocument(ctx context.Context, doc *RagDocument) error

	// GetLatestVersion returns nil, nil when the document has no version yet.
	GetLatestVersion(ctx context.Context, docID uuid.UUID) (*RagDocumentVersion, error)

	CreateVersion(ctx context.Context, version *RagDocumentVersion) error

	UpdateCurrentVersion(ctx context.Context, docID uuid.UUID, versionID uuid.UUID) error
}

// RagChunkRepository persists chunks and serves dense vector search.
// Implementations must be safe for concurrent use; retrieval fans out
// searches from multiple goroutines.
type RagChunkRepository interface {
	BulkInsertChunks(ctx context.Context, chunks []RagChunk) error

	// GetChunksByVersionID returns the chunks of a version ordered by ordinal.
	GetChunksByVersionID(ctx context.Context, versionID uuid.UUID) ([]RagChunk, error)

	InsertEvents(ctx context.Context, events []RagChunkEvent) error

	// Search returns the nearest chunks to the query vector across all
	// current document versions, best first.
	Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error)

	// SearchWithinArticles restricts Search to the given article ids.
	SearchWithinArticles(ctx context.Context, queryVector []float32, articleIDs []string, limit int) ([]SearchResult, error)
}

// TransactionManager runs a function inside one database transaction.
// The repositories above pick the transaction up from the context.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
