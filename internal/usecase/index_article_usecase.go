package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// IndexArticleUsecase maintains the indexed form of articles: chunked,
// embedded, versioned.
type IndexArticleUsecase interface {
	// Upsert indexes an article. Re-submitting unchanged content is a no-op.
	Upsert(ctx context.Context, articleID, title, url, body string) error
	// Delete writes a tombstone version so retrieval stops serving the article.
	Delete(ctx context.Context, articleID string) error
}

type indexArticleUsecase struct {
	docRepo   domain.RagDocumentRepository
	chunkRepo domain.RagChunkRepository
	txManager domain.TransactionManager
	hasher    domain.SourceHashPolicy
	chunker   domain.Chunker
	encoder   domain.VectorEncoder
}

func NewIndexArticleUsecase(
	docRepo domain.RagDocumentRepository,
	chunkRepo domain.RagChunkRepository,
	txManager domain.TransactionManager,
	hasher domain.SourceHashPolicy,
	chunker domain.Chunker,
	encoder domain.VectorEncoder,
) IndexArticleUsecase {
	return &indexArticleUsecase{
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		txManager: txManager,
		hasher:    hasher,
		chunker:   chunker,
		encoder:   encoder,
	}
}

func (u *indexArticleUsecase) Upsert(ctx context.Context, articleID, title, url, body string) error {
	sourceHash := u.hasher.Compute(title, body)

	return u.txManager.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := u.docRepo.GetByArticleID(ctx, articleID)
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}

		var latestVer *domain.RagDocumentVersion
		if doc != nil && doc.CurrentVersionID != nil {
			latestVer, err = u.docRepo.GetLatestVersion(ctx, doc.ID)
			if err != nil {
				return fmt.Errorf("failed to get latest version: %w", err)
			}
		}

		// Same hash, title and URL as the current version: nothing to do.
		if latestVer != nil && latestVer.SourceHash == sourceHash && latestVer.URL == url && latestVer.Title == title {
			return nil
		}

		chunks, err := u.chunker.Chunk(body)
		if err != nil {
			return fmt.Errorf("failed to chunk body: %w", err)
		}

		now := time.Now()
		newVersionID := uuid.New()

		ragChunks := make([]domain.RagChunk, 0, len(chunks))
		contents := make([]string, 0, len(chunks))
		for _, c := range chunks {
			ragChunks = append(ragChunks, domain.RagChunk{
				ID:        uuid.New(),
				VersionID: newVersionID,
				Ordinal:   c.Ordinal,
				Content:   c.Content,
				CreatedAt: now,
			})
			contents = append(contents, c.Content)
		}

		embedderVersion := "none"
		if u.encoder != nil && len(contents) > 0 {
			embeddings, err := u.encoder.Encode(ctx, contents)
			if err != nil {
				return fmt.Errorf("failed to encode chunks: %w", err)
			}
			if len(embeddings) != len(contents) {
				return fmt.Errorf("embeddings count mismatch: got %d, want %d", len(embeddings), len(contents))
			}
			for i := range ragChunks {
				ragChunks[i].Embedding = pgvector.NewVector(embeddings[i])
			}
			embedderVersion = u.encoder.Version()
		}

		if doc == nil {
			doc = &domain.RagDocument{
				ID:        uuid.New(),
				ArticleID: articleID,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := u.docRepo.CreateDocument(ctx, doc); err != nil {
				return fmt.Errorf("failed to create document: %w", err)
			}
		}

		newVer := &domain.RagDocumentVersion{
			ID:              newVersionID,
			DocumentID:      doc.ID,
			VersionNumber:   1,
			Title:           title,
			URL:             url,
			SourceHash:      sourceHash,
			ChunkerVersion:  string(u.chunker.Version()),
			EmbedderVersion: embedderVersion,
			CreatedAt:       now,
		}
		if latestVer != nil {
			newVer.VersionNumber = latestVer.VersionNumber + 1
		}
		if err := u.docRepo.CreateVersion(ctx, newVer); err != nil {
			return fmt.Errorf("failed to create version: %w", err)
		}

		if err := u.chunkRepo.BulkInsertChunks(ctx, ragChunks); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}

		chunkEvents, err := u.buildChunkEvents(ctx, latestVer, newVersionID, chunks, ragChunks, now)
		if err != nil {
			return err
		}
		if err := u.chunkRepo.InsertEvents(ctx, chunkEvents); err != nil {
			return fmt.Errorf("failed to insert events: %w", err)
		}

		if err := u.docRepo.UpdateCurrentVersion(ctx, doc.ID, newVersionID); err != nil {
			return fmt.Errorf("failed to update current version: %w", err)
		}

		return nil
	})
}

// buildChunkEvents records the diff against the previous version. For a first
// version everything is an added event; otherwise the old chunks are fetched
// and diffed against the new ones by content hash.
func (u *indexArticleUsecase) buildChunkEvents(
	ctx context.Context,
	latestVer *domain.RagDocumentVersion,
	newVersionID uuid.UUID,
	newChunks []domain.Chunk,
	ragChunks []domain.RagChunk,
	now time.Time,
) ([]domain.RagChunkEvent, error) {
	var events []domain.RagChunkEvent

	if latestVer == nil {
		for _, rc := range ragChunks {
			id := rc.ID
			events = append(events, domain.RagChunkEvent{
				ID:        uuid.New(),
				VersionID: newVersionID,
				ChunkID:   &id,
				Ordinal:   rc.Ordinal,
				EventType: string(domain.ChunkEventAdded),
				CreatedAt: now,
			})
		}
		return events, nil
	}

	oldRagChunks, err := u.chunkRepo.GetChunksByVersionID(ctx, latestVer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch old chunks: %w", err)
	}

	oldChunks := make([]domain.Chunk, 0, len(oldRagChunks))
	oldChunkIDs := make(map[int]uuid.UUID, len(oldRagChunks))
	for _, rc := range oldRagChunks {
		oldChunks = append(oldChunks, domain.Chunk{
			Ordinal: rc.Ordinal,
			Content: rc.Content,
			Hash:    contentHash(rc.Content),
		})
		oldChunkIDs[rc.Ordinal] = rc.ID
	}

	for _, de := range domain.DiffChunks(oldChunks, newChunks) {
		event := domain.RagChunkEvent{
			ID:        uuid.New(),
			VersionID: newVersionID,
			EventType: string(de.Type),
			CreatedAt: now,
		}

		// Ordinals are dense and 0-based, so a new chunk's ordinal is also
		// its index into ragChunks.
		switch de.Type {
		case domain.ChunkEventDeleted:
			if oldID, ok := oldChunkIDs[de.OldChunk.Ordinal]; ok {
				event.ChunkID = chunkIDPtr(oldID)
			}
			event.Ordinal = de.OldChunk.Ordinal
		default:
			event.ChunkID = chunkIDPtr(ragChunks[de.NewChunk.Ordinal].ID)
			event.Ordinal = de.NewChunk.Ordinal
		}

		events = append(events, event)
	}
	return events, nil
}

func (u *indexArticleUsecase) Delete(ctx context.Context, articleID string) error {
	return u.txManager.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := u.docRepo.GetByArticleID(ctx, articleID)
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}
		if doc == nil || doc.CurrentVersionID == nil {
			return nil
		}

		latestVer, err := u.docRepo.GetLatestVersion(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("failed to get latest version: %w", err)
		}

		oldRagChunks, err := u.chunkRepo.GetChunksByVersionID(ctx, latestVer.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch old chunks: %w", err)
		}

		now := time.Now()
		newVersionID := uuid.New()

		// The tombstone is a version with no chunks; flipping the current
		// version to it removes the article from search results.
		newVer := &domain.RagDocumentVersion{
			ID:              newVersionID,
			DocumentID:      doc.ID,
			VersionNumber:   latestVer.VersionNumber + 1,
			SourceHash:      "",
			ChunkerVersion:  "tombstone",
			EmbedderVersion: "tombstone",
			CreatedAt:       now,
		}
		if err := u.docRepo.CreateVersion(ctx, newVer); err != nil {
			return fmt.Errorf("failed to create tombstone version: %w", err)
		}

		var events []domain.RagChunkEvent
		for _, rc := range oldRagChunks {
			events = append(events, domain.RagChunkEvent{
				ID:        uuid.New(),
				VersionID: newVersionID,
				ChunkID:   chunkIDPtr(rc.ID),
				Ordinal:   rc.Ordinal,
				EventType: string(domain.ChunkEventDeleted),
				CreatedAt: now,
			})
		}
		if err := u.chunkRepo.InsertEvents(ctx, events); err != nil {
			return fmt.Errorf("failed to insert delete events: %w", err)
		}

		if err := u.docRepo.UpdateCurrentVersion(ctx, doc.ID, newVersionID); err != nil {
			return fmt.Errorf("failed to update current version: %w", err)
		}

		return nil
	})
}

func chunkIDPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
