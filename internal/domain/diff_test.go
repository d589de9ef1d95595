package domain_test

import (
	"testing"

	"github.com/Kaikei-e/Alt-sub006/internal/domain"

	"github.com/stretchr/testify/assert"
)

func mkChunk(ordinal int, content string) domain.Chunk {
	return domain.Chunk{Ordinal: ordinal, Content: content, Hash: "h" + content}
}

func eventTypes(events []domain.ChunkDiffEvent) []domain.ChunkEventType {
	types := make([]domain.ChunkEventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestDiffChunks(t *testing.T) {
	cA := mkChunk(0, "A")
	cB := mkChunk(1, "B")
	cC := mkChunk(2, "C")
	cD := mkChunk(3, "D")
	cBPrime := mkChunk(1, "B'")

	t.Run("identical lists are all unchanged", func(t *testing.T) {
		events := domain.DiffChunks(
			[]domain.Chunk{cA, cB, cC},
			[]domain.Chunk{cA, cB, cC},
		)
		assert.Equal(t, []domain.ChunkEventType{
			domain.ChunkEventUnchanged,
			domain.ChunkEventUnchanged,
			domain.ChunkEventUnchanged,
		}, eventTypes(events))
	})

	t.Run("same-size gap becomes an update", func(t *testing.T) {
		events := domain.DiffChunks(
			[]domain.Chunk{cA, cB, cC},
			[]domain.Chunk{cA, cBPrime, cC},
		)
		assert.Len(t, events, 3)
		assert.Equal(t, domain.ChunkEventUnchanged, events[0].Type)
		assert.Equal(t, domain.ChunkEventUpdated, events[1].Type)
		assert.Equal(t, "B", events[1].OldChunk.Content)
		assert.Equal(t, "B'", events[1].NewChunk.Content)
		assert.Equal(t, domain.ChunkEventUnchanged, events[2].Type)
	})

	t.Run("append at end", func(t *testing.T) {
		events := domain.DiffChunks(
			[]domain.Chunk{cA, cB},
			[]domain.Chunk{cA, cB, cC},
		)
		assert.Len(t, events, 3)
		assert.Equal(t, domain.ChunkEventAdded, events[2].Type)
		assert.Equal(t, "C", events[2].NewChunk.Content)
		assert.Nil(t, events[2].OldChunk)
	})

	t.Run("truncate at end", func(t *testing.T) {
		events := domain.DiffChunks(
			[]domain.Chunk{cA, cB},
			[]domain.Chunk{cA},
		)
		assert.Len(t, events, 2)
		assert.Equal(t, domain.ChunkEventDeleted, events[1].Type)
		assert.Equal(t, "B", events[1].OldChunk.Content)
		assert.Nil(t, events[1].NewChunk)
	})

	t.Run("insertion between anchors", func(t *testing.T) {
		events := domain.DiffChunks(
			[]domain.Chunk{cA, cC},
			[]domain.Chunk{cA, cB, cC},
		)
		assert.Equal(t, []domain.ChunkEventType{
			domain.ChunkEventUnchanged,
			domain.ChunkEventAdded,
			domain.ChunkEventUnchanged,
		}, eventTypes(events))
		assert.Equal(t, "B", events[1].NewChunk.Content)
	})

	t.Run("replacement between anchors", func(t *testing.T) {
		events := domain.DiffChunks(
			[]domain.Chunk{cA, cB, cC},
			[]domain.Chunk{cA, cD, cC},
		)
		assert.Len(t, events, 3)
		assert.Equal(t, domain.ChunkEventUpdated, events[1].Type)
		assert.Equal(t, "B", events[1].OldChunk.Content)
		assert.Equal(t, "D", events[1].NewChunk.Content)
	})

	t.Run("uneven gap splits into delete plus adds", func(t *testing.T) {
		events := domain.DiffChunks(
			[]domain.Chunk{cA, cB},
			[]domain.Chunk{cA, cC, cD},
		)
		assert.Equal(t, []domain.ChunkEventType{
			domain.ChunkEventUnchanged,
			domain.ChunkEventDeleted,
			domain.ChunkEventAdded,
			domain.ChunkEventAdded,
		}, eventTypes(events))
		assert.Equal(t, "B", events[1].OldChunk.Content)
		assert.Equal(t, "C", events[2].NewChunk.Content)
		assert.Equal(t, "D", events[3].NewChunk.Content)
	})

	t.Run("both empty", func(t *testing.T) {
		assert.Empty(t, domain.DiffChunks(nil, nil))
	})

	t.Run("everything new", func(t *testing.T) {
		events := domain.DiffChunks(nil, []domain.Chunk{cA, cB})
		assert.Equal(t, []domain.ChunkEventType{
			domain.ChunkEventAdded,
			domain.ChunkEventAdded,
		}, eventTypes(events))
	})
}
