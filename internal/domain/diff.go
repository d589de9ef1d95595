package domain

// ChunkEventType classifies what happened to a chunk position between two
// document versions.
type ChunkEventType string

const (
	ChunkEventAdded     ChunkEventType = "added"
	ChunkEventUpdated   ChunkEventType = "updated"
	ChunkEventUnchanged ChunkEventType = "unchanged"
	ChunkEventDeleted   ChunkEventType = "deleted"
)

// ChunkDiffEvent describes one position of the diff between an old and a new
// chunk list. OldChunk is nil for added events, NewChunk is nil for deleted
// ones.
type ChunkDiffEvent struct {
	Type     ChunkEventType
	OldChunk *Chunk
	NewChunk *Chunk
}

// DiffChunks compares two chunk lists by content hash and emits one event
// stream covering both. Chunks with matching hashes anchor the diff; between
// anchors, a gap with the same number of old and new chunks is reported as
// position-wise updates, while an uneven gap becomes deletions of the old
// side followed by additions of the new side.
func DiffChunks(oldChunks, newChunks []Chunk) []ChunkDiffEvent {
	anchors := commonHashPairs(oldChunks, newChunks)

	var events []ChunkDiffEvent
	oldPos, newPos := 0, 0

	emitGap := func(oldEnd, newEnd int) {
		oldGap := oldChunks[oldPos:oldEnd]
		newGap := newChunks[newPos:newEnd]

		if len(oldGap) == len(newGap) {
			for i := range oldGap {
				events = append(events, ChunkDiffEvent{
					Type:     ChunkEventUpdated,
					OldChunk: &oldGap[i],
					NewChunk: &newGap[i],
				})
			}
			return
		}
		for i := range oldGap {
			events = append(events, ChunkDiffEvent{
				Type:     ChunkEventDeleted,
				OldChunk: &oldGap[i],
			})
		}
		for i := range newGap {
			events = append(events, ChunkDiffEvent{
				Type:     ChunkEventAdded,
				NewChunk: &newGap[i],
			})
		}
	}

	for _, a := range anchors {
		emitGap(a.oldIdx, a.newIdx)
		events = append(events, ChunkDiffEvent{
			Type:     ChunkEventUnchanged,
			OldChunk: &oldChunks[a.oldIdx],
			NewChunk: &newChunks[a.newIdx],
		})
		oldPos, newPos = a.oldIdx+1, a.newIdx+1
	}
	emitGap(len(oldChunks), len(newChunks))

	return events
}

type anchorPair struct {
	oldIdx int
	newIdx int
}

// commonHashPairs returns the longest common subsequence of the two chunk
// lists' hashes as index pairs, in order.
func commonHashPairs(oldChunks, newChunks []Chunk) []anchorPair {
	n, m := len(oldChunks), len(newChunks)
	if n == 0 || m == 0 {
		return nil
	}

	// Standard LCS table; chunk lists are small enough that O(n*m) is fine.
	table := make([][]int, n+1)
	for i := range table {
		table[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if oldChunks[i].Hash == newChunks[j].Hash {
				table[i][j] = table[i+1][j+1] + 1
			} else {
				table[i][j] = max(table[i+1][j], table[i][j+1])
			}
		}
	}

	var pairs []anchorPair
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case oldChunks[i].Hash == newChunks[j].Hash:
			pairs = append(pairs, anchorPair{oldIdx: i, newIdx: j})
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			i++
		default:
			j++
		}
	}
	return pairs
}
