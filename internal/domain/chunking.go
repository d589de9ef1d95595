package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// ChunkerVersion identifies the chunking algorithm that produced a version's
// chunks. It is persisted with each document version so that re-indexing can
// tell algorithm changes apart from content changes.
type ChunkerVersion string

// chunkerVersionCurrent changes whenever the chunking behavior changes in a
// way that produces different chunk boundaries for the same input.
const chunkerVersionCurrent ChunkerVersion = "v6"

const (
	// MinChunkLength is the shortest chunk worth embedding on its own, in
	// runes. Shorter fragments are folded into a neighbor.
	MinChunkLength = 80
	// MaxChunkLength bounds chunk size in runes. Longer paragraphs are split
	// at sentence boundaries.
	MaxChunkLength = 1000
)

// Chunk is one fragment of a document body, before persistence.
type Chunk struct {
	Ordinal int
	Content string
	Hash    string
}

// Chunker splits an article body into embeddable chunks.
type Chunker interface {
	Chunk(body string) ([]Chunk, error)
	Version() ChunkerVersion
}

type paragraphChunker struct{}

// NewChunker returns the default paragraph-based chunker.
func NewChunker() Chunker {
	return &paragraphChunker{}
}

func (c *paragraphChunker) Version() ChunkerVersion {
	return chunkerVersionCurrent
}

// Chunk splits on blank lines, folds short fragments into neighbors, and
// breaks oversized paragraphs at sentence boundaries. Ordinals are assigned
// after all passes, so they are dense and 0-based.
func (c *paragraphChunker) Chunk(body string) ([]Chunk, error) {
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	var paragraphs []string
	for _, part := range strings.Split(normalized, "\n\n") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	merged := coalesceShort(paragraphs)
	merged = coalesceShortRuns(merged)
	final := splitOversized(merged)

	chunks := make([]Chunk, 0, len(final))
	for i, content := range final {
		sum := sha256.Sum256([]byte(content))
		chunks = append(chunks, Chunk{
			Ordinal: i,
			Content: content,
			Hash:    hex.EncodeToString(sum[:]),
		})
	}
	return chunks, nil
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// coalesceShort folds paragraphs shorter than MinChunkLength into an
// accumulator that is attached to the nearest long paragraph: appended to the
// previous one when it exists, otherwise prepended to the next.
func coalesceShort(paragraphs []string) []string {
	if len(paragraphs) == 0 {
		return paragraphs
	}

	var out []string
	var pending string

	flush := func(next string) string {
		if pending == "" {
			return next
		}
		defer func() { pending = "" }()
		if runeLen(pending) >= MinChunkLength {
			out = append(out, pending)
			return next
		}
		if len(out) > 0 {
			out[len(out)-1] += "\n\n" + pending
			return next
		}
		// Nothing before it yet; carry it into the upcoming paragraph.
		return pending + "\n\n" + next
	}

	for _, para := range paragraphs {
		if runeLen(para) >= MinChunkLength {
			para = flush(para)
			out = append(out, para)
			continue
		}
		if pending == "" {
			pending = para
		} else {
			pending += "\n\n" + para
		}
	}

	if pending != "" {
		if runeLen(pending) < MinChunkLength && len(out) > 0 {
			out[len(out)-1] += "\n\n" + pending
		} else {
			out = append(out, pending)
		}
	}
	return out
}

// coalesceShortRuns is a second pass over the result of coalesceShort: runs
// of still-short chunks are merged with each other, and a lone short chunk is
// attached to whichever neighbor exists.
func coalesceShortRuns(paragraphs []string) []string {
	if len(paragraphs) <= 1 {
		return paragraphs
	}

	var out []string
	for i := 0; i < len(paragraphs); i++ {
		current := paragraphs[i]

		for i+1 < len(paragraphs) &&
			runeLen(current) < MinChunkLength &&
			runeLen(paragraphs[i+1]) < MinChunkLength {
			current += "\n\n" + paragraphs[i+1]
			i++
		}

		if runeLen(current) < MinChunkLength {
			if i+1 < len(paragraphs) {
				paragraphs[i+1] = current + "\n\n" + paragraphs[i+1]
				continue
			}
			if len(out) > 0 {
				out[len(out)-1] += "\n\n" + current
				continue
			}
		}
		out = append(out, current)
	}
	return out
}

// splitOversized breaks paragraphs longer than MaxChunkLength at sentence
// boundaries, packing sentences greedily up to the limit.
func splitOversized(paragraphs []string) []string {
	var out []string
	for _, para := range paragraphs {
		if runeLen(para) <= MaxChunkLength {
			out = append(out, para)
			continue
		}

		var piece string
		for _, sentence := range splitSentences(para) {
			switch {
			case piece == "":
				piece = sentence
			case runeLen(piece)+1+runeLen(sentence) > MaxChunkLength:
				out = append(out, piece)
				piece = sentence
			default:
				piece += " " + sentence
			}
		}
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// splitSentences cuts at '.', '!', '?' and the Japanese full stop, but only
// when followed by whitespace or end of text, so abbreviations inside a token
// survive.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' && r != '。' {
			continue
		}
		if i+1 < len(runes) && runes[i+1] != ' ' && runes[i+1] != '\n' {
			continue
		}
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
