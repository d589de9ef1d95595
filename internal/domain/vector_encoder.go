package domain

import "context"

// VectorEncoder turns texts into embedding vectors, one per input, in input
// order. Implementations must be safe for concurrent use.
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)

	// Version identifies the embedding model; it is persisted with each
	// document version so vectors from different models never mix.
	Version() string
}
