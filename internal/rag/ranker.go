package rag

import (
	"fmt"
	"sort"
)

// DefaultTopK is the number of chunks handed to the prompt assembler.
const DefaultTopK = 3

// RankedChunk pairs a chunk with its similarity to the question.
type RankedChunk struct {
	Chunk
	Score float64
}

// Rank scores every chunk by the dot product of its vector with the question
// vector and returns the k best, highest score first. Equal scores keep
// document order, so the lower index wins.
func Rank(question []float32, chunks []Chunk, vectors [][]float32, k int) ([]RankedChunk, error) {
	if k <= 0 {
		return nil, invalidInput("top-k must be positive, got %d", k)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks",
			ErrProviderUnavailable, len(vectors), len(chunks))
	}

	ranked := make([]RankedChunk, len(chunks))
	for i, chunk := range chunks {
		score, err := dot(question, vectors[i])
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", chunk.Index, err)
		}
		ranked[i] = RankedChunk{Chunk: chunk, Score: score}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Index < ranked[j].Index
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

// InDocumentOrder returns a copy of ranked sorted by chunk position.
func InDocumentOrder(ranked []RankedChunk) []RankedChunk {
	ordered := make([]RankedChunk, len(ranked))
	copy(ordered, ranked)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})
	return ordered
}

func dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: embedding dimension mismatch (%d vs %d)",
			ErrProviderUnavailable, len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}
