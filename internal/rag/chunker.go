package rag

import "unicode/utf8"

// DefaultChunkSize is the number of characters per chunk used for Q&A.
const DefaultChunkSize = 1000

// Chunk is a contiguous piece of a document's text. Chunks are built per
// request and never stored.
type Chunk struct {
	Index int    // Position in document (0, 1, 2...)
	Text  string // Exact substring of the document text
}

// ChunkText splits text into consecutive chunks of size characters (runes).
// The chunks cover the text exactly and in order; only the last one may be
// shorter than size. Empty text yields no chunks.
func ChunkText(text string, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, invalidInput("chunk size must be positive, got %d", size)
	}
	if text == "" {
		return []Chunk{}, nil
	}

	chunks := make([]Chunk, 0, utf8.RuneCountInString(text)/size+1)
	start, count := 0, 0
	for offset := range text {
		if count == size {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: text[start:offset]})
			start, count = offset, 0
		}
		count++
	}
	chunks = append(chunks, Chunk{Index: len(chunks), Text: text[start:]})

	return chunks, nil
}

// truncate returns at most limit leading characters of text.
func truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for offset := range text {
		if count == limit {
			return text[:offset]
		}
		count++
	}
	return text
}
