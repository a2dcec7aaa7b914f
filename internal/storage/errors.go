package storage

import (
	"errors"
	"fmt"

	"github.com/bull/docqa/internal/rag"
)

var (
	ErrQdrantUnreachable = errors.New("qdrant server unreachable")

	// ErrDocumentNotFound matches rag.ErrNotFound so the pipeline and the
	// HTTP layer treat a missing point as a missing document.
	ErrDocumentNotFound = fmt.Errorf("%w in qdrant", rag.ErrNotFound)
)
