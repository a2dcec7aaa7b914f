// Package rag implements the retrieval pipeline that answers questions about a
// single stored document: fixed-size chunking, embedding similarity ranking,
// prompt assembly and a call to the generation provider.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCallTimeout bounds every individual collaborator call.
const DefaultCallTimeout = 60 * time.Second

// DocumentStore resolves document text by ID and accepts summary write-backs.
// GetText must return an error matching ErrNotFound for unknown IDs.
type DocumentStore interface {
	GetText(ctx context.Context, documentID string) (string, error)
	SetSummary(ctx context.Context, documentID, summary string) error
}

// Embedder turns text into fixed-dimension vectors. EmbedBatch preserves input
// order and must agree with Embed for identical input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator completes a prompt with a language model, without streaming.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Pipeline answers questions about stored documents. It holds no per-request
// state and is safe for concurrent use.
type Pipeline struct {
	store       DocumentStore
	embedder    Embedder
	generator   Generator
	chunkSize   int
	topK        int
	callTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunkSize sets the chunk length in characters.
func WithChunkSize(size int) Option {
	return func(p *Pipeline) { p.chunkSize = size }
}

// WithTopK sets how many chunks are used as context.
func WithTopK(k int) Option {
	return func(p *Pipeline) { p.topK = k }
}

// WithCallTimeout sets the deadline applied to each collaborator call.
// Zero disables the per-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.callTimeout = d }
}

// WithLogger sets the logger. A nil logger means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// NewPipeline creates a pipeline over the given collaborators.
func NewPipeline(store DocumentStore, embedder Embedder, generator Generator, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		store:       store,
		embedder:    embedder,
		generator:   generator,
		chunkSize:   DefaultChunkSize,
		topK:        DefaultTopK,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	switch {
	case store == nil || embedder == nil || generator == nil:
		return nil, invalidInput("pipeline requires a document store, an embedder and a generator")
	case p.chunkSize <= 0:
		return nil, invalidInput("chunk size must be positive, got %d", p.chunkSize)
	case p.topK <= 0:
		return nil, invalidInput("top-k must be positive, got %d", p.topK)
	case p.callTimeout < 0:
		return nil, invalidInput("call timeout must not be negative, got %s", p.callTimeout)
	}
	return p, nil
}

// ValidateQuestion rejects a blank document id or question with
// ErrInvalidInput. Callers that look the document up first run it beforehand.
func ValidateQuestion(documentID, question string) error {
	if strings.TrimSpace(documentID) == "" {
		return invalidInput("document id is required")
	}
	if strings.TrimSpace(question) == "" {
		return invalidInput("question text is required")
	}
	return nil
}

// Answer answers question using the most relevant chunks of the document and
// returns the generated text verbatim.
func (p *Pipeline) Answer(ctx context.Context, documentID, question string) (string, error) {
	prompt, err := p.Prompt(ctx, documentID, question)
	if err != nil {
		return "", err
	}

	answer, err := p.generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	p.logger.Info("Answered question", "document_id", documentID, "answer_len", len(answer))
	return answer, nil
}

// Prompt runs the retrieval steps of Answer and returns the prompt that would
// be sent to the generation provider.
func (p *Pipeline) Prompt(ctx context.Context, documentID, question string) (string, error) {
	if err := ValidateQuestion(documentID, question); err != nil {
		return "", err
	}

	// 1. Resolve document text
	text, err := p.getText(ctx, documentID)
	if err != nil {
		return "", err
	}

	// 2. Chunk
	chunks, err := ChunkText(text, p.chunkSize)
	if err != nil {
		return "", err
	}
	p.logger.Debug("Chunked document", "document_id", documentID, "chunks", len(chunks))

	// 3. Embed and rank; an empty document never reaches the embedder
	var selected []RankedChunk
	if len(chunks) > 0 {
		questionVec, chunkVecs, err := p.embed(ctx, question, chunks)
		if err != nil {
			return "", err
		}

		ranked, err := Rank(questionVec, chunks, chunkVecs, p.topK)
		if err != nil {
			return "", err
		}
		selected = InDocumentOrder(ranked)
	}

	// 4. Assemble
	return AnswerPrompt(selected, question), nil
}

// Summarize generates a summary from the start of the document, stores it on
// the document and returns it.
func (p *Pipeline) Summarize(ctx context.Context, documentID string) (string, error) {
	if strings.TrimSpace(documentID) == "" {
		return "", invalidInput("document id is required")
	}

	text, err := p.getText(ctx, documentID)
	if err != nil {
		return "", err
	}

	summary, err := p.generate(ctx, SummaryPrompt(text))
	if err != nil {
		return "", err
	}

	callCtx, cancel := p.callContext(ctx)
	defer cancel()
	if err := p.store.SetSummary(callCtx, documentID, summary); err != nil {
		return "", classifyStoreError("store summary", err)
	}

	p.logger.Info("Summarized document", "document_id", documentID, "summary_len", len(summary))
	return summary, nil
}

// SectionsResult holds a section-extraction response. Sections is empty when
// the model output contained no decodable JSON array.
type SectionsResult struct {
	Raw      string
	Sections []Section
}

// Sections asks the generation provider to outline the start of the document.
func (p *Pipeline) Sections(ctx context.Context, documentID string) (*SectionsResult, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, invalidInput("document id is required")
	}

	text, err := p.getText(ctx, documentID)
	if err != nil {
		return nil, err
	}

	raw, err := p.generate(ctx, SectionsPrompt(text))
	if err != nil {
		return nil, err
	}

	sections := parseSections(raw)
	if sections == nil {
		p.logger.Warn("Section output is not a JSON array, returning raw text", "document_id", documentID)
		sections = []Section{}
	}
	return &SectionsResult{Raw: raw, Sections: sections}, nil
}

func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.callTimeout == 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.callTimeout)
}

func (p *Pipeline) getText(ctx context.Context, documentID string) (string, error) {
	callCtx, cancel := p.callContext(ctx)
	defer cancel()

	text, err := p.store.GetText(callCtx, documentID)
	if err != nil {
		return "", classifyStoreError("lookup document", err)
	}
	return text, nil
}

// embed computes the question vector and the chunk vectors concurrently and
// returns only after both calls have finished.
func (p *Pipeline) embed(ctx context.Context, question string, chunks []Chunk) ([]float32, [][]float32, error) {
	callCtx, cancel := p.callContext(ctx)
	defer cancel()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var questionVec []float32
	var chunkVecs [][]float32

	g, gctx := errgroup.WithContext(callCtx)
	g.Go(func() error {
		vec, err := p.embedder.Embed(gctx, question)
		if err != nil {
			return fmt.Errorf("embed question: %w", err)
		}
		questionVec = vec
		return nil
	})
	g.Go(func() error {
		vecs, err := p.embedder.EmbedBatch(gctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		chunkVecs = vecs
		return nil
	})
	if err := g.Wait(); err != nil {
		if KindOf(err) == KindInternal {
			err = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, nil, err
	}

	return questionVec, chunkVecs, nil
}

func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := p.callContext(ctx)
	defer cancel()

	text, err := p.generator.Generate(callCtx, prompt)
	if err == nil {
		return text, nil
	}

	switch {
	case KindOf(err) != KindInternal:
		return "", err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	default:
		return "", &GenerationError{Message: err.Error(), Err: err}
	}
}

func classifyStoreError(op string, err error) error {
	if KindOf(err) == KindInternal {
		return fmt.Errorf("%s: %w: %v", op, ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
