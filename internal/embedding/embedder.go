// Package embedding provides the embedding provider used by the retrieval
// pipeline.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"

	"github.com/bull/docqa/internal/rag"
)

const (
	// DefaultModel is all-MiniLM-L6-v2 as published by Ollama.
	DefaultModel = "all-minilm"

	// DefaultDimension is the vector size of DefaultModel.
	DefaultDimension = 384

	// DefaultBatchSize keeps a single request well under provider input limits.
	DefaultBatchSize = 256

	// DefaultRateLimitRetry is how long HTTP 429 responses are retried.
	DefaultRateLimitRetry = 30 * time.Second
)

// Config configures an Embedder.
type Config struct {
	Model     string
	Dimension int // expected vector size; 0 accepts whatever the provider returns
	BatchSize int
	// RateLimitRetry bounds the time spent retrying HTTP 429 responses.
	// Zero disables retries. Other failures are never retried.
	RateLimitRetry time.Duration
}

// Embedder generates embeddings through an OpenAI-compatible endpoint. It
// satisfies rag.Embedder.
type Embedder struct {
	client         *Client
	model          string
	dimension      int
	batchSize      int
	rateLimitRetry time.Duration
}

// NewEmbedder creates an Embedder. Zero values in cfg fall back to defaults,
// except RateLimitRetry which is taken as given.
func NewEmbedder(client *Client, cfg Config) *Embedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Embedder{
		client:         client,
		model:          cfg.Model,
		dimension:      cfg.Dimension,
		batchSize:      cfg.BatchSize,
		rateLimitRetry: cfg.RateLimitRetry,
	}
}

// Embed returns the embedding of a single text. It goes through the same
// request path as EmbedBatch so both produce identical vectors.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one embedding per text, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		vectors, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("%w: embedding batch %d-%d: %v", rag.ErrProviderUnavailable, i, end, err)
		}
		all = append(all, vectors...)
	}

	return all, nil
}

// embedBatchWithRetry sends one request. Only rate limit errors (HTTP 429)
// are retried, with exponential backoff.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			if isRateLimitError(err) && e.rateLimitRetry > 0 {
				return err
			}
			return backoff.Permanent(err)
		}

		vectors, err = e.decode(resp, len(texts))
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = e.rateLimitRetry

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return vectors, err
}

// decode orders the response by input index and validates its shape.
func (e *Embedder) decode(resp *openai.CreateEmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(resp.Data), want)
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		if e.dimension > 0 && len(d.Embedding) != e.dimension {
			return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(d.Embedding), e.dimension)
		}
		vectors[i] = toFloat32(d.Embedding)
	}
	return vectors, nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
