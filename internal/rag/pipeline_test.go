package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements DocumentStore over a map.
type fakeStore struct {
	mu        sync.Mutex
	docs      map[string]string
	summaries map[string]string
	err       error
}

func (s *fakeStore) GetText(ctx context.Context, id string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	text, ok := s.docs[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return text, nil
}

func (s *fakeStore) SetSummary(ctx context.Context, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summaries == nil {
		s.summaries = map[string]string{}
	}
	s.summaries[id] = summary
	return nil
}

// keywordEmbedder maps text to a vector of keyword counts, which is enough
// to make ranking predictable.
type keywordEmbedder struct {
	mu       sync.Mutex
	keywords []string
	calls    int
	err      error
}

func (e *keywordEmbedder) vector(text string) []float32 {
	vec := make([]float32, len(e.keywords))
	for i, kw := range e.keywords {
		vec[i] = float32(strings.Count(strings.ToLower(text), kw))
	}
	return vec
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *keywordEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// recordingGenerator returns a fixed reply and remembers every prompt.
type recordingGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *recordingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func newTestPipeline(t *testing.T, store *fakeStore, emb *keywordEmbedder, gen *recordingGenerator, opts ...Option) *Pipeline {
	t.Helper()
	p, err := NewPipeline(store, emb, gen, opts...)
	require.NoError(t, err)
	return p
}

func TestPipeline_Answer(t *testing.T) {
	// Five 10-character chunks; chunks 1 and 3 mention "fee", chunk 4 twice.
	text := "intro....." + "fee terms." + "boring...." + "late fee.." + "fee fee..."
	store := &fakeStore{docs: map[string]string{"doc-1": text}}
	emb := &keywordEmbedder{keywords: []string{"fee"}}
	gen := &recordingGenerator{reply: "  The fee is due monthly.  "}
	p := newTestPipeline(t, store, emb, gen, WithChunkSize(10), WithTopK(3))

	answer, err := p.Answer(context.Background(), "doc-1", "What is the fee?")
	require.NoError(t, err)

	assert.Equal(t, "  The fee is due monthly.  ", answer, "answer must be returned verbatim")
	require.Len(t, gen.prompts, 1)
	// Selected chunks appear in document order, not score order.
	assert.Contains(t, gen.prompts[0], "Context:\nfee terms.\nlate fee..\nfee fee...\n\nQuestion: What is the fee?")
	assert.NotContains(t, gen.prompts[0], "intro")
	assert.Equal(t, 2, emb.callCount())
}

func TestPipeline_Answer_EmptyDocument(t *testing.T) {
	store := &fakeStore{docs: map[string]string{"empty": ""}}
	emb := &keywordEmbedder{keywords: []string{"x"}}
	gen := &recordingGenerator{reply: "I don't know."}
	p := newTestPipeline(t, store, emb, gen)

	answer, err := p.Answer(context.Background(), "empty", "Anything?")
	require.NoError(t, err)

	assert.Equal(t, "I don't know.", answer)
	assert.Equal(t, 0, emb.callCount(), "embedder must not be called for an empty document")
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Context:\n\n\nQuestion: Anything?")
}

func TestPipeline_Answer_FewerChunksThanK(t *testing.T) {
	store := &fakeStore{docs: map[string]string{"d": "aaaaabbbbb"}}
	emb := &keywordEmbedder{keywords: []string{"b"}}
	gen := &recordingGenerator{reply: "ok"}
	p := newTestPipeline(t, store, emb, gen, WithChunkSize(5))

	_, err := p.Answer(context.Background(), "d", "b?")
	require.NoError(t, err)

	assert.Contains(t, gen.prompts[0], "Context:\naaaaa\nbbbbb\n\n")
}

func TestPipeline_Answer_NotFound(t *testing.T) {
	store := &fakeStore{docs: map[string]string{}}
	emb := &keywordEmbedder{keywords: []string{"x"}}
	gen := &recordingGenerator{reply: "unused"}
	p := newTestPipeline(t, store, emb, gen)

	_, err := p.Answer(context.Background(), "999", "Where?")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, 0, emb.callCount())
	assert.Empty(t, gen.prompts)
}

func TestPipeline_Answer_InvalidInput(t *testing.T) {
	store := &fakeStore{docs: map[string]string{"d": "text"}, err: errors.New("must not be called")}
	emb := &keywordEmbedder{}
	gen := &recordingGenerator{}
	p := newTestPipeline(t, store, emb, gen)

	_, err := p.Answer(context.Background(), "d", "   ")
	assert.Equal(t, KindInvalidInput, KindOf(err))

	_, err = p.Answer(context.Background(), "", "question")
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestPipeline_Answer_EmbedderUnavailable(t *testing.T) {
	store := &fakeStore{docs: map[string]string{"d": "some text"}}
	emb := &keywordEmbedder{err: errors.New("connection refused")}
	gen := &recordingGenerator{}
	p := newTestPipeline(t, store, emb, gen)

	_, err := p.Answer(context.Background(), "d", "question")

	assert.Equal(t, KindProviderUnavailable, KindOf(err))
	assert.Empty(t, gen.prompts)
}

func TestPipeline_Answer_GenerationErrors(t *testing.T) {
	store := &fakeStore{docs: map[string]string{"d": "some text"}}
	emb := &keywordEmbedder{keywords: []string{"text"}}

	gen := &recordingGenerator{err: &GenerationError{StatusCode: 500, Message: "model not loaded"}}
	p := newTestPipeline(t, store, emb, gen)
	_, err := p.Answer(context.Background(), "d", "question")
	assert.Equal(t, KindGeneration, KindOf(err))
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "model not loaded", genErr.Message)

	gen = &recordingGenerator{err: errors.New("unexpected payload")}
	p = newTestPipeline(t, store, emb, gen)
	_, err = p.Answer(context.Background(), "d", "question")
	assert.Equal(t, KindGeneration, KindOf(err))

	gen = &recordingGenerator{err: fmt.Errorf("%w: dial tcp", ErrProviderUnavailable)}
	p = newTestPipeline(t, store, emb, gen)
	_, err = p.Answer(context.Background(), "d", "question")
	assert.Equal(t, KindProviderUnavailable, KindOf(err))
}

func TestPipeline_StoreFailureIsUnavailable(t *testing.T) {
	store := &fakeStore{err: errors.New("qdrant down")}
	p := newTestPipeline(t, store, &keywordEmbedder{}, &recordingGenerator{})

	_, err := p.Answer(context.Background(), "d", "question")

	assert.Equal(t, KindProviderUnavailable, KindOf(err))
}

// slowGenerator blocks until its context is done.
type slowGenerator struct{}

func (slowGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestPipeline_CallTimeout(t *testing.T) {
	store := &fakeStore{docs: map[string]string{"d": ""}}
	p, err := NewPipeline(store, &keywordEmbedder{}, slowGenerator{}, WithCallTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = p.Answer(context.Background(), "d", "question")

	assert.Equal(t, KindProviderUnavailable, KindOf(err))
}

func TestPipeline_PromptIsDeterministic(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta. ", 300)
	store := &fakeStore{docs: map[string]string{"d": text}}
	emb := &keywordEmbedder{keywords: []string{"alpha", "gamma"}}
	gen := &recordingGenerator{reply: "x"}
	p := newTestPipeline(t, store, emb, gen)

	_, err := p.Answer(context.Background(), "d", "gamma?")
	require.NoError(t, err)
	_, err = p.Answer(context.Background(), "d", "gamma?")
	require.NoError(t, err)

	require.Len(t, gen.prompts, 2)
	assert.Equal(t, gen.prompts[0], gen.prompts[1])
}

func TestPipeline_Summarize(t *testing.T) {
	text := strings.Repeat("a", SummaryBudget) + "IGNORED"
	store := &fakeStore{docs: map[string]string{"d": text}}
	gen := &recordingGenerator{reply: "A short summary."}
	p := newTestPipeline(t, store, &keywordEmbedder{}, gen)

	summary, err := p.Summarize(context.Background(), "d")
	require.NoError(t, err)

	assert.Equal(t, "A short summary.", summary)
	assert.Equal(t, "A short summary.", store.summaries["d"])
	assert.NotContains(t, gen.prompts[0], "IGNORED")
}

func TestPipeline_Sections(t *testing.T) {
	store := &fakeStore{docs: map[string]string{"d": "Section one. Section two."}}
	gen := &recordingGenerator{reply: `[{"title":"One","summary":"First"}]`}
	p := newTestPipeline(t, store, &keywordEmbedder{}, gen)

	result, err := p.Sections(context.Background(), "d")
	require.NoError(t, err)

	assert.Equal(t, `[{"title":"One","summary":"First"}]`, result.Raw)
	assert.Equal(t, []Section{{Title: "One", Summary: "First"}}, result.Sections)

	gen.reply = "Not JSON at all"
	result, err = p.Sections(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, "Not JSON at all", result.Raw)
	assert.Empty(t, result.Sections)
}

func TestNewPipeline_Validation(t *testing.T) {
	store := &fakeStore{}
	emb := &keywordEmbedder{}
	gen := &recordingGenerator{}

	_, err := NewPipeline(store, emb, gen, WithChunkSize(0))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewPipeline(store, emb, gen, WithTopK(-1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewPipeline(nil, emb, gen)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
