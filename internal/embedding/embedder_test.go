package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docqa/internal/rag"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingItem struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// fakeProvider serves /v1/embeddings, embedding each input as
// [len(text), 1]. Items are returned in reverse order to exercise reordering.
func fakeProvider(t *testing.T, requests *atomic.Int32, status func(n int32) int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		if code := status(n); code != http.StatusOK {
			w.WriteHeader(code)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "try later", "type": "server_error"},
			})
			return
		}

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		data := make([]embeddingItem, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, embeddingItem{
				Object:    "embedding",
				Index:     i,
				Embedding: []float64{float64(len(req.Input[i])), 1},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func alwaysOK(int32) int { return http.StatusOK }

func newTestEmbedder(t *testing.T, server *httptest.Server, cfg Config) *Embedder {
	t.Helper()
	client, err := NewClient(server.URL+"/v1", "", nil)
	require.NoError(t, err)
	return NewEmbedder(client, cfg)
}

func TestEmbedder_EmbedBatchPreservesOrder(t *testing.T) {
	var requests atomic.Int32
	server := fakeProvider(t, &requests, alwaysOK)
	defer server.Close()

	e := newTestEmbedder(t, server, Config{BatchSize: 2})
	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "bbb", "cc", "dddd", "eeeee"})
	require.NoError(t, err)

	require.Len(t, vectors, 5)
	for i, want := range []float32{1, 3, 2, 4, 5} {
		assert.Equal(t, []float32{want, 1}, vectors[i])
	}
	assert.Equal(t, int32(3), requests.Load(), "five texts in batches of two")
}

func TestEmbedder_EmbedMatchesBatch(t *testing.T) {
	var requests atomic.Int32
	server := fakeProvider(t, &requests, alwaysOK)
	defer server.Close()

	e := newTestEmbedder(t, server, Config{})
	single, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	batch, err := e.EmbedBatch(context.Background(), []string{"x", "hello"})
	require.NoError(t, err)

	assert.Equal(t, batch[1], single)
}

func TestEmbedder_EmptyBatch(t *testing.T) {
	var requests atomic.Int32
	server := fakeProvider(t, &requests, alwaysOK)
	defer server.Close()

	e := newTestEmbedder(t, server, Config{})
	vectors, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, vectors)
	assert.Equal(t, int32(0), requests.Load())
}

func TestEmbedder_ServerErrorIsNotRetried(t *testing.T) {
	var requests atomic.Int32
	server := fakeProvider(t, &requests, func(int32) int { return http.StatusInternalServerError })
	defer server.Close()

	e := newTestEmbedder(t, server, Config{RateLimitRetry: time.Second})
	_, err := e.Embed(context.Background(), "hello")

	assert.ErrorIs(t, err, rag.ErrProviderUnavailable)
	assert.Equal(t, int32(1), requests.Load())
}

func TestEmbedder_RateLimitIsRetried(t *testing.T) {
	var requests atomic.Int32
	server := fakeProvider(t, &requests, func(n int32) int {
		if n == 1 {
			return http.StatusTooManyRequests
		}
		return http.StatusOK
	})
	defer server.Close()

	e := newTestEmbedder(t, server, Config{RateLimitRetry: 5 * time.Second})
	vec, err := e.Embed(context.Background(), "hey")
	require.NoError(t, err)

	assert.Equal(t, []float32{3, 1}, vec)
	assert.Equal(t, int32(2), requests.Load())
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	var requests atomic.Int32
	server := fakeProvider(t, &requests, alwaysOK)
	defer server.Close()

	e := newTestEmbedder(t, server, Config{Dimension: 384})
	_, err := e.Embed(context.Background(), "hello")

	assert.ErrorIs(t, err, rag.ErrProviderUnavailable)
}

func TestEmbedder_Unreachable(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:1/v1", "", nil)
	require.NoError(t, err)
	e := NewEmbedder(client, Config{})

	_, err = e.Embed(context.Background(), "hello")

	assert.Equal(t, rag.KindProviderUnavailable, rag.KindOf(err))
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("localhost:11434", "", nil)
	assert.Error(t, err)
}
