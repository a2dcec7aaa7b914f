// Package generation calls the locally hosted language model that turns an
// assembled prompt into text.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bull/docqa/internal/rag"
)

const (
	// DefaultBaseURL is the Ollama server root; the OpenAI-compatible API
	// lives under /v1.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is the model requested when none is configured.
	DefaultModel = "llama2"
)

// Generator completes prompts through the OpenAI-compatible completions
// endpoint of an Ollama server. It satisfies rag.Generator.
//
// Requests are never retried: the SDK's retry loop is disabled and no backoff
// wraps Generate.
type Generator struct {
	client *openai.Client
	model  string
}

// NewGenerator creates a Generator for the server at baseURL.
func NewGenerator(baseURL, model string, httpClient *http.Client) (*Generator, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("generation base URL must be http(s), got %q", baseURL)
	}
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimSuffix(baseURL, "/") + "/v1/"),
		option.WithAPIKey("ollama"),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	client := openai.NewClient(opts...)
	return &Generator{client: &client, model: model}, nil
}

// Model returns the model identifier sent with every request.
func (g *Generator) Model() string {
	return g.model
}

// Generate sends prompt as a single non-streaming completion and returns the
// generated text unmodified.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Completions.New(ctx, openai.CompletionNewParams{
		Model: openai.CompletionNewParamsModel(g.model),
		Prompt: openai.CompletionNewParamsPromptUnion{
			OfString: openai.String(prompt),
		},
	})
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", &rag.GenerationError{Message: "response contained no choices"}
	}
	return resp.Choices[0].Text, nil
}

// classify separates provider rejections from transport failures.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &rag.GenerationError{StatusCode: apiErr.StatusCode, Message: msg, Err: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", rag.ErrProviderUnavailable, err)
	}

	// Transport failures surface as *url.Error / *net.OpError; anything else
	// is a body the SDK could not decode.
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", rag.ErrProviderUnavailable, err)
	}
	return &rag.GenerationError{Message: err.Error(), Err: err}
}
