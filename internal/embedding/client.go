package embedding

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultBaseURL points at the OpenAI-compatible API of a local Ollama server.
const DefaultBaseURL = "http://localhost:11434/v1"

// Client wraps the OpenAI client for embedding generation against any
// OpenAI-compatible endpoint (OpenAI, Ollama, vLLM...).
type Client struct {
	client *openai.Client
}

// NewClient creates a client for baseURL. Local servers ignore the API key,
// so an empty key is replaced by a placeholder. The SDK's own retries are
// disabled; Embedder decides what is retried.
func NewClient(baseURL, apiKey string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("embedding base URL must be http(s), got %q", baseURL)
	}
	if apiKey == "" {
		apiKey = "ollama"
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimSuffix(baseURL, "/") + "/"),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	client := openai.NewClient(opts...)
	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client.
func (c *Client) Client() *openai.Client {
	return c.client
}
