package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPHandlerOptions configures the HTTP transport behavior.
type HTTPHandlerOptions struct {
	// UserFor returns the authenticated user of a request. When set, each
	// request is served statelessly by a server scoped to that user, so one
	// caller can never reach another caller's documents through a shared
	// session. When nil the handler is stateful and unscoped.
	UserFor func(r *http.Request) string
}

// NewHTTPHandler creates an HTTP handler using the Streamable HTTP transport.
// Mount it behind the same authentication as the REST routes:
//
//	mux.Handle("/mcp", requireUser(mcpserver.NewHTTPHandler(cfg, opts)))
func NewHTTPHandler(cfg *Config, opts *HTTPHandlerOptions) http.Handler {
	if opts == nil || opts.UserFor == nil {
		shared := NewServer(cfg)
		return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return shared.MCPServer()
		}, nil)
	}

	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		userID := opts.UserFor(r)
		if userID == "" {
			return nil
		}
		return newServer(cfg, userID).MCPServer()
	}, &mcp.StreamableHTTPOptions{Stateless: true})
}
