package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docqa/internal/rag"
	"github.com/bull/docqa/internal/storage"
)

// Answerer runs the retrieval pipeline.
type Answerer interface {
	Answer(ctx context.Context, documentID, question string) (string, error)
	Summarize(ctx context.Context, documentID string) (string, error)
	Sections(ctx context.Context, documentID string) (*rag.SectionsResult, error)
}

// DocumentLookup reads document metadata.
type DocumentLookup interface {
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]storage.DocumentInfo, error)
}

// Config holds server dependencies.
type Config struct {
	Pipeline  Answerer
	Documents DocumentLookup
	Logger    *slog.Logger
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
	tools  *tools
}

// NewServer creates an MCP server with every tool registered. The server acts
// as the operator: it can read any document.
func NewServer(cfg *Config) *Server {
	return newServer(cfg, "")
}

// newServer scopes the tools to userID when it is non-empty.
func newServer(cfg *Config, userID string) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	impl := &mcp.Implementation{
		Name:    "docqa",
		Version: "v0.1.0",
	}
	server := mcp.NewServer(impl, nil)

	t := &tools{
		pipeline:  cfg.Pipeline,
		documents: cfg.Documents,
		userID:    userID,
		logger:    logger,
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_document",
		Description: "Answer a question using only the content of one uploaded document. The most relevant passages are selected by embedding similarity and passed to the language model.",
	}, t.ask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "summarize_document",
		Description: "Generate a concise summary of an uploaded document and store it with the document.",
	}, t.summarize)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "document_sections",
		Description: "Outline the main sections of an uploaded document, each with a short summary.",
	}, t.sections)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_document",
		Description: "Retrieve an uploaded document's metadata and stored summary by id.",
	}, t.get)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List uploaded documents, newest first.",
	}, t.list)

	return &Server{server: server, tools: t}
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
