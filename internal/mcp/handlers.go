package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docqa/internal/rag"
	"github.com/bull/docqa/internal/storage"
)

// tools implements the tool handlers. A non-empty userID restricts every tool
// to that user's documents.
type tools struct {
	pipeline  Answerer
	documents DocumentLookup
	userID    string
	logger    *slog.Logger
}

// visible resolves id and hides documents owned by someone other than the
// scoped user.
func (t *tools) visible(ctx context.Context, id string) (*storage.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: document_id is required", rag.ErrInvalidInput)
	}
	doc, err := t.documents.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.userID != "" && doc.UserID != t.userID {
		return nil, storage.ErrDocumentNotFound
	}
	return doc, nil
}

// toolError turns a pipeline failure into the message the model sees.
func (t *tools) toolError(tool string, err error) error {
	kind := rag.KindOf(err)
	if kind == rag.KindInternal || kind == rag.KindProviderUnavailable {
		t.logger.Error("Tool failed", "tool", tool, "kind", kind, "error", err)
	}
	return fmt.Errorf("%s: %w", kind, err)
}

func (t *tools) ask(ctx context.Context, req *mcp.CallToolRequest, input AskDocumentInput) (
	*mcp.CallToolResult, AskDocumentOutput, error,
) {
	if err := rag.ValidateQuestion(input.DocumentID, input.Question); err != nil {
		return nil, AskDocumentOutput{}, t.toolError("ask_document", err)
	}
	if _, err := t.visible(ctx, input.DocumentID); err != nil {
		return nil, AskDocumentOutput{}, t.toolError("ask_document", err)
	}

	answer, err := t.pipeline.Answer(ctx, input.DocumentID, input.Question)
	if err != nil {
		return nil, AskDocumentOutput{}, t.toolError("ask_document", err)
	}
	return nil, AskDocumentOutput{Answer: answer}, nil
}

func (t *tools) summarize(ctx context.Context, req *mcp.CallToolRequest, input DocumentInput) (
	*mcp.CallToolResult, SummarizeDocumentOutput, error,
) {
	if _, err := t.visible(ctx, input.DocumentID); err != nil {
		return nil, SummarizeDocumentOutput{}, t.toolError("summarize_document", err)
	}

	summary, err := t.pipeline.Summarize(ctx, input.DocumentID)
	if err != nil {
		return nil, SummarizeDocumentOutput{}, t.toolError("summarize_document", err)
	}
	return nil, SummarizeDocumentOutput{Summary: summary}, nil
}

func (t *tools) sections(ctx context.Context, req *mcp.CallToolRequest, input DocumentInput) (
	*mcp.CallToolResult, DocumentSectionsOutput, error,
) {
	if _, err := t.visible(ctx, input.DocumentID); err != nil {
		return nil, DocumentSectionsOutput{}, t.toolError("document_sections", err)
	}

	res, err := t.pipeline.Sections(ctx, input.DocumentID)
	if err != nil {
		return nil, DocumentSectionsOutput{}, t.toolError("document_sections", err)
	}

	out := DocumentSectionsOutput{Sections: make([]Section, len(res.Sections)), Raw: res.Raw}
	for i, s := range res.Sections {
		out.Sections[i] = Section{Title: s.Title, Summary: s.Summary}
	}
	return nil, out, nil
}

func (t *tools) get(ctx context.Context, req *mcp.CallToolRequest, input DocumentInput) (
	*mcp.CallToolResult, GetDocumentOutput, error,
) {
	doc, err := t.visible(ctx, input.DocumentID)
	if err != nil {
		if errors.Is(err, rag.ErrNotFound) {
			return nil, GetDocumentOutput{Found: false}, nil
		}
		return nil, GetDocumentOutput{}, t.toolError("get_document", err)
	}

	return nil, GetDocumentOutput{
		ID:         doc.ID,
		Filename:   doc.OriginalFilename,
		Summary:    doc.Summary,
		UploadedAt: doc.UploadedAt,
		Characters: len([]rune(doc.Text)),
		Found:      true,
	}, nil
}

func (t *tools) list(ctx context.Context, req *mcp.CallToolRequest, input ListDocumentsInput) (
	*mcp.CallToolResult, ListDocumentsOutput, error,
) {
	userID := t.userID
	if userID == "" {
		userID = strings.TrimSpace(input.UserID)
	}
	if userID == "" {
		return nil, ListDocumentsOutput{}, fmt.Errorf("%w: user_id is required", rag.ErrInvalidInput)
	}

	docs, err := t.documents.ListDocuments(ctx, userID)
	if err != nil {
		return nil, ListDocumentsOutput{}, t.toolError("list_documents", err)
	}

	entries := make([]DocumentEntry, len(docs))
	for i, d := range docs {
		entries[i] = DocumentEntry{
			ID:         d.ID,
			Filename:   d.OriginalFilename,
			UploadedAt: d.UploadedAt,
			HasSummary: d.HasSummary,
		}
	}
	return nil, ListDocumentsOutput{Documents: entries, Count: len(entries)}, nil
}
