// Package mcp exposes document question answering as Model Context Protocol
// tools.
package mcp

import "time"

// AskDocumentInput defines the input parameters for the ask_document tool.
type AskDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"the id of an uploaded document"`
	Question   string `json:"question" jsonschema:"the question to answer from the document"`
}

// AskDocumentOutput contains the generated answer.
type AskDocumentOutput struct {
	Answer string `json:"answer"`
}

// DocumentInput identifies a single document.
type DocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"the id of an uploaded document"`
}

// SummarizeDocumentOutput contains the stored summary.
type SummarizeDocumentOutput struct {
	Summary string `json:"summary"`
}

// Section is one outlined part of a document.
type Section struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// DocumentSectionsOutput contains the outline of a document. Sections is
// empty when the model did not answer with a JSON array; Raw always holds the
// model output.
type DocumentSectionsOutput struct {
	Sections []Section `json:"sections"`
	Raw      string    `json:"raw"`
}

// GetDocumentOutput describes a stored document.
type GetDocumentOutput struct {
	ID         string    `json:"id,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	UploadedAt time.Time `json:"uploaded_at,omitempty"`
	Characters int       `json:"characters,omitempty"`
	// Found indicates whether the document exists and is visible to the caller.
	Found bool `json:"found"`
}

// ListDocumentsInput selects whose documents to list. Over an authenticated
// transport the caller's own documents are listed and UserID is ignored.
type ListDocumentsInput struct {
	UserID string `json:"user_id,omitempty" jsonschema:"owner whose documents to list"`
}

// DocumentEntry is a single listed document.
type DocumentEntry struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
	HasSummary bool      `json:"has_summary"`
}

// ListDocumentsOutput contains the listed documents, newest first.
type ListDocumentsOutput struct {
	Documents []DocumentEntry `json:"documents"`
	Count     int             `json:"count"`
}
