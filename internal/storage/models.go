package storage

import "time"

// Document is an uploaded document's metadata and extracted text.
// Documents are stored as payload-only points; they carry no vector.
type Document struct {
	ID               string    // UUID
	UserID           string    // Owner (identity provider subject)
	Filename         string    // Object name in blob storage: "<uuid>.pdf"
	OriginalFilename string    // Name as uploaded
	ContentType      string    // MIME type of the original
	Size             int64     // Bytes of the original
	Text             string    // Extracted (or OCR'd) text
	Summary          string    // Generated summary, empty until requested
	UploadedAt       time.Time // When the document was uploaded
}

// DocumentInfo is the listing view of a document, without its text.
type DocumentInfo struct {
	ID               string
	OriginalFilename string
	UploadedAt       time.Time
	HasSummary       bool
}

// DefaultCollection is the Qdrant collection holding document points.
const DefaultCollection = "documents"

const pointType = "document"
