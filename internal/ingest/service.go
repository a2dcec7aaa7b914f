// Package ingest accepts uploaded documents and manages their lifecycle:
// text extraction, blob storage of the original, and document metadata.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docqa/internal/extract"
	"github.com/bull/docqa/internal/storage"
)

var (
	ErrMissingUser = errors.New("user id is required")
	ErrEmptyFile   = errors.New("uploaded file is empty")
)

// MetadataStore persists document metadata and extracted text.
type MetadataStore interface {
	UpsertDocument(ctx context.Context, doc *storage.Document) error
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, userID string) ([]storage.DocumentInfo, error)
}

// BlobStore holds the original uploaded files.
type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, name string) error
}

// TextExtractor turns a file into text.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) (*extract.Result, error)
}

// UploadRequest is a single file submitted by a user.
type UploadRequest struct {
	UserID      string
	Filename    string
	ContentType string // optional; derived from the extension when empty
	Data        []byte
}

// Service orchestrates document ingestion and lookup.
type Service struct {
	metadata  MetadataStore
	blobs     BlobStore
	extractor TextExtractor
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a Service with the given collaborators.
func NewService(metadata MetadataStore, blobs BlobStore, extractor TextExtractor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		metadata:  metadata,
		blobs:     blobs,
		extractor: extractor,
		logger:    logger,
		now:       time.Now,
	}
}

// Upload extracts the text of a file, stores the original and records the
// document. Extraction runs first so unsupported or unreadable files never
// reach storage.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*storage.Document, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrMissingUser
	}
	name := filepath.Base(req.Filename)
	if !extract.Supported(name) {
		return nil, fmt.Errorf("%w: %q", extract.ErrUnsupportedFormat, name)
	}
	if len(req.Data) == 0 {
		return nil, ErrEmptyFile
	}

	result, err := s.extractor.Extract(ctx, name, req.Data)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", name, err)
	}

	id := uuid.New().String()
	ext := strings.ToLower(filepath.Ext(name))
	doc := &storage.Document{
		ID:               id,
		UserID:           req.UserID,
		Filename:         id + ext,
		OriginalFilename: name,
		ContentType:      contentType(req.ContentType, ext),
		Size:             int64(len(req.Data)),
		Text:             result.Text,
		UploadedAt:       s.now().UTC(),
	}

	if err := s.blobs.Put(ctx, doc.Filename, bytes.NewReader(req.Data), doc.Size, doc.ContentType); err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}

	if err := s.metadata.UpsertDocument(ctx, doc); err != nil {
		if rmErr := s.blobs.Remove(ctx, doc.Filename); rmErr != nil {
			s.logger.Warn("Failed to remove orphaned object", "object", doc.Filename, "error", rmErr)
		}
		return nil, fmt.Errorf("store metadata: %w", err)
	}

	s.logger.Info("Document uploaded",
		"id", doc.ID,
		"user", doc.UserID,
		"filename", doc.OriginalFilename,
		"method", result.Method,
		"chars", len(doc.Text),
	)
	return doc, nil
}

// IngestFile uploads a file from the local filesystem on behalf of userID.
func (s *Service) IngestFile(ctx context.Context, userID, path string) (*storage.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s.Upload(ctx, UploadRequest{UserID: userID, Filename: path, Data: data})
}

// List returns the user's documents, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]storage.DocumentInfo, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUser
	}
	return s.metadata.ListDocuments(ctx, userID)
}

// Get returns a document owned by userID. Documents owned by someone else are
// reported as not found.
func (s *Service) Get(ctx context.Context, userID, id string) (*storage.Document, error) {
	doc, err := s.metadata.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, storage.ErrDocumentNotFound
	}
	return doc, nil
}

// Delete removes a document owned by userID together with its original.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.metadata.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	if err := s.blobs.Remove(ctx, doc.Filename); err != nil {
		s.logger.Warn("Failed to remove stored object", "id", doc.ID, "object", doc.Filename, "error", err)
	}
	s.logger.Info("Document deleted", "id", doc.ID, "user", userID)
	return nil
}

func contentType(given, ext string) string {
	if given != "" && given != "application/octet-stream" {
		return given
	}
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
