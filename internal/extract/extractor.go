// Package extract turns uploaded files into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrNoText            = errors.New("no text could be extracted")
)

// Method records how a document's text was obtained.
type Method string

const (
	MethodPDF      Method = "pdf"
	MethodMarkdown Method = "markdown"
	MethodText     Method = "text"
	MethodOCR      Method = "ocr"
)

// Result is the outcome of an extraction.
type Result struct {
	Text   string
	Method Method
}

// Recognizer performs OCR on a file's raw bytes.
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, filename string) (string, error)
}

// SupportedExtensions lists the file extensions Extract accepts.
var SupportedExtensions = []string{".pdf", ".md", ".markdown", ".txt"}

// Supported reports whether filename has a supported extension.
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Extractor dispatches on file extension and falls back to OCR when a file
// yields no text.
type Extractor struct {
	ocr    Recognizer
	logger *slog.Logger
}

// NewExtractor creates an Extractor. ocr may be nil to disable the fallback.
func NewExtractor(ocr Recognizer, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{ocr: ocr, logger: logger}
}

// Extract returns the text of the file called filename with content data.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (*Result, error) {
	var (
		text   string
		method Method
		err    error
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		text, err = PDFText(data)
		method = MethodPDF
	case ".md", ".markdown":
		text, err = MarkdownText(data)
		method = MethodMarkdown
	case ".txt":
		text, method = string(data), MethodText
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
	if err != nil {
		// A file the parser chokes on is often a scan; let OCR have a go.
		e.logger.Warn("Text extraction failed", "filename", filename, "method", method, "error", err)
		text = ""
	}

	if strings.TrimSpace(text) == "" && e.ocr != nil {
		e.logger.Info("No embedded text, running OCR", "filename", filename)
		ocrText, ocrErr := e.ocr.Recognize(ctx, data, filename)
		if ocrErr != nil {
			return nil, fmt.Errorf("ocr: %w", ocrErr)
		}
		text, method = ocrText, MethodOCR
	}

	if strings.TrimSpace(text) == "" {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoText, err)
		}
		return nil, ErrNoText
	}

	return &Result{Text: text, Method: method}, nil
}
