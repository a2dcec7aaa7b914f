package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bull/docqa/internal/auth"
	"github.com/bull/docqa/internal/extract"
	"github.com/bull/docqa/internal/ingest"
	"github.com/bull/docqa/internal/rag"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Detail string `json:"detail"`
}

// statusFor maps an error to its HTTP status and client-facing detail. It is
// the only place that decides how failures surface over HTTP.
func statusFor(err error) (int, string) {
	var (
		verr     *auth.ValidationError
		tooLarge *http.MaxBytesError
		genErr   *rag.GenerationError
	)

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid token"
	case errors.Is(err, ingest.ErrMissingUser):
		return http.StatusUnauthorized, "Not authenticated"
	case errors.Is(err, auth.ErrNoToken),
		errors.Is(err, auth.ErrSignupFailed),
		errors.Is(err, auth.ErrLogoutFailed),
		errors.Is(err, ingest.ErrEmptyFile):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "File too large"
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, extract.ErrNoText):
		return http.StatusUnprocessableEntity, "No text could be extracted from the document"
	}

	switch rag.KindOf(err) {
	case rag.KindInvalidInput:
		return http.StatusBadRequest, err.Error()
	case rag.KindNotFound:
		return http.StatusNotFound, "Document not found"
	case rag.KindProviderUnavailable:
		return http.StatusServiceUnavailable, "Upstream provider unavailable"
	case rag.KindGeneration:
		if errors.As(err, &genErr) && genErr.Message != "" {
			return http.StatusBadGateway, "Generation failed: " + genErr.Message
		}
		return http.StatusBadGateway, "Generation failed"
	}
	return http.StatusInternalServerError, "Internal server error"
}

func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status, detail := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		logger.Info("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
