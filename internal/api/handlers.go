package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bull/docqa/internal/auth"
	"github.com/bull/docqa/internal/ingest"
	"github.com/bull/docqa/internal/rag"
)

// multipartOverhead is allowed on top of the file limit for form framing.
const multipartOverhead = 1 << 20

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type askRequest struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
}

type documentSummary struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	UploadDate time.Time `json:"upload_date"`
	HasSummary bool      `json:"has_summary"`
}

type documentDetail struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadDate  time.Time `json:"upload_date"`
	Summary     string    `json:"summary"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", rag.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	tokens, err := s.cfg.Accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	id, err := s.cfg.Accounts.Signup(r.Context(), req)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User created successfully", "user_id": id})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	if err := s.cfg.Accounts.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: invalid multipart form: %v", rag.ErrInvalidInput, err)
		}
		writeError(w, s.logger, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, s.logger, r, fmt.Errorf("%w: form field \"file\" is required", rag.ErrInvalidInput))
		return
	}
	defer file.Close()

	if header.Size > limit {
		writeError(w, s.logger, r, &http.MaxBytesError{Limit: limit})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	doc, err := s.cfg.Documents.Upload(r.Context(), ingest.UploadRequest{
		UserID:      UserID(r),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":     "Document uploaded successfully",
		"document_id": doc.ID,
		"filename":    doc.OriginalFilename,
	})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.cfg.Documents.List(r.Context(), UserID(r))
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	out := make([]documentSummary, len(docs))
	for i, d := range docs {
		out[i] = documentSummary{
			ID:         d.ID,
			Filename:   d.OriginalFilename,
			UploadDate: d.UploadedAt,
			HasSummary: d.HasSummary,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.cfg.Documents.Get(r.Context(), UserID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentDetail{
		ID:          doc.ID,
		Filename:    doc.OriginalFilename,
		ContentType: doc.ContentType,
		Size:        doc.Size,
		UploadDate:  doc.UploadedAt,
		Summary:     doc.Summary,
	})
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Documents.Delete(r.Context(), UserID(r), r.PathValue("id")); err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}

// owned checks that the caller may read documentID before the pipeline runs.
func (s *Server) owned(r *http.Request, documentID string) error {
	_, err := s.cfg.Documents.Get(r.Context(), UserID(r), documentID)
	return err
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	if err := rag.ValidateQuestion(req.DocumentID, req.Text); err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	if err := s.owned(r, req.DocumentID); err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	answer, err := s.cfg.Pipeline.Answer(r.Context(), req.DocumentID, req.Text)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (s *Server) summarize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.owned(r, id); err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	summary, err := s.cfg.Pipeline.Summarize(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *Server) sections(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.owned(r, id); err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	res, err := s.cfg.Pipeline.Sections(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": res.Sections, "raw": res.Raw})
}
