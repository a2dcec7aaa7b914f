package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docqa/internal/auth"
	"github.com/bull/docqa/internal/extract"
	"github.com/bull/docqa/internal/ingest"
	"github.com/bull/docqa/internal/rag"
	"github.com/bull/docqa/internal/storage"
)

type fakeDocuments struct {
	docs      map[string]*storage.Document
	uploadErr error
	uploaded  []ingest.UploadRequest
	lookups   int
}

func (f *fakeDocuments) Upload(ctx context.Context, req ingest.UploadRequest) (*storage.Document, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploaded = append(f.uploaded, req)
	doc := &storage.Document{ID: fmt.Sprintf("doc-%d", len(f.uploaded)), UserID: req.UserID, OriginalFilename: req.Filename}
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeDocuments) List(ctx context.Context, userID string) ([]storage.DocumentInfo, error) {
	var out []storage.DocumentInfo
	for _, d := range f.docs {
		if d.UserID == userID {
			out = append(out, storage.DocumentInfo{ID: d.ID, OriginalFilename: d.OriginalFilename, UploadedAt: d.UploadedAt, HasSummary: d.Summary != ""})
		}
	}
	return out, nil
}

func (f *fakeDocuments) Get(ctx context.Context, userID, id string) (*storage.Document, error) {
	f.lookups++
	d, ok := f.docs[id]
	if !ok || d.UserID != userID {
		return nil, storage.ErrDocumentNotFound
	}
	return d, nil
}

func (f *fakeDocuments) Delete(ctx context.Context, userID, id string) error {
	if _, err := f.Get(ctx, userID, id); err != nil {
		return err
	}
	delete(f.docs, id)
	return nil
}

type fakePipeline struct {
	answer   string
	err      error
	sections *rag.SectionsResult
	calls    int
}

func (f *fakePipeline) Answer(ctx context.Context, documentID, question string) (string, error) {
	f.calls++
	return f.answer, f.err
}

func (f *fakePipeline) Summarize(ctx context.Context, documentID string) (string, error) {
	f.calls++
	return "A short summary.", f.err
}

func (f *fakePipeline) Sections(ctx context.Context, documentID string) (*rag.SectionsResult, error) {
	f.calls++
	return f.sections, f.err
}

type fakeAccounts struct{}

func (fakeAccounts) Login(ctx context.Context, username, password string) (*auth.Tokens, error) {
	if err := auth.ValidateCredentials(username, password); err != nil {
		return nil, err
	}
	if password != "correct-horse" {
		return nil, auth.ErrInvalidCredentials
	}
	return &auth.Tokens{AccessToken: "a", RefreshToken: "r", TokenType: "bearer", ExpiresIn: 300}, nil
}

func (fakeAccounts) Signup(ctx context.Context, req auth.SignupRequest) (string, error) {
	if err := auth.ValidateSignup(req); err != nil {
		return "", err
	}
	return "user-1", nil
}

func (fakeAccounts) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return auth.ErrNoToken
	}
	return nil
}

type tokenVerifier map[string]string

func (v tokenVerifier) Verify(ctx context.Context, token string) (*auth.Principal, error) {
	sub, ok := v[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Principal{Subject: sub}, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) Health(ctx context.Context) error { return f.err }

type testEnv struct {
	handler  http.Handler
	docs     *fakeDocuments
	pipeline *fakePipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	docs := &fakeDocuments{docs: map[string]*storage.Document{
		"alice-doc": {ID: "alice-doc", UserID: "alice", OriginalFilename: "lease.pdf", Summary: "old", UploadedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		"bob-doc":   {ID: "bob-doc", UserID: "bob", OriginalFilename: "will.txt"},
	}}
	pipeline := &fakePipeline{answer: "The rent is due monthly."}

	srv := NewServer(Config{
		Accounts:       fakeAccounts{},
		Verifier:       tokenVerifier{"alice-token": "alice"},
		Documents:      docs,
		Pipeline:       pipeline,
		Health:         fakeHealth{},
		MaxUploadBytes: 64,
	})
	return &testEnv{handler: srv.Handler(), docs: docs, pipeline: pipeline}
}

func (e *testEnv) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer alice-token")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Detail
}

func TestWelcomeAndHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Welcome to the document Q&A API"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Qdrant)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/nope", "", false).Code)
}

func TestHealth_Unhealthy(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(fakeHealth{err: errors.New("down")})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"disconnected"`)
}

func TestAuthRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"correct-horse"}`, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token_type":"bearer"`)

	rec = env.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"wrong-password"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", detail(t, rec))

	rec = env.do(http.MethodPost, "/auth/login", `{"username":"al","password":"correct-horse"}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Username must be at least 3 characters long", detail(t, rec))

	rec = env.do(http.MethodPost, "/auth/signup", `{"username":"carol","email":"carol@example.com","password":"battery-staple"}`, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":"user-1"`)

	rec = env.do(http.MethodPost, "/auth/logout", `{"refresh_token":"r"}`, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/auth/logout", `{}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/auth/login", `not json`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocuments_RequireToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/documents", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "No token provided", detail(t, rec))
}

func TestDocuments_ListGetDelete(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/documents", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []documentSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "alice-doc", list[0].ID)
	assert.True(t, list[0].HasSummary)

	rec = env.do(http.MethodGet, "/documents/alice-doc", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"summary":"old"`)

	rec = env.do(http.MethodGet, "/documents/bob-doc", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Document not found", detail(t, rec))

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/documents/bob-doc", "", true).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/documents/alice-doc", "", true).Code)
	assert.NotContains(t, env.docs.docs, "alice-doc")
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t)

	body, ctype := multipartBody(t, "notes.txt", []byte("rent is due"))
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Authorization", "Bearer alice-token")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"document_id":"doc-1"`)
	require.Len(t, env.docs.uploaded, 1)
	assert.Equal(t, "alice", env.docs.uploaded[0].UserID)
	assert.Equal(t, []byte("rent is due"), env.docs.uploaded[0].Data)
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name      string
		content   []byte
		uploadErr error
		status    int
	}{
		{"too large", bytes.Repeat([]byte("x"), 100), nil, http.StatusRequestEntityTooLarge},
		{"unsupported", []byte("x"), fmt.Errorf("extract: %w", extract.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		{"no text", []byte("x"), fmt.Errorf("extract: %w", extract.ErrNoText), http.StatusUnprocessableEntity},
		{"storage down", []byte("x"), errors.New("qdrant down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.docs.uploadErr = tt.uploadErr

			body, ctype := multipartBody(t, "doc.txt", tt.content)
			req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
			req.Header.Set("Content-Type", ctype)
			req.Header.Set("Authorization", "Bearer alice-token")
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestUpload_MissingFile(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", strings.NewReader("plain"))
	req.Header.Set("Authorization", "Bearer alice-token")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRAGRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.sections = &rag.SectionsResult{
		Raw:      `[{"title":"Rent","summary":"Monthly"}]`,
		Sections: []rag.Section{{Title: "Rent", Summary: "Monthly"}},
	}

	rec := env.do(http.MethodPost, "/rag/ask", `{"document_id":"alice-doc","text":"When is rent due?"}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":"The rent is due monthly."}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/rag/summarize/alice-doc", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":"A short summary."}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/rag/sections/alice-doc", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Rent"`)
}

func TestRAGRoutes_ForeignDocumentNeverReachesPipeline(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/rag/ask", `{"document_id":"bob-doc","text":"?"}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodPost, "/rag/summarize/bob-doc", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Zero(t, env.pipeline.calls)
}

func TestAsk_BlankQuestionRejectedBeforeLookup(t *testing.T) {
	for _, body := range []string{
		`{"document_id":"missing","text":""}`,
		`{"document_id":"alice-doc","text":"   "}`,
		`{"document_id":"","text":"When is rent due?"}`,
	} {
		env := newTestEnv(t)

		rec := env.do(http.MethodPost, "/rag/ask", body, true)

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, detail(t, rec), "invalid input", body)
		assert.Zero(t, env.docs.lookups, "document store consulted for %s", body)
		assert.Zero(t, env.pipeline.calls)
	}
}

func TestRAGRoutes_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"invalid", fmt.Errorf("%w: question is required", rag.ErrInvalidInput), http.StatusBadRequest, "invalid input: question is required"},
		{"unavailable", fmt.Errorf("%w: connection refused", rag.ErrProviderUnavailable), http.StatusServiceUnavailable, "Upstream provider unavailable"},
		{"generation", &rag.GenerationError{StatusCode: 500, Message: "model not found"}, http.StatusBadGateway, "Generation failed: model not found"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.pipeline.err = tt.err

			rec := env.do(http.MethodPost, "/rag/ask", `{"document_id":"alice-doc","text":"q"}`, true)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.detail, detail(t, rec))
		})
	}
}

func TestWithoutIdentityProvider(t *testing.T) {
	docs := &fakeDocuments{docs: map[string]*storage.Document{
		"d": {ID: "d", UserID: LocalUser, OriginalFilename: "a.txt"},
	}}
	h := NewServer(Config{Documents: docs, Pipeline: &fakePipeline{}, Health: fakeHealth{}}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/d", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimited(t *testing.T) {
	srv := NewServer(Config{
		Limiter:   auth.NewLimiter(nil, 1, time.Minute, nil),
		Documents: &fakeDocuments{docs: map[string]*storage.Document{}},
		Pipeline:  &fakePipeline{},
		Health:    fakeHealth{},
	})
	h := srv.Handler()

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, want, rec.Code, "request %d", i+1)
	}
}

func preflight(path, origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, path, nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	return req
}

func TestCORS_PreflightBypassesLimiterAndAuth(t *testing.T) {
	srv := NewServer(Config{
		Limiter:   auth.NewLimiter(nil, 1, time.Minute, nil),
		Verifier:  tokenVerifier{},
		Documents: &fakeDocuments{docs: map[string]*storage.Document{}},
		Pipeline:  &fakePipeline{},
		Health:    fakeHealth{},
	})
	h := srv.Handler()

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, preflight("/rag/ask", "http://localhost:3000"))

		assert.Equal(t, http.StatusNoContent, rec.Code, "preflight %d", i+1)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
		assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "authorization")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "preflights must not count against the limit")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ConfiguredOrigins(t *testing.T) {
	srv := NewServer(Config{
		Documents:   &fakeDocuments{docs: map[string]*storage.Document{}},
		Pipeline:    &fakePipeline{},
		Health:      fakeHealth{},
		CORSOrigins: []string{"https://app.example.com"},
	})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflight("/documents/upload", "https://app.example.com"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, preflight("/documents/upload", "https://evil.example.com"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
