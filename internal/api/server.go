// Package api exposes the auth, document and RAG operations over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"github.com/bull/docqa/internal/auth"
	"github.com/bull/docqa/internal/ingest"
	"github.com/bull/docqa/internal/rag"
	"github.com/bull/docqa/internal/storage"
)

// DefaultMaxUploadBytes caps multipart uploads.
const DefaultMaxUploadBytes = 10 << 20

// Accounts manages identities.
type Accounts interface {
	Login(ctx context.Context, username, password string) (*auth.Tokens, error)
	Signup(ctx context.Context, req auth.SignupRequest) (string, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Documents is the per-user document service.
type Documents interface {
	Upload(ctx context.Context, req ingest.UploadRequest) (*storage.Document, error)
	List(ctx context.Context, userID string) ([]storage.DocumentInfo, error)
	Get(ctx context.Context, userID, id string) (*storage.Document, error)
	Delete(ctx context.Context, userID, id string) error
}

// Answerer runs the retrieval pipeline.
type Answerer interface {
	Answer(ctx context.Context, documentID, question string) (string, error)
	Summarize(ctx context.Context, documentID string) (string, error)
	Sections(ctx context.Context, documentID string) (*rag.SectionsResult, error)
}

// Config wires the handlers to their collaborators. Accounts and Verifier may
// both be nil to run without an identity provider; every request then acts as
// LocalUser.
type Config struct {
	Accounts       Accounts
	Verifier       auth.Verifier
	Limiter        *auth.Limiter
	Documents      Documents
	Pipeline       Answerer
	Health         HealthChecker
	MCP            http.Handler // mounted at /mcp behind authentication when non-nil
	MaxUploadBytes int64
	CORSOrigins    []string // defaults to any origin
	Logger         *slog.Logger
}

// LocalUser owns all documents when no identity provider is configured.
const LocalUser = "local"

// Server holds the HTTP handlers.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Handler returns the routed, rate-limited handler. CORS wraps everything so
// browser preflights are answered before rate limiting and authentication.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", NewHealthHandler(s.cfg.Health))

	if s.cfg.Accounts != nil {
		mux.HandleFunc("POST /auth/login", s.login)
		mux.HandleFunc("POST /auth/signup", s.signup)
		mux.HandleFunc("POST /auth/logout", s.logout)
	}

	mux.Handle("POST /documents/upload", s.authenticated(s.upload))
	mux.Handle("GET /documents", s.authenticated(s.listDocuments))
	mux.Handle("GET /documents/{id}", s.authenticated(s.getDocument))
	mux.Handle("DELETE /documents/{id}", s.authenticated(s.deleteDocument))

	mux.Handle("POST /rag/ask", s.authenticated(s.ask))
	mux.Handle("POST /rag/summarize/{id}", s.authenticated(s.summarize))
	mux.Handle("GET /rag/sections/{id}", s.authenticated(s.sections))

	if s.cfg.MCP != nil {
		mux.Handle("/mcp", s.authenticated(s.cfg.MCP.ServeHTTP))
	}

	mux.HandleFunc("/", welcome)

	var h http.Handler = mux
	if s.cfg.Limiter != nil {
		h = s.cfg.Limiter.Middleware(h)
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(h)
}

func (s *Server) authenticated(fn http.HandlerFunc) http.Handler {
	if s.cfg.Verifier == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithPrincipal(r.Context(), &auth.Principal{Subject: LocalUser, Username: LocalUser})
			fn(w, r.WithContext(ctx))
		})
	}
	return auth.RequireUser(s.cfg.Verifier, s.logger, fn)
}

// UserID returns the subject of an authenticated request, or "" outside the
// authenticated routes.
func UserID(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p.Subject
	}
	return ""
}
