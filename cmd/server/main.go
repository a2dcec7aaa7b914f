// Package main runs the document Q&A HTTP API and MCP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/docqa/internal/api"
	"github.com/bull/docqa/internal/app"
	"github.com/bull/docqa/internal/config"
	mcpserver "github.com/bull/docqa/internal/mcp"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("DOCQA_CONFIG"))
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err = run(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

// newApp is replaced in tests.
var newApp = app.New

// run serves until ctx is cancelled or a listener fails. Connections opened
// here are closed before it returns.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close connections", "error", err)
		}
	}()

	if err := a.Blobs.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", cfg.MinIO.Bucket, err)
	}

	mcpCfg := &mcpserver.Config{
		Pipeline:  a.Pipeline,
		Documents: a.Store,
		Logger:    logger,
	}

	apiCfg := api.Config{
		Limiter:        a.Limiter,
		Documents:      a.Documents,
		Pipeline:       a.Pipeline,
		Health:         a.Store,
		MCP:            mcpserver.NewHTTPHandler(mcpCfg, &mcpserver.HTTPHandlerOptions{UserFor: api.UserID}),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		CORSOrigins:    cfg.Server.CORSOrigins,
		Logger:         logger,
	}
	if a.Keycloak != nil {
		apiCfg.Accounts = a.Keycloak
		apiCfg.Verifier = a.Keycloak
	} else {
		logger.Warn("No identity provider configured, all requests act as the local user", "user", api.LocalUser)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           api.NewServer(apiCfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if cfg.Server.Mode {
		// HTTP mode: REST API plus MCP at /mcp for remote clients
		logger.Info("Starting HTTP server", "addr", srv.Addr, "mcp", "/mcp", "health", "/health")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	// Stdio mode: MCP over stdin/stdout for a local client, with the HTTP
	// API in the background.
	go func() {
		logger.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	logger.Info("Starting MCP server (stdio mode)")
	if err := mcpserver.NewServer(mcpCfg).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
