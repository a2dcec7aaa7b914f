// Package app wires the service components from configuration. Both the HTTP
// server and the operator CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/bull/docqa/internal/auth"
	"github.com/bull/docqa/internal/config"
	"github.com/bull/docqa/internal/embedding"
	"github.com/bull/docqa/internal/extract"
	"github.com/bull/docqa/internal/generation"
	"github.com/bull/docqa/internal/ingest"
	"github.com/bull/docqa/internal/objectstore"
	"github.com/bull/docqa/internal/rag"
	"github.com/bull/docqa/internal/storage"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *storage.QdrantStorage
	Blobs     *objectstore.Store
	Pipeline  *rag.Pipeline
	Documents *ingest.Service
	Keycloak  *auth.Keycloak // nil without an identity provider
	Limiter   *auth.Limiter

	redis *redis.Client
}

// New connects to the metadata store, ensures its collection exists and wires
// every other component. Blob storage, the identity provider and Redis are
// contacted lazily.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	store, err := storage.NewQdrantStorage(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection, cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant at %s:%d: %w", cfg.Qdrant.Host, cfg.Qdrant.Port, err)
	}
	a.Store = store
	if err := store.EnsureCollection(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	// Both providers share a client whose timeout matches the pipeline's
	// per-call bound.
	httpClient := &http.Client{Timeout: cfg.Generation.Timeout}

	embedClient, err := embedding.NewClient(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, httpClient)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(embedClient, embedding.Config{
		Model:          cfg.Embedding.Model,
		Dimension:      cfg.Embedding.Dimension,
		BatchSize:      cfg.Embedding.BatchSize,
		RateLimitRetry: embedding.DefaultRateLimitRetry,
	})

	generator, err := generation.NewGenerator(cfg.Generation.OllamaURL, cfg.Generation.Model, httpClient)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("generation client: %w", err)
	}

	a.Pipeline, err = rag.NewPipeline(store, embedder, generator,
		rag.WithChunkSize(cfg.RAG.ChunkSize),
		rag.WithTopK(cfg.RAG.TopK),
		rag.WithCallTimeout(cfg.Generation.Timeout),
		rag.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Blobs, err = objectstore.New(objectstore.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		Secure:    cfg.MinIO.Secure,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}

	var ocr extract.Recognizer
	if c := extract.NewCommandOCR(cfg.OCRCommand); c != nil {
		ocr = c
	}
	a.Documents = ingest.NewService(store, a.Blobs, extract.NewExtractor(ocr, logger), logger)

	if cfg.AuthEnabled() {
		a.Keycloak, err = auth.NewKeycloak(auth.KeycloakConfig{
			URL:          cfg.Keycloak.URL,
			Realm:        cfg.Keycloak.Realm,
			ClientID:     cfg.Keycloak.ClientID,
			ClientSecret: cfg.Keycloak.ClientSecret,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if addr := cfg.RedisAddr(); addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: addr})
		a.Limiter = auth.NewLimiter(a.redis, cfg.RateLimit.Limit, cfg.RateLimit.Window, logger)
	} else {
		a.Limiter = auth.NewLimiter(nil, cfg.RateLimit.Limit, cfg.RateLimit.Window, logger)
	}

	return a, nil
}

// Close releases the connections held by the App.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
