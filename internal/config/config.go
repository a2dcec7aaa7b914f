// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file; the file wins over
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the listeners and logging.
type ServerConfig struct {
	Port           string `yaml:"port"`
	Mode           bool   `yaml:"server_mode"` // HTTP-only when true, MCP over stdio otherwise
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // "text" or "json"
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins"`
}

// QdrantConfig locates the document metadata store.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

// EmbeddingConfig configures the OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// GenerationConfig configures the completion model.
type GenerationConfig struct {
	OllamaURL string        `yaml:"ollama_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RAGConfig tunes retrieval.
type RAGConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	TopK      int `yaml:"top_k"`
}

// MinIOConfig locates the blob store for uploaded originals.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// KeycloakConfig locates the identity provider.
type KeycloakConfig struct {
	URL          string `yaml:"url"`
	Realm        string `yaml:"realm"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// RateLimitConfig controls per-client request limits.
type RateLimitConfig struct {
	RedisHost string        `yaml:"redis_host"`
	RedisPort int           `yaml:"redis_port"`
	Limit     int           `yaml:"limit"`
	Window    time.Duration `yaml:"window"`
}

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	RAG        RAGConfig        `yaml:"rag"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Keycloak   KeycloakConfig   `yaml:"keycloak"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	OCRCommand string           `yaml:"ocr_command"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			LogLevel:       "info",
			LogFormat:      "text",
			MaxUploadBytes: 10 << 20,
			CORSOrigins:    []string{"*"},
		},
		Qdrant: QdrantConfig{Host: "localhost", Port: 6334, Collection: "documents"},
		Embedding: EmbeddingConfig{
			BaseURL:   "http://localhost:11434/v1",
			Model:     "all-minilm",
			Dimension: 384,
			BatchSize: 256,
		},
		Generation: GenerationConfig{
			OllamaURL: "http://localhost:11434",
			Model:     "llama2",
			Timeout:   60 * time.Second,
		},
		RAG:       RAGConfig{ChunkSize: 1000, TopK: 3},
		MinIO:     MinIOConfig{Endpoint: "localhost:9000", Bucket: "documents"},
		RateLimit: RateLimitConfig{RedisPort: 6379, Limit: 100, Window: 60 * time.Second},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if path
// is non-empty), and the environment, then validates it. A missing file is an
// error when path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Mode = getEnvBool("SERVER_MODE", c.Server.Mode)
	c.Server.LogLevel = getEnv("LOG_LEVEL", c.Server.LogLevel)
	c.Server.LogFormat = getEnv("LOG_FORMAT", c.Server.LogFormat)
	c.Server.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(c.Server.MaxUploadBytes)))
	c.Server.CORSOrigins = getEnvList("CORS_ORIGINS", c.Server.CORSOrigins)

	c.Qdrant.Host = getEnv("QDRANT_HOST", c.Qdrant.Host)
	c.Qdrant.Port = getEnvInt("QDRANT_PORT", c.Qdrant.Port)
	c.Qdrant.Collection = getEnv("QDRANT_COLLECTION", c.Qdrant.Collection)

	c.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimension = getEnvInt("EMBEDDING_DIMENSION", c.Embedding.Dimension)
	c.Embedding.BatchSize = getEnvInt("EMBEDDING_BATCH_SIZE", c.Embedding.BatchSize)

	c.Generation.OllamaURL = getEnv("OLLAMA_URL", c.Generation.OllamaURL)
	c.Generation.Model = getEnv("GENERATION_MODEL", c.Generation.Model)
	c.Generation.Timeout = getEnvDuration("PROVIDER_TIMEOUT", c.Generation.Timeout)

	c.RAG.ChunkSize = getEnvInt("CHUNK_SIZE", c.RAG.ChunkSize)
	c.RAG.TopK = getEnvInt("TOP_K", c.RAG.TopK)

	c.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", c.MinIO.Endpoint)
	c.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", c.MinIO.AccessKey)
	c.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", c.MinIO.SecretKey)
	c.MinIO.Bucket = getEnv("MINIO_BUCKET", c.MinIO.Bucket)
	c.MinIO.Secure = getEnvBool("MINIO_SECURE", c.MinIO.Secure)

	c.Keycloak.URL = getEnv("KEYCLOAK_URL", c.Keycloak.URL)
	c.Keycloak.Realm = getEnv("KEYCLOAK_REALM", c.Keycloak.Realm)
	c.Keycloak.ClientID = getEnv("KEYCLOAK_CLIENT_ID", c.Keycloak.ClientID)
	c.Keycloak.ClientSecret = getEnv("KEYCLOAK_CLIENT_SECRET", c.Keycloak.ClientSecret)

	c.RateLimit.RedisHost = getEnv("REDIS_HOST", c.RateLimit.RedisHost)
	c.RateLimit.RedisPort = getEnvInt("REDIS_PORT", c.RateLimit.RedisPort)
	c.RateLimit.Limit = getEnvInt("RATE_LIMIT", c.RateLimit.Limit)
	c.RateLimit.Window = getEnvDuration("RATE_WINDOW", c.RateLimit.Window)

	c.OCRCommand = getEnv("OCR_COMMAND", c.OCRCommand)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.RAG.ChunkSize))
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, fmt.Errorf("TOP_K must be positive, got %d", c.RAG.TopK))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.Embedding.Dimension))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_BATCH_SIZE must be positive, got %d", c.Embedding.BatchSize))
	}
	if c.Generation.Timeout < 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_TIMEOUT must not be negative, got %s", c.Generation.Timeout))
	}
	for key, raw := range map[string]string{
		"EMBEDDING_BASE_URL": c.Embedding.BaseURL,
		"OLLAMA_URL":         c.Generation.OllamaURL,
	} {
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an http(s) URL, got %q", key, raw))
		}
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Server.MaxUploadBytes))
	}
	if _, err := ParseLevel(c.Server.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Server.LogFormat); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Server.LogFormat))
	}

	return errors.Join(errs...)
}

// AuthEnabled reports whether an identity provider is configured.
func (c *Config) AuthEnabled() bool {
	return c.Keycloak.URL != "" && c.Keycloak.Realm != ""
}

// RedisAddr returns host:port of the rate-limit store, or "" when unset.
func (c *Config) RedisAddr() string {
	if c.RateLimit.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.RateLimit.RedisHost, c.RateLimit.RedisPort)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger from the server settings.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.Server.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Server.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvList splits a comma-separated value, dropping blank entries.
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
