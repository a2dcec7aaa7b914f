// Package storage persists document metadata and extracted text in Qdrant.
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantStorage wraps the Qdrant client with connection management and health checks.
type QdrantStorage struct {
	client     *qdrant.Client
	host       string
	port       int
	collection string
	dimension  uint64
}

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
// dimension sizes the collection's vector slot and must match the embedder.
func NewQdrantStorage(host string, port int, collection string, dimension int) (*QdrantStorage, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dimension)
	}

	// Create Qdrant client using gRPC
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	storage := &QdrantStorage{
		client:     client,
		host:       host,
		port:       port,
		collection: collection,
		dimension:  uint64(dimension),
	}

	err = storage.healthCheckWithRetry(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return storage, nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return s.Health(ctx) }, backoff.WithContext(newBackOff(), ctx))
}

// Health performs a single health check against Qdrant.
// Returns nil if Qdrant is healthy, error otherwise.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}

	return nil
}

// EnsureCollection creates the documents collection and its payload indexes
// if they do not exist yet. Idempotent.
func (s *QdrantStorage) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	// Qdrant collections are declared with a vector schema; document points
	// leave the "content" slot empty.
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			"content": {
				Size:     s.dimension,
				Distance: qdrant.Distance_Dot,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := s.createPayloadIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}

	return nil
}

// createPayloadIndexes creates keyword indexes for the filtered fields.
func (s *QdrantStorage) createPayloadIndexes(ctx context.Context) error {
	for _, field := range []string{"type", "user_id"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// UpsertDocument stores a document. Upserts are retried with backoff.
func (s *QdrantStorage) UpsertDocument(ctx context.Context, doc *Document) error {
	if _, err := uuid.Parse(doc.ID); err != nil {
		return fmt.Errorf("document id must be a UUID: %w", err)
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(doc.ID),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{}),
		Payload: qdrant.NewValueMap(documentPayload(doc)),
	}

	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(newBackOff(), ctx)); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
// Returns ErrDocumentNotFound if the ID is unknown or not a UUID.
func (s *QdrantStorage) GetDocument(ctx context.Context, id string) (*Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrDocumentNotFound
	}

	result, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if len(result) == 0 {
		return nil, ErrDocumentNotFound
	}

	payload := result[0].Payload
	if typeVal, ok := payload["type"]; !ok || typeVal.GetStringValue() != pointType {
		return nil, ErrDocumentNotFound
	}

	return documentFromPayload(id, payload), nil
}

// GetText returns the extracted text of a document.
func (s *QdrantStorage) GetText(ctx context.Context, id string) (string, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

// SetSummary stores a generated summary on an existing document.
func (s *QdrantStorage) SetSummary(ctx context.Context, id, summary string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrDocumentNotFound
	}

	_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.collection,
		Payload:        qdrant.NewValueMap(map[string]any{"summary": summary}),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(id)),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("failed to set summary: %w", err)
	}
	return nil
}

// DeleteDocument removes a document point.
func (s *QdrantStorage) DeleteDocument(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrDocumentNotFound
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// listPageSize is the scroll page size used when listing documents.
const listPageSize uint32 = 100

// ListDocuments returns the documents owned by userID, newest first.
// Pages through matching points until Qdrant reports no next page.
func (s *QdrantStorage) ListDocuments(ctx context.Context, userID string) ([]DocumentInfo, error) {
	var docs []DocumentInfo
	var offset *qdrant.PointId

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("type", pointType),
			qdrant.NewMatch("user_id", userID),
		},
	}

	for {
		results, next, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(listPageSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("original_filename", "upload_date", "summary"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll documents: %w", err)
		}

		for _, result := range results {
			docs = append(docs, DocumentInfo{
				ID:               result.Id.GetUuid(),
				OriginalFilename: result.Payload["original_filename"].GetStringValue(),
				UploadedAt:       parseTime(result.Payload["upload_date"].GetStringValue()),
				HasSummary:       result.Payload["summary"].GetStringValue() != "",
			})
		}

		// The offset is the first point of the next page, not the last one read.
		if next == nil {
			break
		}
		offset = next
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
	return docs, nil
}

func documentPayload(doc *Document) map[string]any {
	return map[string]any{
		"type":              pointType,
		"user_id":           doc.UserID,
		"filename":          doc.Filename,
		"original_filename": doc.OriginalFilename,
		"content_type":      doc.ContentType,
		"size":              doc.Size,
		"text_content":      doc.Text,
		"summary":           doc.Summary,
		"upload_date":       doc.UploadedAt.UTC().Format(time.RFC3339Nano),
	}
}

func documentFromPayload(id string, payload map[string]*qdrant.Value) *Document {
	return &Document{
		ID:               id,
		UserID:           payload["user_id"].GetStringValue(),
		Filename:         payload["filename"].GetStringValue(),
		OriginalFilename: payload["original_filename"].GetStringValue(),
		ContentType:      payload["content_type"].GetStringValue(),
		Size:             payload["size"].GetIntegerValue(),
		Text:             payload["text_content"].GetStringValue(),
		Summary:          payload["summary"].GetStringValue(),
		UploadedAt:       parseTime(payload["upload_date"].GetStringValue()),
	}
}

// parseTime returns the zero time for unparseable values.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
