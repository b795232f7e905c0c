// Package docstore persists (text, metadata, vector) triples in Qdrant and
// answers nearest-neighbor queries over them.
package docstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/arcova/textrag/internal/domain"
)

// Payload keys. Metadata entries are flattened under the meta. prefix so they
// never collide with the reserved keys.
const (
	payloadText     = "text"
	payloadStoredAt = "stored_at"
	metaPrefix      = "meta."
)

// Store is the Qdrant-backed document store.
type Store struct {
	client     *qdrant.Client
	collection string
	embedder   domain.Embedder
	dimensions int
	logger     *zap.Logger
}

// New creates a document store. dimensions is the embedder's output length;
// any stored or queried vector of a different length is rejected.
func New(client *qdrant.Client, collection string, embedder domain.Embedder, dimensions int, logger *zap.Logger) *Store {
	return &Store{
		client:     client,
		collection: collection,
		embedder:   embedder,
		dimensions: dimensions,
		logger:     logger,
	}
}

// EnsureCollection creates the collection if it does not exist. Idempotent:
// a concurrent creator winning the race is treated as success.
func (s *Store) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", mapStoreErr(err))
	}

	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("create collection %s: %w", s.collection, mapStoreErr(err))
	}

	s.logger.Info("Created document collection",
		zap.String("collection", s.collection),
		zap.Int("dimensions", s.dimensions),
	)
	return nil
}

// Store embeds text, persists the triple, and returns the created document.
func (s *Store) Store(ctx context.Context, text string, metadata map[string]string) (domain.Document, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Document{}, fmt.Errorf("document text is empty: %w", domain.ErrInvalidArgument)
	}

	vec, err := s.embedQuery(ctx, text)
	if err != nil {
		return domain.Document{}, err
	}

	doc := domain.Document{
		ID:       uuid.NewString(),
		Text:     text,
		Metadata: metadata,
		Vector:   vec,
		StoredAt: time.Now().UTC(),
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(payloadFromDocument(doc)),
		}},
	})
	if err != nil {
		return domain.Document{}, fmt.Errorf("upsert document: %w", mapStoreErr(err))
	}

	return doc, nil
}

// RetrieveSimilar embeds the query and returns up to limit documents ordered
// by similarity, descending. An empty collection yields an empty slice.
func (s *Store) RetrieveSimilar(ctx context.Context, query string, limit int) ([]domain.ScoredDocument, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d: %w", limit, domain.ErrInvalidArgument)
	}

	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query similar: %w", mapStoreErr(err))
	}

	docs := make([]domain.ScoredDocument, 0, len(points))
	for _, p := range points {
		docs = append(docs, domain.ScoredDocument{
			Document: documentFromPayload(p.GetId().GetUuid(), p.GetPayload()),
			Score:    p.GetScore(),
		})
	}
	return docs, nil
}

// Health checks Qdrant availability.
func (s *Store) Health(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

func (s *Store) embedQuery(ctx context.Context, text string) ([]float32, error) {
	result, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(result.Embedding) != s.dimensions {
		return nil, fmt.Errorf(
			"vector dimension mismatch: got %d, want %d: %w",
			len(result.Embedding), s.dimensions, domain.ErrVectorDimMismatch,
		)
	}
	return result.Embedding, nil
}

func payloadFromDocument(doc domain.Document) map[string]any {
	payload := map[string]any{
		payloadText:     doc.Text,
		payloadStoredAt: doc.StoredAt.Format(time.RFC3339Nano),
	}
	for k, v := range doc.Metadata {
		payload[metaPrefix+k] = v
	}
	return payload
}

func documentFromPayload(id string, payload map[string]*qdrant.Value) domain.Document {
	doc := domain.Document{ID: id}
	for k, v := range payload {
		switch {
		case k == payloadText:
			doc.Text = v.GetStringValue()
		case k == payloadStoredAt:
			if t, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
				doc.StoredAt = t
			}
		case strings.HasPrefix(k, metaPrefix):
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]string)
			}
			doc.Metadata[strings.TrimPrefix(k, metaPrefix)] = v.GetStringValue()
		}
	}
	return doc
}

// mapStoreErr translates gRPC transport failures into domain errors.
func mapStoreErr(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%v: %w", st.Message(), domain.ErrStorageUnavailable)
	case codes.NotFound:
		return fmt.Errorf("%v: %w", st.Message(), domain.ErrSchemaMissing)
	}
	// Qdrant reports a missing collection as InvalidArgument in some versions.
	if strings.Contains(st.Message(), "doesn't exist") {
		return fmt.Errorf("%v: %w", st.Message(), domain.ErrSchemaMissing)
	}
	return err
}

func isAlreadyExists(err error) bool {
	if st, ok := status.FromError(err); ok && st.Code() == codes.AlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
