package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/arcova/textrag/internal/domain"
)

type mockEmbedder struct {
	vec []float32
	err error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

func TestRetrieveSimilar_NonPositiveLimit(t *testing.T) {
	s := New(nil, "docs", &mockEmbedder{vec: []float32{0.1}}, 1, zap.NewNop())

	for _, limit := range []int{0, -1, -100} {
		_, err := s.RetrieveSimilar(context.Background(), "query", limit)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("limit=%d: expected ErrInvalidArgument, got %v", limit, err)
		}
	}
}

func TestStore_EmptyText(t *testing.T) {
	s := New(nil, "docs", &mockEmbedder{vec: []float32{0.1}}, 1, zap.NewNop())

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := s.Store(context.Background(), text, nil)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("text=%q: expected ErrInvalidArgument, got %v", text, err)
		}
	}
}

func TestStore_DimensionMismatch(t *testing.T) {
	// Embedder returns 2 dimensions, store expects 3.
	s := New(nil, "docs", &mockEmbedder{vec: []float32{0.1, 0.2}}, 3, zap.NewNop())

	_, err := s.Store(context.Background(), "some text", nil)
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestRetrieveSimilar_DimensionMismatch(t *testing.T) {
	s := New(nil, "docs", &mockEmbedder{vec: []float32{0.1, 0.2}}, 3, zap.NewNop())

	_, err := s.RetrieveSimilar(context.Background(), "query", 5)
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestStore_EmbedderError(t *testing.T) {
	s := New(nil, "docs", &mockEmbedder{err: domain.ErrEmbeddingProvider}, 1, zap.NewNop())

	_, err := s.Store(context.Background(), "some text", nil)
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected ErrEmbeddingProvider, got %v", err)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	doc := domain.Document{
		ID:       "11111111-2222-3333-4444-555555555555",
		Text:     "Paris is the capital of France.",
		Metadata: map[string]string{"source": "query", "task": "sentiment"},
		StoredAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}

	values := qdrant.NewValueMap(payloadFromDocument(doc))
	got := documentFromPayload(doc.ID, values)

	if got.Text != doc.Text {
		t.Errorf("text: got %q, want %q", got.Text, doc.Text)
	}
	if !got.StoredAt.Equal(doc.StoredAt) {
		t.Errorf("stored_at: got %v, want %v", got.StoredAt, doc.StoredAt)
	}
	if len(got.Metadata) != 2 || got.Metadata["source"] != "query" || got.Metadata["task"] != "sentiment" {
		t.Errorf("metadata: got %v", got.Metadata)
	}
}

func TestMapStoreErr(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "connection refused")
	if !errors.Is(mapStoreErr(unavailable), domain.ErrStorageUnavailable) {
		t.Error("Unavailable should map to ErrStorageUnavailable")
	}

	notFound := status.Error(codes.NotFound, "collection missing")
	if !errors.Is(mapStoreErr(notFound), domain.ErrSchemaMissing) {
		t.Error("NotFound should map to ErrSchemaMissing")
	}

	invalidCollection := status.Error(codes.InvalidArgument, "Collection `docs` doesn't exist")
	if !errors.Is(mapStoreErr(invalidCollection), domain.ErrSchemaMissing) {
		t.Error("missing collection should map to ErrSchemaMissing")
	}
}

func TestIsAlreadyExists(t *testing.T) {
	if !isAlreadyExists(status.Error(codes.AlreadyExists, "collection exists")) {
		t.Error("AlreadyExists code not detected")
	}
	if !isAlreadyExists(errors.New("Collection `docs` already exists!")) {
		t.Error("already exists message not detected")
	}
	if isAlreadyExists(errors.New("some other failure")) {
		t.Error("false positive")
	}
}
