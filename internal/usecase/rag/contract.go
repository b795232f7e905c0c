package rag

import (
	"context"

	"github.com/arcova/textrag/internal/domain"
)

// Retriever answers nearest-neighbor queries over stored documents.
type Retriever interface {
	RetrieveSimilar(ctx context.Context, query string, limit int) ([]domain.ScoredDocument, error)
}

// DocumentWriter persists query text for future retrieval (write-back).
type DocumentWriter interface {
	Store(ctx context.Context, text string, metadata map[string]string) (domain.Document, error)
}

// Reranker reorders retrieved documents by relevance to the query.
type Reranker interface {
	Rerank(query string, docs []domain.ScoredDocument) []domain.ScoredDocument
}

// TaskExecutor performs one text-processing task on a string.
type TaskExecutor interface {
	Execute(ctx context.Context, kind domain.TaskKind, text string) (domain.TaskResult, error)
}
