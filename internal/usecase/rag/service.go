// Package rag composes retrieval, reranking, and task execution into a single
// augmented-inference operation.
package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arcova/textrag/internal/domain"
	"github.com/arcova/textrag/internal/metrics"
)

// Service is the RAG orchestrator. Within one Process call the steps run in
// strict sequence: retrieve, rerank, infer, write back.
type Service struct {
	retriever Retriever
	writer    DocumentWriter
	reranker  Reranker
	executor  TaskExecutor

	retrieveLimit    int // N: documents fetched per query
	contextSize      int // K: reranked documents used as context
	writeBackTimeout time.Duration

	logger *zap.Logger
	wg     sync.WaitGroup
}

// New creates an orchestrator with the default fan-out (5) and context size (2).
func New(retriever Retriever, writer DocumentWriter, reranker Reranker, executor TaskExecutor, logger *zap.Logger) *Service {
	return &Service{
		retriever:        retriever,
		writer:           writer,
		reranker:         reranker,
		executor:         executor,
		retrieveLimit:    5,
		contextSize:      2,
		writeBackTimeout: 10 * time.Second,
		logger:           logger,
	}
}

// WithLimits configures the retrieval fan-out and context size.
func (s *Service) WithLimits(retrieveLimit, contextSize int) *Service {
	if retrieveLimit > 0 {
		s.retrieveLimit = retrieveLimit
	}
	if contextSize > 0 {
		s.contextSize = contextSize
	}
	return s
}

// Process runs the augmented-inference pipeline over text for the given task
// kind. The returned outcome carries the context snippets that were prepended
// to the input. The original text is written back to the document store in
// the background; write-back failures are logged and never propagate.
func (s *Service) Process(ctx context.Context, text string, kind domain.TaskKind) (domain.ProcessOutcome, error) {
	if !kind.Valid() {
		return domain.ProcessOutcome{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedTask, kind)
	}
	if strings.TrimSpace(text) == "" {
		return domain.ProcessOutcome{}, fmt.Errorf("text is empty: %w", domain.ErrInvalidArgument)
	}

	start := time.Now()

	retrieved, err := s.retriever.RetrieveSimilar(ctx, text, s.retrieveLimit)
	if err != nil {
		metrics.TasksProcessedTotal.WithLabelValues(string(kind), "error").Inc()
		return domain.ProcessOutcome{}, fmt.Errorf("retrieve context: %w", err)
	}

	reranked := s.reranker.Rerank(text, retrieved)
	if len(reranked) > s.contextSize {
		reranked = reranked[:s.contextSize]
	}
	snippets := domain.Snippets(reranked)

	// Context first, then the original text, single-space joined. With no
	// retrieved context the input passes through unmodified.
	augmented := text
	if len(snippets) > 0 {
		augmented = strings.Join(snippets, " ") + " " + text
	}

	result, err := s.executor.Execute(ctx, kind, augmented)
	if err != nil {
		metrics.TasksProcessedTotal.WithLabelValues(string(kind), "error").Inc()
		return domain.ProcessOutcome{}, fmt.Errorf("execute %s: %w", kind, err)
	}
	// The result reports what the caller sent, not the augmented input.
	result.SourceText = text

	s.wg.Add(1)
	go s.writeBack(text, kind)

	metrics.TasksProcessedTotal.WithLabelValues(string(kind), "success").Inc()
	metrics.TaskDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	return domain.ProcessOutcome{Result: result, Context: snippets}, nil
}

// writeBack persists the raw query so future requests can retrieve this
// interaction as context. Detached from the request context: an abandoned
// request must not cancel it.
func (s *Service) writeBack(text string, kind domain.TaskKind) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.writeBackTimeout)
	defer cancel()

	// Tagged so operators can tell query write-backs from ingested documents.
	_, err := s.writer.Store(ctx, text, map[string]string{
		"source": "query",
		"task":   string(kind),
	})
	if err != nil {
		s.logger.Warn("Document write-back failed", zap.String("task", string(kind)), zap.Error(err))
	}
}

// Close waits for in-flight write-backs to finish. Called on shutdown.
func (s *Service) Close() {
	s.wg.Wait()
}
