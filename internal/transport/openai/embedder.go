// Package openai adapts OpenAI-compatible APIs to the embedding and task
// executor ports.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/arcova/textrag/internal/domain"
	"github.com/arcova/textrag/internal/metrics"
)

// Embedder is an embedding provider using the OpenAI-compatible API.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	logger     *zap.Logger
}

// EmbedderConfig holds the embedding provider settings.
type EmbedderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *EmbedderConfig) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		logger:     cfg.Logger,
	}
}

// Dimensions returns the configured embedding dimensionality.
func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "error").Inc()
		return domain.EmbeddingResult{}, parseAPIError("embedding", err, domain.ErrEmbeddingProvider)
	}

	if len(resp.Data) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "error").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("empty embedding response: %w", domain.ErrEmbeddingProvider)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "success").Inc()

	return domain.EmbeddingResult{
		Embedding:    resp.Data[0].Embedding,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with the given sentinel for correct status mapping.
func parseAPIError(op string, err error, sentinel error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%s API error %d: %s: %w",
			op, reqErr.HTTPStatusCode, string(reqErr.Body), sentinel)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w",
			op, apiErr.HTTPStatusCode, apiErr.Message, sentinel)
	}

	return fmt.Errorf("%s request failed: %v: %w", op, err, sentinel)
}
