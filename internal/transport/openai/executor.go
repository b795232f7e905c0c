package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/arcova/textrag/internal/domain"
)

// Executor runs text-processing tasks against an OpenAI-compatible chat
// completion API. Each task kind maps to an instruction that demands a strict
// JSON object, parsed into the kind's payload.
type Executor struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// ExecutorConfig holds the task executor settings.
type ExecutorConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *zap.Logger
}

// NewExecutor creates a chat-completion-backed task executor.
func NewExecutor(cfg *ExecutorConfig) *Executor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Executor{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

// Execute runs the given task kind over text and returns the structured result.
func (e *Executor) Execute(ctx context.Context, kind domain.TaskKind, text string) (domain.TaskResult, error) {
	prompt, err := taskInstruction(kind)
	if err != nil {
		return domain.TaskResult{}, err
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return domain.TaskResult{}, parseAPIError("inference", err, domain.ErrModelUnavailable)
	}
	if len(resp.Choices) == 0 {
		return domain.TaskResult{}, fmt.Errorf("empty completion response: %w", domain.ErrModelUnavailable)
	}

	result, err := parseTaskResult(kind, resp.Choices[0].Message.Content)
	if err != nil {
		e.logger.Warn("Malformed model output",
			zap.String("task", string(kind)),
			zap.Error(err),
		)
		return domain.TaskResult{}, err
	}

	result.SourceText = text
	result.ProducedAt = time.Now().UTC()
	return result, nil
}

// HealthCheck verifies API availability via ListModels.
func (e *Executor) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// taskInstruction returns the system prompt for a task kind.
func taskInstruction(kind domain.TaskKind) (string, error) {
	switch kind {
	case domain.TaskClassification:
		return `Classify the user text into a single topical label. ` +
			`Respond with a JSON object: {"label": string, "score": number between 0 and 1}.`, nil
	case domain.TaskEntityExtraction:
		return `Extract named entities from the user text. ` +
			`Respond with a JSON object: {"entities": [{"entity": string, "text": string}]}. ` +
			`Use entity types like PER, ORG, LOC, MISC.`, nil
	case domain.TaskSummarization:
		return `Summarize the user text in at most three sentences. ` +
			`Respond with a JSON object: {"summary": string}.`, nil
	case domain.TaskSentiment:
		return `Analyze the sentiment of the user text. ` +
			`Respond with a JSON object: {"sentiment": "POSITIVE"|"NEGATIVE"|"NEUTRAL", "score": number between 0 and 1}.`, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedTask, kind)
}

// parseTaskResult decodes the model's JSON output into the kind's payload.
// Malformed output counts as a model failure.
func parseTaskResult(kind domain.TaskKind, content string) (domain.TaskResult, error) {
	fail := func(err error) (domain.TaskResult, error) {
		return domain.TaskResult{}, fmt.Errorf("decode %s output: %v: %w", kind, err, domain.ErrModelUnavailable)
	}

	result := domain.TaskResult{Kind: kind}
	switch kind {
	case domain.TaskClassification:
		var p domain.Classification
		if err := json.Unmarshal([]byte(content), &p); err != nil {
			return fail(err)
		}
		result.Classification = &p
	case domain.TaskEntityExtraction:
		var p struct {
			Entities []domain.Entity `json:"entities"`
		}
		if err := json.Unmarshal([]byte(content), &p); err != nil {
			return fail(err)
		}
		if p.Entities == nil {
			p.Entities = []domain.Entity{}
		}
		result.Entities = p.Entities
	case domain.TaskSummarization:
		var p domain.Summarization
		if err := json.Unmarshal([]byte(content), &p); err != nil {
			return fail(err)
		}
		result.Summarization = &p
	case domain.TaskSentiment:
		var p domain.Sentiment
		if err := json.Unmarshal([]byte(content), &p); err != nil {
			return fail(err)
		}
		result.Sentiment = &p
	default:
		return domain.TaskResult{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedTask, kind)
	}
	return result, nil
}
