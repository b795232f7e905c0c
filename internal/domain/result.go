package domain

import "time"

// Classification is the payload of a classification task.
type Classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Entity is a single extracted entity.
type Entity struct {
	Label string `json:"entity"`
	Text  string `json:"text"`
}

// Summarization is the payload of a summarization task.
type Summarization struct {
	Summary string `json:"summary"`
}

// Sentiment is the payload of a sentiment analysis task.
type Sentiment struct {
	Sentiment string  `json:"sentiment"`
	Score     float64 `json:"score"`
}

// TaskResult is the structured output of a task executor invocation.
// Exactly one payload field is set, matching Kind. Immutable once built.
type TaskResult struct {
	Kind           TaskKind        `json:"task"`
	Classification *Classification `json:"classification,omitempty"`
	Entities       []Entity        `json:"entities,omitempty"`
	Summarization  *Summarization  `json:"summarization,omitempty"`
	Sentiment      *Sentiment      `json:"sentiment,omitempty"`
	SourceText     string          `json:"source_text"`
	ProducedAt     time.Time       `json:"produced_at"`
}

// ProcessOutcome is what the RAG orchestrator returns: the task result plus
// the context snippets that were prepended to the input, for auditability.
type ProcessOutcome struct {
	Result  TaskResult `json:"result"`
	Context []string   `json:"context"`
}
