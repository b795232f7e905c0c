package domain

import "fmt"

// TaskKind identifies one of the supported text-processing tasks.
// The set is closed; dispatch over it is always an exhaustive switch.
type TaskKind string

const (
	TaskClassification   TaskKind = "classification"
	TaskEntityExtraction TaskKind = "entity_extraction"
	TaskSummarization    TaskKind = "summarization"
	TaskSentiment        TaskKind = "sentiment"
)

// Kinds returns all supported task kinds in a stable order.
func Kinds() []TaskKind {
	return []TaskKind{TaskClassification, TaskEntityExtraction, TaskSummarization, TaskSentiment}
}

// Valid reports whether k is one of the supported kinds.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskClassification, TaskEntityExtraction, TaskSummarization, TaskSentiment:
		return true
	}
	return false
}

// ParseTaskKind parses a wire-level task name. "ner" and "entities" are
// accepted as aliases for entity extraction (legacy wire values).
func ParseTaskKind(s string) (TaskKind, error) {
	switch s {
	case "classification", "classify":
		return TaskClassification, nil
	case "entity_extraction", "entities", "ner":
		return TaskEntityExtraction, nil
	case "summarization", "summarize":
		return TaskSummarization, nil
	case "sentiment":
		return TaskSentiment, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedTask, s)
}
