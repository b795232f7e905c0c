package domain

import "time"

// TaskState is the lifecycle state of an async task.
// Transitions: pending -> running -> succeeded | failed. Terminal states never change.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether the state ends the task lifecycle.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// AsyncTask is the queryable record of a submitted background task.
type AsyncTask struct {
	ID          string          `json:"task_id"`
	Kind        TaskKind        `json:"task"`
	State       TaskState       `json:"state"`
	Result      *ProcessOutcome `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
