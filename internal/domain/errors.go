package domain

import "errors"

var (
	// ErrInvalidArgument signals bad caller input (empty text, non-positive limits).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupportedTask signals an unrecognized task kind.
	ErrUnsupportedTask = errors.New("unsupported task kind")
	// ErrStorageUnavailable signals an unreachable backing store.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrSchemaMissing signals that the document collection has not been initialized.
	ErrSchemaMissing = errors.New("collection schema missing")
	// ErrModelUnavailable signals that the task executor model cannot be invoked.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrUnknownTask signals a status lookup for an unrecognized task id.
	ErrUnknownTask = errors.New("unknown task id")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrQueueFull signals that the async worker pool cannot accept more work.
	ErrQueueFull = errors.New("task queue full")
)
