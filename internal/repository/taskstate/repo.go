// Package taskstate persists async task records in Redis so any instance can
// answer status polls. Records expire after the configured retention.
package taskstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arcova/textrag/internal/db"
	"github.com/arcova/textrag/internal/domain"
)

const keyPrefix = "textrag:task:"

// store is the consumer interface for task state.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Repo stores async task snapshots.
type Repo struct {
	store     store
	retention time.Duration
}

// New creates a task state repository. retention bounds how long terminal
// records stay pollable.
func New(s store, retention time.Duration) *Repo {
	return &Repo{store: s, retention: retention}
}

// Put writes the task snapshot, overwriting any previous state.
func (r *Repo) Put(ctx context.Context, task domain.AsyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	if err := r.store.SetWithTTL(ctx, keyPrefix+task.ID, data, r.retention); err != nil {
		return fmt.Errorf("write task %s: %w", task.ID, err)
	}
	return nil
}

// Get returns the task snapshot for id. Missing or reclaimed ids fail with
// ErrUnknownTask.
func (r *Repo) Get(ctx context.Context, id string) (domain.AsyncTask, error) {
	data, err := r.store.Get(ctx, keyPrefix+id)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.AsyncTask{}, fmt.Errorf("%w: %s", domain.ErrUnknownTask, id)
		}
		return domain.AsyncTask{}, fmt.Errorf("read task %s: %w", id, err)
	}

	var task domain.AsyncTask
	if err := json.Unmarshal(data, &task); err != nil {
		return domain.AsyncTask{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return task, nil
}
