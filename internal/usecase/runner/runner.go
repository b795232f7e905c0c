// Package runner executes submitted tasks on a bounded worker pool and keeps
// their state pollable through the task state repository.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/arcova/textrag/internal/domain"
	"github.com/arcova/textrag/internal/metrics"
)

// Orchestrator runs one augmented-inference task.
type Orchestrator interface {
	Process(ctx context.Context, text string, kind domain.TaskKind) (domain.ProcessOutcome, error)
}

// StateRepo persists async task snapshots.
type StateRepo interface {
	Put(ctx context.Context, task domain.AsyncTask) error
	Get(ctx context.Context, id string) (domain.AsyncTask, error)
}

// Notifier delivers a terminal task to its webhook, if one was registered.
type Notifier interface {
	Notify(ctx context.Context, url string, task domain.AsyncTask) error
}

// Runner accepts tasks, runs them on a fixed-size pool, and records every
// state transition. Poll answers come from the repository, so any instance
// sharing the store can serve them.
type Runner struct {
	orchestrator Orchestrator
	states       StateRepo
	notifier     Notifier
	pool         *ants.Pool
	taskTimeout  time.Duration
	logger       *zap.Logger
}

// New creates a runner backed by a non-blocking pool of workers goroutines.
// Submissions beyond the pool capacity fail with ErrQueueFull instead of
// blocking the caller.
func New(orchestrator Orchestrator, states StateRepo, notifier Notifier, workers int, taskTimeout time.Duration, logger *zap.Logger) (*Runner, error) {
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Runner{
		orchestrator: orchestrator,
		states:       states,
		notifier:     notifier,
		pool:         pool,
		taskTimeout:  taskTimeout,
		logger:       logger,
	}, nil
}

// Submit registers a new task and schedules it. The returned snapshot is
// always in the pending state; callers poll for progress. webhookURL may be
// empty, in which case no delivery is attempted on completion.
func (r *Runner) Submit(ctx context.Context, text string, kind domain.TaskKind, webhookURL string) (domain.AsyncTask, error) {
	if !kind.Valid() {
		return domain.AsyncTask{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedTask, kind)
	}

	task := domain.AsyncTask{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     domain.TaskPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.states.Put(ctx, task); err != nil {
		return domain.AsyncTask{}, fmt.Errorf("register task: %w", err)
	}

	if err := r.pool.Submit(func() { r.run(task, text, webhookURL) }); err != nil {
		// No worker will ever pick this task up; leave a terminal record
		// instead of a phantom pending one.
		now := time.Now().UTC()
		task.State = domain.TaskFailed
		task.Error = "task was never scheduled: " + err.Error()
		task.CompletedAt = &now
		if putErr := r.states.Put(ctx, task); putErr != nil {
			r.logger.Warn("Failed to record unscheduled task", zap.String("task_id", task.ID), zap.Error(putErr))
		}
		if errors.Is(err, ants.ErrPoolOverload) {
			return domain.AsyncTask{}, fmt.Errorf("%w: all %d workers busy", domain.ErrQueueFull, r.pool.Cap())
		}
		return domain.AsyncTask{}, fmt.Errorf("schedule task %s: %w", task.ID, err)
	}

	return task, nil
}

// Poll returns the current snapshot of a task.
func (r *Runner) Poll(ctx context.Context, id string) (domain.AsyncTask, error) {
	return r.states.Get(ctx, id)
}

// finalizeTimeout bounds the terminal-state write and webhook delivery. It
// is independent of the task timeout: a task that failed by exhausting its
// deadline still needs a live context to record that failure.
const finalizeTimeout = 30 * time.Second

// run drives a task from pending to a terminal state. It executes on a pool
// worker with its own context: the submitting request is long gone.
func (r *Runner) run(task domain.AsyncTask, text, webhookURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.taskTimeout)
	defer cancel()

	task.State = domain.TaskRunning
	if err := r.states.Put(ctx, task); err != nil {
		r.logger.Warn("Failed to record running state", zap.String("task_id", task.ID), zap.Error(err))
	}

	outcome, err := r.orchestrator.Process(ctx, text, task.Kind)

	now := time.Now().UTC()
	task.CompletedAt = &now
	if err != nil {
		task.State = domain.TaskFailed
		task.Error = err.Error()
		r.logger.Error("Async task failed",
			zap.String("task_id", task.ID),
			zap.String("task", string(task.Kind)),
			zap.Error(err))
	} else {
		task.State = domain.TaskSucceeded
		task.Result = &outcome
	}
	metrics.AsyncTasksTotal.WithLabelValues(string(task.State)).Inc()

	// The task context may already be expired (deadline failures land here);
	// finalize on a fresh one so the terminal state is never lost.
	finCtx, finCancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer finCancel()

	if err := r.states.Put(finCtx, task); err != nil {
		r.logger.Error("Failed to record terminal state",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}

	if webhookURL != "" {
		if err := r.notifier.Notify(finCtx, webhookURL, task); err != nil {
			r.logger.Warn("Webhook delivery failed",
				zap.String("task_id", task.ID),
				zap.String("url", webhookURL),
				zap.Error(err))
		}
	}
}

// Close releases the worker pool, waiting up to the task timeout for running
// tasks to drain.
func (r *Runner) Close() {
	if err := r.pool.ReleaseTimeout(r.taskTimeout); err != nil {
		r.logger.Warn("Worker pool released with tasks still running", zap.Error(err))
	}
}
