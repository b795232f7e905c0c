// Package webhook delivers completion notifications for async tasks by
// POSTing a JSON payload to the caller-supplied URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/arcova/textrag/internal/domain"
	"github.com/arcova/textrag/internal/metrics"
)

// Config controls webhook delivery behavior.
type Config struct {
	Enabled    bool
	Timeout    time.Duration
	MaxRetries int // 0 means a single attempt, no retry
}

// payload is the wire shape POSTed to the webhook URL.
type payload struct {
	TaskID    string                 `json:"task_id"`
	Status    string                 `json:"status"` // "completed" / "failed"
	Result    *domain.ProcessOutcome `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// Notifier POSTs terminal task states to webhooks.
type Notifier struct {
	client     *http.Client
	maxRetries int
	enabled    bool
	logger     *zap.Logger
}

// New creates a webhook notifier. When cfg.Enabled is false Notify is a no-op.
func New(cfg Config, logger *zap.Logger) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		client:     &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		enabled:    cfg.Enabled,
		logger:     logger,
	}
}

// Notify delivers the terminal task snapshot to url. Only terminal tasks are
// delivered; anything else is a programming error and is rejected. With
// retries configured, attempts back off exponentially and the final failure
// is dead-lettered to the log with the full payload.
func (n *Notifier) Notify(ctx context.Context, url string, task domain.AsyncTask) error {
	if !n.enabled || url == "" {
		return nil
	}
	if !task.State.Terminal() {
		return fmt.Errorf("task %s not terminal: %w", task.ID, domain.ErrInvalidArgument)
	}

	body, err := json.Marshal(payload{
		TaskID:    task.ID,
		Status:    wireStatus(task.State),
		Result:    task.Result,
		Error:     task.Error,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	if n.maxRetries <= 0 {
		if err := n.post(ctx, url, body); err != nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
			return err
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
		return nil
	}

	operation := func() error {
		if err := n.post(ctx, url, body); err != nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
			return err
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(n.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("dead_letter").Inc()
		n.logger.Error("Webhook dead-lettered after retries",
			zap.String("task_id", task.ID),
			zap.String("url", url),
			zap.Int("max_retries", n.maxRetries),
			zap.ByteString("payload", body),
			zap.Error(err))
		return fmt.Errorf("deliver webhook for task %s: %w", task.ID, err)
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	return nil
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// wireStatus maps internal task states to the statuses callers receive.
func wireStatus(s domain.TaskState) string {
	if s == domain.TaskSucceeded {
		return "completed"
	}
	return "failed"
}
