package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline Prometheus metrics.
var (
	TasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textrag",
			Name:      "tasks_processed_total",
			Help:      "Total number of processed tasks",
		},
		[]string{"task", "status"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "textrag",
			Name:      "task_duration_seconds",
			Help:      "End-to-end task processing duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"task"},
	)

	ResultCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textrag",
			Name:      "result_cache_total",
			Help:      "Result cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textrag",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textrag",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	AsyncTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textrag",
			Name:      "async_tasks_total",
			Help:      "Async task terminal states",
		},
		[]string{"state"}, // "succeeded" / "failed"
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textrag",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery outcomes",
		},
		[]string{"status"}, // "delivered" / "failed" / "dead_letter"
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		TasksProcessedTotal,
		TaskDuration,
		ResultCacheTotal,
		EmbeddingCacheTotal,
		EmbeddingRequestsTotal,
		AsyncTasksTotal,
		WebhookDeliveriesTotal,
	)
	pipelineMetricsRegistered = true
}
