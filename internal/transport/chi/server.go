// Package chi exposes the text-processing pipeline over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arcova/textrag/internal/domain"
	healthuc "github.com/arcova/textrag/internal/usecase/health"
)

const maxBatchSize = 100

// Processor runs one augmented-inference task.
type Processor interface {
	Process(ctx context.Context, text string, kind domain.TaskKind) (domain.ProcessOutcome, error)
}

// ResultCache memoizes outcomes per (kind, text).
type ResultCache interface {
	Get(ctx context.Context, kind domain.TaskKind, text string) (domain.ProcessOutcome, bool)
	Set(ctx context.Context, kind domain.TaskKind, text string, outcome domain.ProcessOutcome, ttl time.Duration) error
}

// TaskRunner schedules and polls async tasks.
type TaskRunner interface {
	Submit(ctx context.Context, text string, kind domain.TaskKind, webhookURL string) (domain.AsyncTask, error)
	Poll(ctx context.Context, id string) (domain.AsyncTask, error)
}

// HealthService aggregates component checks.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API server.
type Server struct {
	processor     Processor
	cache         ResultCache
	runner        TaskRunner
	health        HealthService
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(processor Processor, cache ResultCache, runner TaskRunner, health HealthService, logger *zap.Logger) *Server {
	s := &Server{
		processor: processor,
		cache:     cache,
		runner:    runner,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"),
		sentinelHandler(domain.ErrUnsupportedTask, http.StatusBadRequest, "unsupported_task"),
		sentinelHandler(domain.ErrUnknownTask, http.StatusNotFound, "task_not_found"),
		sentinelHandler(domain.ErrModelUnavailable, http.StatusBadGateway, "model_unavailable"),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, "embedding_provider_error"),
		sentinelHandler(domain.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"),
		sentinelHandler(domain.ErrQueueFull, http.StatusServiceUnavailable, "queue_full"),
	}
	return s
}

// Routes mounts all handlers on r.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/classify", s.taskHandler(domain.TaskClassification))
		r.Post("/entities", s.taskHandler(domain.TaskEntityExtraction))
		r.Post("/summarize", s.taskHandler(domain.TaskSummarization))
		r.Post("/sentiment", s.taskHandler(domain.TaskSentiment))
		r.Post("/batch", s.batchHandler)
		r.Post("/async/{task}", s.asyncSubmitHandler)
		r.Get("/status/{taskID}", s.statusHandler)
	})
	r.Get("/health", s.healthHandler)
	r.Get("/metrics", s.metricsHandler)
}

// processRequest is the body of every synchronous task endpoint.
type processRequest struct {
	Text string `json:"text"`
}

// taskHandler serves one synchronous task endpoint: cache lookup, pipeline
// run on miss, write-through.
func (s *Server) taskHandler(kind domain.TaskKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
			return
		}
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "validation_failed", "Text is required")
			return
		}

		outcome, err := s.processCached(r.Context(), kind, req.Text)
		if err != nil {
			s.handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, outcomeToResponse(outcome))
	}
}

// processCached runs the pipeline behind the result cache.
func (s *Server) processCached(ctx context.Context, kind domain.TaskKind, text string) (domain.ProcessOutcome, error) {
	if outcome, ok := s.cache.Get(ctx, kind, text); ok {
		return outcome, nil
	}

	outcome, err := s.processor.Process(ctx, text, kind)
	if err != nil {
		return domain.ProcessOutcome{}, err
	}

	if err := s.cache.Set(ctx, kind, text, outcome, 0); err != nil {
		// Cache write failures never fail the request.
		s.logger.Warn("Failed to cache result", zap.String("task", string(kind)), zap.Error(err))
	}
	return outcome, nil
}

// batchRequest is the body of POST /batch.
type batchRequest struct {
	Task  string   `json:"task"`
	Texts []string `json:"texts"`
}

type batchItemResult struct {
	Text   string         `json:"text"`
	Result *taskResponse  `json:"result,omitempty"`
	Error  *errorResponse `json:"error,omitempty"`
}

type batchResponse struct {
	Task      string            `json:"task"`
	Items     []batchItemResult `json:"items"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// batchHandler runs the same task over several texts. Items fail
// independently; one bad text never sinks the batch.
func (s *Server) batchHandler(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	kind, err := domain.ParseTaskKind(req.Task)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported_task", fmt.Sprintf("Unsupported task %q", req.Task))
		return
	}
	if len(req.Texts) == 0 || len(req.Texts) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "validation_failed",
			fmt.Sprintf("texts count must be between 1 and %d", maxBatchSize))
		return
	}

	resp := batchResponse{
		Task:  string(kind),
		Items: make([]batchItemResult, len(req.Texts)),
	}
	for i, text := range req.Texts {
		item := batchItemResult{Text: text}
		outcome, err := s.processCached(r.Context(), kind, text)
		if err != nil {
			item.Error = domainErrorResponse(err)
			resp.Failed++
		} else {
			tr := outcomeToResponse(outcome)
			item.Result = &tr
			resp.Succeeded++
		}
		resp.Items[i] = item
	}

	writeJSON(w, http.StatusOK, resp)
}

// asyncSubmitHandler handles POST /async/{task}. The optional webhook_url
// query parameter registers a completion callback.
func (s *Server) asyncSubmitHandler(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseTaskKind(chi.URLParam(r, "task"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported_task",
			fmt.Sprintf("Unsupported task %q", chi.URLParam(r, "task")))
		return
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "Text is required")
		return
	}

	task, err := s.runner.Submit(r.Context(), req.Text, kind, r.URL.Query().Get("webhook_url"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, asyncTaskToResponse(task))
}

// statusHandler handles GET /status/{taskID}.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	task, err := s.runner.Poll(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, asyncTaskToResponse(task))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// metricsHandler handles GET /metrics.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// taskResponse is the wire shape of a completed task. Exactly one payload
// group is populated, depending on the task kind.
// Entities is a pointer so entity extraction always serializes the key, as
// [] when nothing was found, while other kinds omit it entirely.
type taskResponse struct {
	Task      string           `json:"task"`
	Label     string           `json:"label,omitempty"`
	Entities  *[]domain.Entity `json:"entities,omitempty"`
	Summary   string           `json:"summary,omitempty"`
	Sentiment string           `json:"sentiment,omitempty"`
	Score     *float64         `json:"score,omitempty"`
	Text      string           `json:"text"`
	Context   []string         `json:"context"`
	Timestamp string           `json:"timestamp"`
}

func outcomeToResponse(outcome domain.ProcessOutcome) taskResponse {
	res := outcome.Result
	resp := taskResponse{
		Task:      string(res.Kind),
		Text:      res.SourceText,
		Context:   outcome.Context,
		Timestamp: res.ProducedAt.UTC().Format(time.RFC3339),
	}
	if resp.Context == nil {
		resp.Context = []string{}
	}

	switch res.Kind {
	case domain.TaskClassification:
		if res.Classification != nil {
			resp.Label = res.Classification.Label
			resp.Score = &res.Classification.Score
		}
	case domain.TaskEntityExtraction:
		entities := res.Entities
		if entities == nil {
			entities = []domain.Entity{}
		}
		resp.Entities = &entities
	case domain.TaskSummarization:
		if res.Summarization != nil {
			resp.Summary = res.Summarization.Summary
		}
	case domain.TaskSentiment:
		if res.Sentiment != nil {
			resp.Sentiment = res.Sentiment.Sentiment
			resp.Score = &res.Sentiment.Score
		}
	}
	return resp
}

// asyncTaskResponse is the wire shape of an async task snapshot.
type asyncTaskResponse struct {
	TaskID      string        `json:"task_id"`
	Task        string        `json:"task"`
	Status      string        `json:"status"`
	Result      *taskResponse `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   string        `json:"created_at"`
	CompletedAt string        `json:"completed_at,omitempty"`
}

func asyncTaskToResponse(task domain.AsyncTask) asyncTaskResponse {
	resp := asyncTaskResponse{
		TaskID:    task.ID,
		Task:      string(task.Kind),
		Status:    string(task.State),
		Error:     task.Error,
		CreatedAt: task.CreatedAt.UTC().Format(time.RFC3339),
	}
	if task.Result != nil {
		tr := outcomeToResponse(*task.Result)
		resp.Result = &tr
	}
	if task.CompletedAt != nil {
		resp.CompletedAt = task.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidArgument,
		domain.ErrUnsupportedTask,
		domain.ErrUnknownTask,
		domain.ErrModelUnavailable,
		domain.ErrEmbeddingProvider,
		domain.ErrStorageUnavailable,
		domain.ErrSchemaMissing,
		domain.ErrVectorDimMismatch,
		domain.ErrQueueFull,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func domainErrorResponse(err error) *errorResponse {
	code := "internal_error"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = "invalid_argument"
	case errors.Is(err, domain.ErrUnsupportedTask):
		code = "unsupported_task"
	case errors.Is(err, domain.ErrModelUnavailable):
		code = "model_unavailable"
	case errors.Is(err, domain.ErrEmbeddingProvider):
		code = "embedding_provider_error"
	case errors.Is(err, domain.ErrStorageUnavailable):
		code = "storage_unavailable"
	}
	return &errorResponse{Code: code, Message: safeDomainMessage(err)}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
