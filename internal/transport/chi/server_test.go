package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gochi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/arcova/textrag/internal/domain"
	healthuc "github.com/arcova/textrag/internal/usecase/health"
)

// --- Mocks ---

type mockProcessor struct {
	calls   int
	outcome domain.ProcessOutcome
	err     error
}

func (m *mockProcessor) Process(_ context.Context, text string, kind domain.TaskKind) (domain.ProcessOutcome, error) {
	m.calls++
	if m.err != nil {
		return domain.ProcessOutcome{}, m.err
	}
	out := m.outcome
	out.Result.Kind = kind
	out.Result.SourceText = text
	return out, nil
}

type memCache struct {
	entries map[string]domain.ProcessOutcome
	setErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]domain.ProcessOutcome)}
}

func (c *memCache) Get(_ context.Context, kind domain.TaskKind, text string) (domain.ProcessOutcome, bool) {
	out, ok := c.entries[string(kind)+"\x00"+text]
	return out, ok
}

func (c *memCache) Set(_ context.Context, kind domain.TaskKind, text string, outcome domain.ProcessOutcome, _ time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[string(kind)+"\x00"+text] = outcome
	return nil
}

type mockRunner struct {
	submitted  []domain.TaskKind
	webhookURL string
	task       domain.AsyncTask
	submitErr  error
	pollErr    error
}

func (m *mockRunner) Submit(_ context.Context, _ string, kind domain.TaskKind, webhookURL string) (domain.AsyncTask, error) {
	m.submitted = append(m.submitted, kind)
	m.webhookURL = webhookURL
	if m.submitErr != nil {
		return domain.AsyncTask{}, m.submitErr
	}
	task := m.task
	task.Kind = kind
	return task, nil
}

func (m *mockRunner) Poll(_ context.Context, id string) (domain.AsyncTask, error) {
	if m.pollErr != nil {
		return domain.AsyncTask{}, m.pollErr
	}
	task := m.task
	task.ID = id
	return task, nil
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(_ context.Context) healthuc.Report { return m.report }

func newTestRouter(processor *mockProcessor, cache *memCache, runner *mockRunner, health *mockHealth) http.Handler {
	if health == nil {
		health = &mockHealth{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{}}}
	}
	srv := NewServer(processor, cache, runner, health, zap.NewNop())
	r := gochi.NewRouter()
	srv.Routes(r)
	return r
}

func sentimentOutcome() domain.ProcessOutcome {
	return domain.ProcessOutcome{
		Result: domain.TaskResult{
			Kind:       domain.TaskSentiment,
			Sentiment:  &domain.Sentiment{Sentiment: "POSITIVE", Score: 0.95},
			ProducedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
		Context: []string{"snippet one", "snippet two"},
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// --- Tests ---

func TestSentimentEndpoint(t *testing.T) {
	processor := &mockProcessor{outcome: sentimentOutcome()}
	router := newTestRouter(processor, newMemCache(), &mockRunner{}, nil)

	rr := postJSON(t, router, "/api/v1/sentiment", processRequest{Text: "great product"})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d, body %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp taskResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Task != "sentiment" {
		t.Errorf("task: got %q", resp.Task)
	}
	if resp.Sentiment != "POSITIVE" {
		t.Errorf("sentiment: got %q", resp.Sentiment)
	}
	if resp.Score == nil || *resp.Score != 0.95 {
		t.Errorf("score: got %v", resp.Score)
	}
	if resp.Text != "great product" {
		t.Errorf("text: got %q", resp.Text)
	}
	if len(resp.Context) != 2 {
		t.Errorf("context: got %v", resp.Context)
	}
}

func TestClassifyEndpoint_CacheHitSkipsPipeline(t *testing.T) {
	processor := &mockProcessor{outcome: domain.ProcessOutcome{
		Result: domain.TaskResult{Classification: &domain.Classification{Label: "news", Score: 0.8}},
	}}
	cache := newMemCache()
	router := newTestRouter(processor, cache, &mockRunner{}, nil)

	first := postJSON(t, router, "/api/v1/classify", processRequest{Text: "breaking story"})
	if first.Code != http.StatusOK {
		t.Fatalf("first call: got %d, body %s", first.Code, first.Body.String())
	}
	second := postJSON(t, router, "/api/v1/classify", processRequest{Text: "breaking story"})
	if second.Code != http.StatusOK {
		t.Fatalf("second call: got %d", second.Code)
	}

	if processor.calls != 1 {
		t.Errorf("pipeline runs: got %d, want 1 (second served from cache)", processor.calls)
	}

	var resp taskResponse
	if err := json.NewDecoder(second.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Label != "news" {
		t.Errorf("label: got %q", resp.Label)
	}
}

func TestEntitiesEndpoint_EmptyEntitiesNotNull(t *testing.T) {
	processor := &mockProcessor{outcome: domain.ProcessOutcome{
		Result: domain.TaskResult{Kind: domain.TaskEntityExtraction, Entities: nil},
	}}
	router := newTestRouter(processor, newMemCache(), &mockRunner{}, nil)

	rr := postJSON(t, router, "/api/v1/entities", processRequest{Text: "nothing here"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(rr.Body).Decode(&raw); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if string(raw["entities"]) != "[]" {
		t.Errorf("entities: got %s, want []", raw["entities"])
	}
}

func TestClassifyEndpoint_NoEntitiesKey(t *testing.T) {
	processor := &mockProcessor{outcome: domain.ProcessOutcome{
		Result: domain.TaskResult{Classification: &domain.Classification{Label: "news", Score: 0.8}},
	}}
	router := newTestRouter(processor, newMemCache(), &mockRunner{}, nil)

	rr := postJSON(t, router, "/api/v1/classify", processRequest{Text: "breaking story"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(rr.Body).Decode(&raw); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := raw["entities"]; ok {
		t.Errorf("entities key must be absent for classification, got %s", raw["entities"])
	}
}

func TestTaskEndpoint_EmptyText400(t *testing.T) {
	router := newTestRouter(&mockProcessor{}, newMemCache(), &mockRunner{}, nil)

	rr := postJSON(t, router, "/api/v1/summarize", processRequest{Text: ""})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestTaskEndpoint_CacheWriteFailureStillOK(t *testing.T) {
	cache := newMemCache()
	cache.setErr = errors.New("redis down")
	processor := &mockProcessor{outcome: sentimentOutcome()}
	router := newTestRouter(processor, cache, &mockRunner{}, nil)

	rr := postJSON(t, router, "/api/v1/sentiment", processRequest{Text: "text"})
	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestTaskEndpoint_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"model unavailable", domain.ErrModelUnavailable, http.StatusBadGateway, "model_unavailable"},
		{"embedding provider", domain.ErrEmbeddingProvider, http.StatusBadGateway, "embedding_provider_error"},
		{"storage unavailable", domain.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
		{"invalid argument", domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			processor := &mockProcessor{err: tc.err}
			router := newTestRouter(processor, newMemCache(), &mockRunner{}, nil)

			rr := postJSON(t, router, "/api/v1/sentiment", processRequest{Text: "text"})
			if rr.Code != tc.wantStatus {
				t.Errorf("status: got %d, want %d", rr.Code, tc.wantStatus)
			}

			var errResp errorResponse
			if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if errResp.Code != tc.wantCode {
				t.Errorf("code: got %q, want %q", errResp.Code, tc.wantCode)
			}
		})
	}
}

func TestBatchEndpoint_PartialFailure(t *testing.T) {
	processor := &mockProcessor{outcome: sentimentOutcome()}
	cache := newMemCache()
	// Pre-cache a failure-free entry for one text, then make the pipeline fail.
	cache.entries["sentiment\x00cached text"] = sentimentOutcome()
	processor.err = domain.ErrModelUnavailable
	router := newTestRouter(processor, cache, &mockRunner{}, nil)

	rr := postJSON(t, router, "/api/v1/batch", batchRequest{
		Task:  "sentiment",
		Texts: []string{"cached text", "fresh text"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp batchResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Succeeded != 1 || resp.Failed != 1 {
		t.Errorf("succeeded/failed: got %d/%d, want 1/1", resp.Succeeded, resp.Failed)
	}
	if resp.Items[0].Result == nil {
		t.Error("cached item should succeed")
	}
	if resp.Items[1].Error == nil || resp.Items[1].Error.Code != "model_unavailable" {
		t.Errorf("fresh item error: got %+v", resp.Items[1].Error)
	}
}

func TestBatchEndpoint_TaskAliases(t *testing.T) {
	processor := &mockProcessor{outcome: domain.ProcessOutcome{
		Result: domain.TaskResult{Entities: []domain.Entity{{Label: "PER", Text: "Ada"}}},
	}}
	router := newTestRouter(processor, newMemCache(), &mockRunner{}, nil)

	rr := postJSON(t, router, "/api/v1/batch", batchRequest{Task: "ner", Texts: []string{"Ada wrote programs"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp batchResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Task != "entity_extraction" {
		t.Errorf("task: got %q, want canonical name", resp.Task)
	}
}

func TestBatchEndpoint_Validation(t *testing.T) {
	router := newTestRouter(&mockProcessor{}, newMemCache(), &mockRunner{}, nil)

	rr := postJSON(t, router, "/api/v1/batch", batchRequest{Task: "translation", Texts: []string{"x"}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown task: got %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = postJSON(t, router, "/api/v1/batch", batchRequest{Task: "sentiment", Texts: nil})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty texts: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAsyncSubmit(t *testing.T) {
	runner := &mockRunner{task: domain.AsyncTask{
		ID:        "task-1",
		State:     domain.TaskPending,
		CreatedAt: time.Now().UTC(),
	}}
	router := newTestRouter(&mockProcessor{}, newMemCache(), runner, nil)

	rr := postJSON(t, router, "/api/v1/async/summarize?webhook_url=http://cb.local/hook", processRequest{Text: "long text"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want %d, body %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}

	var resp asyncTaskResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID != "task-1" {
		t.Errorf("task_id: got %q", resp.TaskID)
	}
	if resp.Status != "pending" {
		t.Errorf("status: got %q", resp.Status)
	}
	if resp.Task != "summarization" {
		t.Errorf("task: got %q", resp.Task)
	}
	if runner.webhookURL != "http://cb.local/hook" {
		t.Errorf("webhook url: got %q", runner.webhookURL)
	}
}

func TestAsyncSubmit_UnknownTask400(t *testing.T) {
	router := newTestRouter(&mockProcessor{}, newMemCache(), &mockRunner{}, nil)

	rr := postJSON(t, router, "/api/v1/async/translation", processRequest{Text: "x"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAsyncSubmit_QueueFull503(t *testing.T) {
	runner := &mockRunner{submitErr: domain.ErrQueueFull}
	router := newTestRouter(&mockProcessor{}, newMemCache(), runner, nil)

	rr := postJSON(t, router, "/api/v1/async/sentiment", processRequest{Text: "x"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestStatusEndpoint(t *testing.T) {
	now := time.Now().UTC()
	runner := &mockRunner{task: domain.AsyncTask{
		Kind:        domain.TaskSentiment,
		State:       domain.TaskSucceeded,
		Result:      &domain.ProcessOutcome{Result: domain.TaskResult{Kind: domain.TaskSentiment, Sentiment: &domain.Sentiment{Sentiment: "NEGATIVE", Score: 0.6}}},
		CreatedAt:   now.Add(-time.Minute),
		CompletedAt: &now,
	}}
	router := newTestRouter(&mockProcessor{}, newMemCache(), runner, nil)

	req := httptest.NewRequest("GET", "/api/v1/status/task-9", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}

	var resp asyncTaskResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID != "task-9" {
		t.Errorf("task_id: got %q", resp.TaskID)
	}
	if resp.Status != "succeeded" {
		t.Errorf("status: got %q", resp.Status)
	}
	if resp.Result == nil || resp.Result.Sentiment != "NEGATIVE" {
		t.Errorf("result: got %+v", resp.Result)
	}
	if resp.CompletedAt == "" {
		t.Error("completed_at missing")
	}
}

func TestStatusEndpoint_Unknown404(t *testing.T) {
	runner := &mockRunner{pollErr: domain.ErrUnknownTask}
	router := newTestRouter(&mockProcessor{}, newMemCache(), runner, nil)

	req := httptest.NewRequest("GET", "/api/v1/status/ghost", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHealthEndpoint(t *testing.T) {
	health := &mockHealth{report: healthuc.Report{
		Status: healthuc.Degraded,
		Checks: map[string]healthuc.CheckResult{"cache": healthuc.CheckError, "docstore": healthuc.CheckOK},
	}}
	router := newTestRouter(&mockProcessor{}, newMemCache(), &mockRunner{}, health)

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}
