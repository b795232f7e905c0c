package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/arcova/textrag/internal/config"
	dbRedis "github.com/arcova/textrag/internal/db/redis"
	logpkg "github.com/arcova/textrag/internal/logger"
	"github.com/arcova/textrag/internal/metrics"
	"github.com/arcova/textrag/internal/repository/docstore"
	"github.com/arcova/textrag/internal/repository/embcache"
	"github.com/arcova/textrag/internal/repository/resultcache"
	"github.com/arcova/textrag/internal/repository/taskstate"
	chiTransport "github.com/arcova/textrag/internal/transport/chi"
	openaiTransport "github.com/arcova/textrag/internal/transport/openai"
	"github.com/arcova/textrag/internal/transport/webhook"
	healthuc "github.com/arcova/textrag/internal/usecase/health"
	"github.com/arcova/textrag/internal/usecase/rag"
	"github.com/arcova/textrag/internal/usecase/rerank"
	"github.com/arcova/textrag/internal/usecase/runner"
	"github.com/arcova/textrag/internal/version"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	env := config.GetEnv()
	cfg := config.MustLoad(env)

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting textrag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("store_host", cfg.Store.Host),
		zap.Strings("cache_addrs", cfg.Cache.Addrs),
	)

	// Redis backs the result cache, embedding cache, and task state.
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Cache.Addrs,
		Password: cfg.Cache.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create cache store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Cache not ready", zap.Error(err))
	}
	logger.Info("Connected to cache")

	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Store.Host,
		Port: cfg.Store.Port,
	})
	if err != nil {
		logger.Fatal("Failed to create document store client", zap.Error(err))
	}
	defer func() { _ = qdrantClient.Close() }()

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	// Embedder chain: OpenAI-compatible provider behind the Redis cache.
	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})
	embedder := embcache.New(baseEmbedder, store, metrics.EmbeddingCacheTotal, logger)
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	docs := docstore.New(qdrantClient, cfg.Store.Collection, embedder, cfg.Embedding.Dimensions, logger)
	if err := docs.EnsureCollection(ctx); err != nil {
		logger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	executor := openaiTransport.NewExecutor(&openaiTransport.ExecutorConfig{
		APIKey:  cfg.Inference.APIKey,
		BaseURL: cfg.Inference.BaseURL,
		Model:   cfg.Inference.Model,
		Logger:  logger,
	})

	orchestrator := rag.New(docs, docs, rerank.New(nil), executor, logger).
		WithLimits(cfg.RAG.RetrieveLimit, cfg.RAG.ContextSize)

	cache := resultcache.New(store, time.Duration(cfg.Cache.TTLSec)*time.Second, metrics.ResultCacheTotal, logger)
	states := taskstate.New(store, time.Duration(cfg.Cache.TaskRetentionSec)*time.Second)

	notifier := webhook.New(webhook.Config{
		Enabled:    cfg.Webhook.Enabled,
		Timeout:    time.Duration(cfg.Webhook.TimeoutSec) * time.Second,
		MaxRetries: cfg.Webhook.MaxRetries,
	}, logger)

	taskRunner, err := runner.New(orchestrator, states, notifier,
		cfg.Runner.Workers, time.Duration(cfg.Runner.TaskTimeoutSec)*time.Second, logger)
	if err != nil {
		logger.Fatal("Failed to create task runner", zap.Error(err))
	}

	// The cache decorator does not proxy health checks; probe the provider directly.
	healthSvc := healthuc.New(store, docs, baseEmbedder)

	server := chiTransport.NewServer(orchestrator, cache, taskRunner, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// Drain background work before closing connections: async tasks first,
	// then pending document write-backs.
	taskRunner.Close()
	orchestrator.Close()

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
