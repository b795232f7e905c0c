// Package resultcache memoizes orchestrator outcomes in Redis, keyed by task
// kind and normalized input text, with time-bound expiry.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arcova/textrag/internal/db"
	"github.com/arcova/textrag/internal/domain"
)

const keyPrefix = "textrag:result:"

// store is the consumer interface for the result cache.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache stores process outcomes with expiry handled by the backing store.
type Cache struct {
	store      store
	defaultTTL time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a result cache. cacheTotal is a counter vec with label
// "result" ("hit"/"miss"), passed explicitly; nil disables counting.
func New(s store, defaultTTL time.Duration, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	return &Cache{
		store:      s,
		defaultTTL: defaultTTL,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Get returns the cached outcome for (kind, text) if present and not expired.
// Backend failures degrade to a miss; absence is never an error.
func (c *Cache) Get(ctx context.Context, kind domain.TaskKind, text string) (domain.ProcessOutcome, bool) {
	key := Key(kind, text)

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to read result cache", zap.String("key", key), zap.Error(err))
		}
		c.incCache("miss")
		return domain.ProcessOutcome{}, false
	}

	var outcome domain.ProcessOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		c.logger.Warn("Failed to decode cached result", zap.String("key", key), zap.Error(err))
		c.incCache("miss")
		return domain.ProcessOutcome{}, false
	}

	c.incCache("hit")
	return outcome, true
}

// Set stores an outcome for (kind, text), overwriting any prior entry.
// ttl <= 0 falls back to the configured default.
func (c *Cache) Set(ctx context.Context, kind domain.TaskKind, text string, outcome domain.ProcessOutcome, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	if err := c.store.SetWithTTL(ctx, Key(kind, text), data, ttl); err != nil {
		return fmt.Errorf("write result cache: %w", err)
	}
	return nil
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

// Key derives the deterministic cache key for (kind, text). Identical
// requests collide by construction; nothing beyond exact equality is handled.
func Key(kind domain.TaskKind, text string) string {
	h := sha256.Sum256([]byte(string(kind) + "\n" + normalize(text)))
	return keyPrefix + hex.EncodeToString(h[:])
}

// normalize collapses runs of whitespace so trivially reformatted inputs
// share a cache entry.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
