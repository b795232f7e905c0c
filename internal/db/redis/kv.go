package redis

import (
	"context"
	"time"

	"github.com/redis/rueidis"

	"github.com/arcova/textrag/internal/db"
)

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.B().Get().Key(key).Build()
	data, err := s.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return data, nil
}

// Set stores a value at the given key without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	cmd := s.client.B().Set().Key(key).Value(string(value)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// SetWithTTL stores a value with an expiration.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := s.client.B().Set().Key(key).Value(string(value)).Ex(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}
