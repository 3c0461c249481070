// Package redis provides a Redis-backed KeyValueStore for ocrsched.
//
// Each ocrsched key maps to one Redis string under a configurable prefix.
// Individual writes are atomic in Redis, but the quota record is still
// written whole by the tracker, so concurrent schedulers resolve as
// last-writer-wins, the same approximation the in-memory store has.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/scandesk/ocrsched"
)

// Store is a Redis-backed KeyValueStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ ocrsched.KeyValueStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "ocrsched:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed KeyValueStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "ocrsched:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k string) string { return s.keyPrefix + k }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ocrsched/redis: get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("ocrsched/redis: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("ocrsched/redis: del %s: %w", key, err)
	}
	return nil
}
