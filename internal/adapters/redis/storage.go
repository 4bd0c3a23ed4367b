package redis

// Package redis provides the Redis-backed auth storage adapter.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/rolefusion/internal/ports"
)

// DefaultPrefix namespaces every key the adapter writes.
const DefaultPrefix = "rolefusion:"

// Storage implements ports.Storage on a redis.UniversalClient, so standalone,
// sentinel and cluster deployments share one adapter.
type Storage struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// StorageOptions configures a Storage.
type StorageOptions struct {
	// Prefix is prepended to every key. Defaults to DefaultPrefix.
	Prefix string
	// TTL, when positive, expires written keys so abandoned sessions age out.
	TTL time.Duration
}

// NewStorage creates a Redis-backed Storage.
func NewStorage(client redis.UniversalClient, opts StorageOptions) *Storage {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Storage{client: client, prefix: prefix, ttl: opts.TTL}
}

func (s *Storage) key(k string) string { return s.prefix + k }

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ports.ErrKeyNotFound
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// SetMany writes all values inside one MULTI/EXEC transaction.
func (s *Storage) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, s.key(k), v, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Del(ctx, s.key(k))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
