package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/rolefusion/internal/ports"
	"github.com/target/rolefusion/internal/testutil"
)

// setupTestRedis creates a Redis client for testing.
// Tests will be skipped if Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.SetupTestRedis(t)
}

func TestStorage_SetManyAndGet(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewStorage(client, StorageOptions{})
	ctx := context.Background()

	err := store.SetMany(ctx, map[string]string{
		"rolefusion.auth":  `{"isAuthenticated":false,"user":null,"impersonation":null}`,
		"rolefusion.token": "tok",
	})
	require.NoError(t, err)

	v, err := store.Get(ctx, "rolefusion.token")
	require.NoError(t, err)
	assert.Equal(t, "tok", v)

	exists := client.Exists(ctx, DefaultPrefix+"rolefusion.auth").Val()
	assert.Equal(t, int64(1), exists)
}

func TestStorage_GetNonExistent(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewStorage(client, StorageOptions{})
	_, err := store.Get(context.Background(), "non-existent")
	assert.ErrorIs(t, err, ports.ErrKeyNotFound)
}

func TestStorage_Delete(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewStorage(client, StorageOptions{Prefix: "test-prefix:"})
	ctx := context.Background()

	require.NoError(t, store.SetMany(ctx, map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, store.Delete(ctx, "a", "b"))

	assert.Equal(t, int64(0), client.Exists(ctx, "test-prefix:a", "test-prefix:b").Val())
}

func TestStorage_TTL(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewStorage(client, StorageOptions{TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, store.SetMany(ctx, map[string]string{"ttl-key": "v"}))
	ttl := client.TTL(ctx, DefaultPrefix+"ttl-key").Val()
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestStorage_EmptyInputsAreNoops(t *testing.T) {
	store := NewStorage(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), StorageOptions{})
	ctx := context.Background()
	assert.NoError(t, store.SetMany(ctx, nil))
	assert.NoError(t, store.Delete(ctx))
}
