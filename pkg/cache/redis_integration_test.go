//go:build integration

package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisSink_Integration needs a reachable Redis, e.g.
// docker run -p 6379:6379 redis:7 and REDIS_ADDR=localhost:6379.
func TestRedisSink_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	t.Cleanup(cancel)

	cfg := &cache.RedisConfig{
		Addr:      addr,
		TTL:       1 * time.Minute,
		KeyPrefix: "readcache-test:" + time.Now().Format("150405.000") + ":",
	}
	sink, err := cache.NewRedisSink[types.RepositorySnapshot](ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	t.Run("Fetch Miss", func(t *testing.T) {
		_, err := sink.Fetch(ctx, types.Repositories)
		require.ErrorIs(t, err, cache.ErrSnapshotNotFound)
	})

	t.Run("Store and Fetch", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Second)
		metric := types.Metric[types.RepositorySnapshot]{
			Type: types.Repositories,
			Value: types.RepositorySnapshot{
				Raw:          []byte(`[{"name":"zuul","forks_count":9}]`),
				Repositories: []types.Repository{{Name: "zuul", ForksCount: 9}},
			},
			CollectedAt: at,
		}
		require.NoError(t, sink.Store(ctx, metric))

		got, err := sink.Fetch(ctx, types.Repositories)
		require.NoError(t, err)
		assert.Equal(t, at, got.CollectedAt.UTC())
		require.Len(t, got.Value.Repositories, 1)
		assert.Equal(t, "zuul", got.Value.Repositories[0].Name)
	})

	t.Run("TTL is applied", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })

		ttl, err := client.TTL(ctx, cfg.KeyPrefix+types.Repositories.String()).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, cfg.TTL)
	})
}
