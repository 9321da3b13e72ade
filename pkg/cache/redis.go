package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultRedisKeyPrefix = "readcache:"

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// RedisSink mirrors each cached snapshot into Redis as JSON, so that sibling
// instances and external tools can read the last good value of a metric.
type RedisSink[V any] struct {
	redisClient redis.UniversalClient
	logger      zerolog.Logger
	ttl         time.Duration
	keyPrefix   string
	ownsClient  bool
}

// NewRedisSink creates and connects a new RedisSink.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisSink[V any](ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisSink[V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	sink := NewRedisSinkWithClient[V](rdb, cfg, logger)
	sink.ownsClient = true
	return sink, nil
}

// NewRedisSinkWithClient creates a RedisSink over an existing client, which
// the caller keeps ownership of.
func NewRedisSinkWithClient[V any](client redis.UniversalClient, cfg *RedisConfig, logger zerolog.Logger) *RedisSink[V] {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisSink[V]{
		redisClient: client,
		logger:      logger.With().Str("component", "RedisSink").Logger(),
		ttl:         cfg.TTL,
		keyPrefix:   prefix,
	}
}

// Store writes the metric under its type's key with the configured TTL.
func (s *RedisSink[V]) Store(ctx context.Context, metric types.Metric[V]) error {
	key := s.key(metric.Type)
	jsonData, err := json.Marshal(metric)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to marshal snapshot.")
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := s.redisClient.Set(ctx, key, jsonData, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to set snapshot in Redis.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	s.logger.Debug().Str("key", key).Msg("Successfully stored snapshot in Redis.")
	return nil
}

// Fetch reads the last snapshot stored for a metric type.
func (s *RedisSink[V]) Fetch(ctx context.Context, metricType types.MetricType) (types.Metric[V], error) {
	var zero types.Metric[V]
	key := s.key(metricType)
	cachedData, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%s: %w", metricType, ErrSnapshotNotFound)
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during fetch.")
		return zero, err
	}

	var metric types.Metric[V]
	if err := json.Unmarshal([]byte(cachedData), &metric); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal snapshot.")
		return zero, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return metric, nil
}

func (s *RedisSink[V]) key(metricType types.MetricType) string {
	return s.keyPrefix + metricType.String()
}

// Close closes the Redis client if the sink created it.
func (s *RedisSink[V]) Close() error {
	if s.ownsClient && s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
