package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	// KeyTTL bounds how long Redis keeps the document. Zero keeps it until Delete.
	// Freshness is decided by the snapshot's CreatedAt, not by this TTL.
	KeyTTL time.Duration
}

// RedisSnapshotBackend stores the snapshot as a JSON value under a single Redis key.
type RedisSnapshotBackend struct {
	redisClient *redis.Client
	key         string
	ttl         time.Duration
	logger      zerolog.Logger
}

// NewRedisSnapshotBackend creates and connects a new RedisSnapshotBackend.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisSnapshotBackend(
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
) (*RedisSnapshotBackend, error) {
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
	return newRedisSnapshotBackend(rdb, cfg, logger), nil
}

// NewRedisSnapshotBackendFromClient wraps an existing client. The backend takes
// ownership of the client and closes it on Close.
func NewRedisSnapshotBackendFromClient(rdb *redis.Client, cfg *RedisConfig, logger zerolog.Logger) (*RedisSnapshotBackend, error) {
	if rdb == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	return newRedisSnapshotBackend(rdb, cfg, logger), nil
}

func newRedisSnapshotBackend(rdb *redis.Client, cfg *RedisConfig, logger zerolog.Logger) *RedisSnapshotBackend {
	key := cfg.Key
	if key == "" {
		key = "guildlink:snapshot"
	}
	return &RedisSnapshotBackend{
		redisClient: rdb,
		key:         key,
		ttl:         cfg.KeyTTL,
		logger:      logger.With().Str("component", "RedisSnapshotBackend").Logger(),
	}
}

// Save marshals the snapshot to JSON and sets it with the configured key TTL.
func (b *RedisSnapshotBackend) Save(ctx context.Context, snapshot *types.Snapshot) error {
	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		b.logger.Error().Err(err).Str("key", b.key).Msg("Failed to marshal snapshot for caching.")
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := b.redisClient.Set(ctx, b.key, jsonData, b.ttl).Err(); err != nil {
		b.logger.Error().Err(err).Str("key", b.key).Msg("Failed to set snapshot in Redis.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	b.logger.Debug().Str("key", b.key).Msg("Successfully stored snapshot in Redis.")
	return nil
}

// Load fetches and unmarshals the snapshot. A redis.Nil reply maps to ErrSnapshotNotFound.
func (b *RedisSnapshotBackend) Load(ctx context.Context) (*types.Snapshot, error) {
	cachedData, err := b.redisClient.Get(ctx, b.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		b.logger.Error().Err(err).Msg("Unexpected Redis error during load.")
		return nil, fmt.Errorf("redis get failed for key %s: %w", b.key, err)
	}

	var snapshot types.Snapshot
	if err := json.Unmarshal([]byte(cachedData), &snapshot); err != nil {
		b.logger.Error().Err(err).Str("key", b.key).Msg("Failed to unmarshal cached snapshot.")
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	b.logger.Debug().Str("key", b.key).Msg("Redis cache hit.")
	return &snapshot, nil
}

// Delete removes the key.
func (b *RedisSnapshotBackend) Delete(ctx context.Context) error {
	if err := b.redisClient.Del(ctx, b.key).Err(); err != nil {
		return fmt.Errorf("redis del failed for key %s: %w", b.key, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (b *RedisSnapshotBackend) Close() error {
	if b.redisClient != nil {
		b.logger.Info().Msg("Closing Redis client connection...")
		return b.redisClient.Close()
	}
	return nil
}
