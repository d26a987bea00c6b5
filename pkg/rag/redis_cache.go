package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCacheConfig holds configuration for the optional L2 embedding
// cache.
type RedisCacheConfig struct {
	Address      string        `json:"address"`
	Password     string        `json:"password"`
	Database     int           `json:"database"`
	KeyPrefix    string        `json:"key_prefix"`
	TTL          time.Duration `json:"ttl"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// RedisCache is a Redis-backed embedding cache shared across service
// instances. It sits behind the in-memory L1 cache: L1 misses consult
// Redis before falling through to the embedding provider.
type RedisCache struct {
	client *redis.Client
	config *RedisCacheConfig
	logger *slog.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(config *RedisCacheConfig) (*RedisCache, error) {
	if config == nil {
		return nil, fmt.Errorf("redis cache config cannot be nil")
	}
	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "rag:embedding:"
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 3 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		config: config,
		logger: slog.Default().With("component", "redis-cache"),
	}, nil
}

// Get returns the cached vector for key. A missing key is not an
// error.
func (rc *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := rc.client.Get(ctx, rc.config.KeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached vector: %w", err)
	}
	return vector, true, nil
}

// Set stores vector under key with the configured TTL.
func (rc *RedisCache) Set(ctx context.Context, key string, vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}
	if err := rc.client.Set(ctx, rc.config.KeyPrefix+key, data, rc.config.TTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
