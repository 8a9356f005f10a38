package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// UpdatesChannel is the pub/sub channel each mirrored write is announced on.
const UpdatesChannel = "feedcache:updates"

// Config holds Redis connection settings.
type Config struct {
	Host      string
	Port      string
	Password  string
	DB        int
	KeyPrefix string

	// Retention is how long a mirrored entry outlives its TTL in Redis.
	// Stale entries stay readable by other processes for this long.
	Retention time.Duration
}

// RedisCache mirrors cache writes into Redis so other API processes can serve
// the same snapshot.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	log.Info().
		Str("host", cfg.Host).
		Str("port", cfg.Port).
		Int("db", cfg.DB).
		Msg("Successfully connected to redis")

	return &RedisCache{
		client:    client,
		prefix:    cfg.KeyPrefix,
		retention: retention,
	}, nil
}

func (r *RedisCache) key(k string) string {
	return r.prefix + k
}

// Save writes e and announces the key on UpdatesChannel.
func (r *RedisCache) Save(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(e.Key), data, e.TTL+r.retention)
	pipe.Publish(ctx, UpdatesChannel, e.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror %s to redis: %w", e.Key, err)
	}
	return nil
}

// Load reads a mirrored entry. A missing key is reported as ok=false.
func (r *RedisCache) Load(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read %s from redis: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return e, true, nil
}

// Keys lists the mirrored cache keys, without the prefix.
func (r *RedisCache) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan redis keys: %w", err)
	}
	return keys, nil
}

// Delete removes a mirrored key.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Health pings Redis.
func (r *RedisCache) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
