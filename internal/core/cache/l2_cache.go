package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/arborvale/valicore/pkg/valcore"
)

// L2Cache is a Redis-backed distributed cache, grounded on
// pkg/history/cache/l2_cache.go retargeted from *core.HistoryResponse to
// *valcore.ValidationResult.
type L2Cache struct {
	client      *redis.Client
	ttl         time.Duration
	compression bool
	logger      *slog.Logger
}

// NewL2Cache dials Redis and verifies connectivity before returning.
func NewL2Cache(
	addr string,
	password string,
	db int,
	poolSize int,
	minIdle int,
	ttl time.Duration,
	compression bool,
	logger *slog.Logger,
) (*L2Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: minIdle,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("L2 cache (Redis) initialized", "addr", addr, "db", db, "ttl", ttl, "compression", compression)

	return &L2Cache{client: client, ttl: ttl, compression: compression, logger: logger}, nil
}

// Get retrieves a value from Redis.
func (c *L2Cache) Get(ctx context.Context, key string) (*valcore.ValidationResult, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		c.logger.Error("L2 cache get error", "error", err, "key", key)
		return nil, ErrConnectionFailed
	}

	if c.compression {
		data, err = c.decompress(data)
		if err != nil {
			c.logger.Error("failed to decompress L2 cache data", "error", err, "key", key)
			return nil, ErrSerialization("decompression failed", err)
		}
	}

	var result valcore.ValidationResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("failed to unmarshal L2 cache data", "error", err, "key", key)
		return nil, ErrSerialization("unmarshal failed", err)
	}
	return &result, nil
}

// Set stores a value in Redis with the configured TTL.
func (c *L2Cache) Set(ctx context.Context, key string, value *valcore.ValidationResult) error {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("failed to marshal cache value", "error", err, "key", key)
		return ErrSerialization("marshal failed", err)
	}

	if c.compression {
		data, err = c.compress(data)
		if err != nil {
			c.logger.Error("failed to compress cache value", "error", err, "key", key)
			return ErrSerialization("compression failed", err)
		}
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Error("failed to set L2 cache", "error", err, "key", key)
		return ErrConnectionFailed
	}
	return nil
}

// Delete removes key from Redis.
func (c *L2Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		c.logger.Error("failed to delete L2 cache key", "error", err, "key", key)
		return ErrConnectionFailed
	}
	return nil
}

// DeletePattern removes all keys matching pattern via incremental SCAN.
func (c *L2Cache) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	var deleted int

	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.logger.Error("failed to scan keys", "error", err, "pattern", pattern)
			return ErrConnectionFailed
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.logger.Error("failed to delete keys", "error", err, "pattern", pattern)
				return ErrConnectionFailed
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Info("invalidated cache pattern", "pattern", pattern, "deleted_count", deleted)
	return nil
}

func (c *L2Cache) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *L2Cache) decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Close closes the Redis connection.
func (c *L2Cache) Close() error {
	return c.client.Close()
}

// Ping checks Redis connectivity.
func (c *L2Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
