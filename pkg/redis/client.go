// Package redis holds the ephemeral coordination state of a sync run: the
// cached OAuth token, shared rate-limit windows and the run lock.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Client wraps the Redis client with logging and the service key prefix
type Client struct {
	rdb    *redis.Client
	prefix string
	logger ectologger.Logger
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config, logger ectologger.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	logger.Infof("Connected to Redis at %s", cfg.Addr)

	return &Client{
		rdb:    rdb,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key prefixes key with the configured namespace.
func (c *Client) Key(key string) string {
	return c.prefix + key
}

// Get retrieves a value by key. A missing key returns ErrNil.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, c.Key(key)).Result()
	if err == redis.Nil {
		return "", ErrNil
	}
	return val, err
}

// Set sets a value with optional expiration
func (c *Client) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return c.rdb.Set(ctx, c.Key(key), value, expiration).Err()
}

// Del deletes one or more keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.Key(k)
	}
	return c.rdb.Del(ctx, prefixed...).Err()
}

// TTL returns the time to live for a key
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, c.Key(key)).Result()
}
