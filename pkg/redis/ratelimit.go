package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	RetryIn   time.Duration
}

// RateLimiter is a sliding-window limiter shared by every instance talking to
// the same remote organization.
type RateLimiter struct {
	client *Client
}

// NewRateLimiter creates a new RateLimiter
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

var slidingWindowScript = goredis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call("zremrangebyscore", key, "-inf", window_start)
	local current = redis.call("zcard", key)

	if current < limit then
		redis.call("zadd", key, now, now .. "-" .. math.random())
		redis.call("pexpire", key, window_ms)
		return {1, limit - current - 1}
	end

	local oldest = redis.call("zrange", key, 0, 0, "WITHSCORES")
	if #oldest > 0 then
		return {0, 0, oldest[2]}
	end
	return {0, 0, 0}
`)

func (r *RateLimiter) windowKey(key string) string {
	return r.client.Key("ratelimit:" + key)
}

func (r *RateLimiter) blockKey(key string) string {
	return "ratelimit:" + key + ":block"
}

// BlockFor blocks a key for d, used when the remote API answers 429.
func (r *RateLimiter) BlockFor(ctx context.Context, key string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.blockKey(key), "1", d)
}

// IsBlocked returns whether the key is blocked and for how long.
func (r *RateLimiter) IsBlocked(ctx context.Context, key string) (bool, time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.blockKey(key))
	if err != nil {
		return false, 0, err
	}
	// -2 means the key is missing
	if ttl == -2 || ttl == 0 {
		return false, 0, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	return true, ttl, nil
}

// Allow records one call against key if fewer than limit calls happened in the last window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	now := time.Now()

	if blocked, ttl, err := r.IsBlocked(ctx, key); err == nil && blocked {
		return &RateLimitResult{Allowed: false, RetryIn: ttl}, nil
	}

	result, err := slidingWindowScript.Run(ctx, r.client.rdb, []string{r.windowKey(key)},
		now.UnixMilli(),
		now.Add(-window).UnixMilli(),
		limit,
		window.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}

	allowedFlag, err := toInt64(result[0])
	if err != nil {
		return nil, err
	}
	remaining, err := toInt64(result[1])
	if err != nil {
		return nil, err
	}

	res := &RateLimitResult{Allowed: allowedFlag == 1, Remaining: remaining}
	if !res.Allowed && len(result) > 2 {
		oldestMs, err := toInt64(result[2])
		if err != nil {
			return nil, err
		}
		if oldestMs > 0 {
			res.RetryIn = time.UnixMilli(oldestMs).Add(window).Sub(now)
		}
	}
	return res, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(n, 64)
			if ferr != nil {
				return 0, err
			}
			return int64(f), nil
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
