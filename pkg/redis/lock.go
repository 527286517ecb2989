package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Lock is a held run lock.
type Lock struct {
	client *Client
	key    string
	token  string
}

// Locker hands out exclusive, TTL-bound locks.
type Locker struct {
	client *Client
}

// NewLocker creates a new Locker
func NewLocker(client *Client) *Locker {
	return &Locker{client: client}
}

// Acquire takes the lock without waiting. It returns ErrLockNotAcquired when
// another holder owns it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := l.client.Key(key)
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)

	return &Lock{client: l.client, key: lockKey, token: token}, nil
}

// Release frees the lock if this holder still owns it.
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}
