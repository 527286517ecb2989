package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fartrucking/far-warehousing/pkg/redis"
)

// ErrRunInProgress is returned when another run holds the lock.
var ErrRunInProgress = errors.New("a run is already in progress")

const runLockKey = "run:lock"

// RunLock keeps runs over the same bucket from overlapping. The local mutex
// always applies; the Redis lock is added when a locker is configured.
type RunLock struct {
	mu     sync.Mutex
	held   bool
	locker *redis.Locker
	ttl    time.Duration
}

func NewRunLock(locker *redis.Locker, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RunLock{locker: locker, ttl: ttl}
}

// Acquire takes the lock and returns its release function.
func (l *RunLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	l.mu.Lock()
	if l.held {
		l.mu.Unlock()
		return nil, ErrRunInProgress
	}
	l.held = true
	l.mu.Unlock()

	releaseLocal := func() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}

	if l.locker == nil {
		return func(context.Context) error {
			releaseLocal()
			return nil
		}, nil
	}

	lock, err := l.locker.Acquire(ctx, runLockKey, l.ttl)
	if err != nil {
		releaseLocal()
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return nil, ErrRunInProgress
		}
		return nil, err
	}
	return func(ctx context.Context) error {
		defer releaseLocal()
		return lock.Release(ctx)
	}, nil
}
