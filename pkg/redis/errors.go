package redis

import "errors"

var (
	// ErrNil is returned when a key does not exist
	ErrNil = errors.New("redis: key not found")

	// ErrLockNotAcquired is returned when a lock is held by someone else
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrLockNotHeld is returned when releasing a lock that expired or changed owner
	ErrLockNotHeld = errors.New("lock not held")
)
