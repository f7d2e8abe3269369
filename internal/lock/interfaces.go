// Package lock serializes work on shared quill state. Account changes and
// the expired secret sweep take a named lock so concurrent requests, or
// several server replicas, never interleave their read-modify-write cycles.
//
// A single process uses MemoryLocker; replicas sharing a database share a
// RedisLocker.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned by Do when the lock stayed held by another
// owner for every attempt.
var ErrNotAcquired = errors.New("lock is held by another owner")

// Locker grants exclusive, expiring ownership of named keys.
type Locker interface {
	// Acquire takes key for ttl. It reports false when key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AcquireWithRetry calls Acquire up to maxRetries more times, waiting
	// retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release gives key up. It reports false when key was not held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend pushes the expiry of a held key out to ttl from now.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld reports whether key is currently held by anyone.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Policy controls how Do waits for a lock.
type Policy struct {
	// TTL bounds how long the lock survives an owner that never releases it.
	TTL time.Duration

	// Retries is the number of extra acquire attempts.
	Retries int

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// AccountPolicy is used for every change to a single account row. It
// covers an SMTP round trip made while the lock is held.
var AccountPolicy = Policy{TTL: 30 * time.Second, Retries: 40, RetryDelay: 50 * time.Millisecond}

// Do runs fn while holding key. The lock is released when fn returns,
// including when ctx has been cancelled.
func Do(ctx context.Context, l Locker, key string, p Policy, fn func(ctx context.Context) error) error {
	acquired, err := l.AcquireWithRetry(ctx, key, p.TTL, p.Retries, p.RetryDelay)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrNotAcquired
	}
	// A failed release is recovered by TTL expiry.
	defer func() { _, _ = l.Release(context.WithoutCancel(ctx), key) }()

	return fn(ctx)
}

// Keys builds the lock names used across quill.
var Keys = lockKeys{}

type lockKeys struct{}

// SecretSweep is held by the one instance clearing expired secrets.
func (lockKeys) SecretSweep() string {
	return "lock:sweep:secrets"
}

// Account is held while one account row is read, changed and written back.
func (lockKeys) Account(userID string) string {
	return "lock:account:" + userID
}
