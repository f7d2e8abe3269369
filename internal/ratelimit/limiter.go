// Package ratelimit provides a fixed-window attempt limiter over repository.Cache.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prn-tf/quill/internal/repository"
)

// ErrLimitExceeded indicates the caller exhausted the attempts of the current window.
var ErrLimitExceeded = errors.New("too many attempts, please try again later")

// Config bounds the attempts per key per window.
type Config struct {
	Enabled  bool
	Attempts int
	Window   time.Duration
}

// Result describes one counted attempt.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts attempts per key. Keys are namespaced with Scope.
type Limiter struct {
	cache  repository.Cache
	scope  string
	config Config
}

// New creates a limiter for scope, for example "login".
func New(cache repository.Cache, scope string, cfg Config) *Limiter {
	return &Limiter{cache: cache, scope: scope, config: cfg}
}

// Scope returns the limiter scope.
func (l *Limiter) Scope() string {
	return l.scope
}

func (l *Limiter) key(k string) string {
	return "ratelimit:" + l.scope + ":" + k
}

// Hit counts one attempt for key.
func (l *Limiter) Hit(ctx context.Context, key string) (Result, error) {
	if l == nil || !l.config.Enabled || l.config.Attempts <= 0 {
		return Result{Allowed: true, Remaining: -1}, nil
	}

	n, err := l.cache.Increment(ctx, l.key(key), l.config.Window)
	if err != nil {
		return Result{}, fmt.Errorf("failed to count attempt: %w", err)
	}

	if n <= int64(l.config.Attempts) {
		return Result{Allowed: true, Remaining: l.config.Attempts - int(n)}, nil
	}

	retry, err := l.cache.TTL(ctx, l.key(key))
	if err != nil || retry < 0 {
		retry = l.config.Window
	}
	return Result{Allowed: false, RetryAfter: retry}, nil
}

// Reset clears the attempts for key, typically after a success.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	return l.cache.Delete(ctx, l.key(key))
}
