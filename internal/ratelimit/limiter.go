// Package ratelimit implements a fixed-window request counter keyed by
// (prefix, client key) over an injected bucket store.
//
// With the in-memory store every process enforces its own window, so N
// instances admit up to N times the configured rate. Use the Redis store
// when the limit has to hold across instances.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Bucket is the per-key window state.
type Bucket struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Store persists buckets. Implementations need not be atomic across
// processes; the Limiter serializes access within one process.
type Store interface {
	Get(ctx context.Context, key string) (Bucket, bool, error)
	Set(ctx context.Context, key string, bucket Bucket, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Config is one named limiter class.
type Config struct {
	Prefix      string
	Window      time.Duration
	MaxRequests int
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Prefix) == "" {
		return errors.New("rate limit prefix is required")
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit %q: window must be positive", c.Prefix)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("rate limit %q: max requests must be positive", c.Prefix)
	}
	return nil
}

// Result reports the decision for one call. RetryAfter is in whole seconds
// and only set when the call is denied.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}

type Limiter struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(store Store, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts one request for key under cfg.
func (l *Limiter) Check(ctx context.Context, key string, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	storeKey := bucketKey(cfg.Prefix, key)
	now := l.now()

	bucket, found, err := l.store.Get(ctx, storeKey)
	if err != nil {
		return Result{}, fmt.Errorf("load rate limit bucket: %w", err)
	}

	if !found || now.After(bucket.ResetAt) {
		bucket = Bucket{Count: 1, ResetAt: now.Add(cfg.Window)}
		if err := l.store.Set(ctx, storeKey, bucket, cfg.Window); err != nil {
			return Result{}, fmt.Errorf("save rate limit bucket: %w", err)
		}
		return Result{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests - 1,
			ResetAt:   bucket.ResetAt,
		}, nil
	}

	bucket.Count++
	if err := l.store.Set(ctx, storeKey, bucket, ttlUntil(now, bucket.ResetAt)); err != nil {
		return Result{}, fmt.Errorf("save rate limit bucket: %w", err)
	}

	if bucket.Count > cfg.MaxRequests {
		return Result{
			Allowed:    false,
			Limit:      cfg.MaxRequests,
			Remaining:  0,
			ResetAt:    bucket.ResetAt,
			RetryAfter: int(math.Ceil(bucket.ResetAt.Sub(now).Seconds())),
		}, nil
	}

	return Result{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: cfg.MaxRequests - bucket.Count,
		ResetAt:   bucket.ResetAt,
	}, nil
}

// Reset forgets the bucket for key.
func (l *Limiter) Reset(ctx context.Context, key string, cfg Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Delete(ctx, bucketKey(cfg.Prefix, key))
}

func bucketKey(prefix, key string) string {
	return prefix + ":" + key
}

func ttlUntil(now, resetAt time.Time) time.Duration {
	ttl := resetAt.Sub(now)
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}
