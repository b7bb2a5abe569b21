package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront/pkg/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCheckDeniesAfterMaxWithinWindow(t *testing.T) {
	clock := newClock()
	limiter := New(NewMemoryStore(), WithClock(clock.Now))
	cfg := Config{Prefix: "test", Window: 60 * time.Second, MaxRequests: 5}
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := limiter.Check(ctx, "client-a", cfg)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
		assert.Equal(t, 5-i, res.Remaining)
		assert.Equal(t, 5, res.Limit)
	}

	clock.Advance(10 * time.Second)
	res, err := limiter.Check(ctx, "client-a", cfg)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 50, res.RetryAfter)

	clock.Advance(51 * time.Second)
	res, err = limiter.Check(ctx, "client-a", cfg)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestCheckRetryAfterRoundsUp(t *testing.T) {
	clock := newClock()
	limiter := New(NewMemoryStore(), WithClock(clock.Now))
	cfg := Config{Prefix: "test", Window: 10 * time.Second, MaxRequests: 1}
	ctx := context.Background()

	_, err := limiter.Check(ctx, "k", cfg)
	require.NoError(t, err)
	clock.Advance(1500 * time.Millisecond)

	res, err := limiter.Check(ctx, "k", cfg)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 9, res.RetryAfter)
}

func TestCheckKeysAreIndependent(t *testing.T) {
	limiter := New(NewMemoryStore())
	cfg := Config{Prefix: "test", Window: time.Minute, MaxRequests: 1}
	ctx := context.Background()

	first, err := limiter.Check(ctx, "a", cfg)
	require.NoError(t, err)
	second, err := limiter.Check(ctx, "b", cfg)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.True(t, second.Allowed)

	other := Config{Prefix: "other", Window: time.Minute, MaxRequests: 1}
	res, err := limiter.Check(ctx, "a", other)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "prefixes keep separate buckets")
}

func TestCheckRejectsInvalidConfig(t *testing.T) {
	limiter := New(nil)
	_, err := limiter.Check(context.Background(), "k", Config{Prefix: "x", Window: 0, MaxRequests: 1})
	require.Error(t, err)
	_, err = limiter.Check(context.Background(), "k", Config{Window: time.Second, MaxRequests: 1})
	require.Error(t, err)
}

func TestResetClearsBucket(t *testing.T) {
	limiter := New(NewMemoryStore())
	cfg := Config{Prefix: "test", Window: time.Minute, MaxRequests: 1}
	ctx := context.Background()

	_, _ = limiter.Check(ctx, "k", cfg)
	res, _ := limiter.Check(ctx, "k", cfg)
	require.False(t, res.Allowed)

	require.NoError(t, limiter.Reset(ctx, "k", cfg))
	res, err := limiter.Check(ctx, "k", cfg)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckConcurrentCallsNeverOverAdmit(t *testing.T) {
	limiter := New(NewMemoryStore())
	cfg := Config{Prefix: "test", Window: time.Minute, MaxRequests: 20}
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Check(ctx, "shared", cfg)
			if err != nil || !res.Allowed {
				return
			}
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, allowed)
}

type erroringStore struct{}

func (erroringStore) Get(context.Context, string) (Bucket, bool, error) {
	return Bucket{}, false, errors.New("store down")
}
func (erroringStore) Set(context.Context, string, Bucket, time.Duration) error { return nil }
func (erroringStore) Delete(context.Context, string) error                   { return nil }

func TestCheckPropagatesStoreErrors(t *testing.T) {
	limiter := New(erroringStore{})
	_, err := limiter.Check(context.Background(), "k", Config{Prefix: "p", Window: time.Second, MaxRequests: 1})
	require.ErrorContains(t, err, "store down")
}

func TestPoliciesFromConfigOverlaysOverrides(t *testing.T) {
	p := PoliciesFromConfig(config.RateLimitConfig{CheckoutMax: 3, AdminWindow: 2 * time.Minute})
	require.NoError(t, p.Validate())

	assert.Equal(t, 3, p.Checkout.MaxRequests)
	assert.Equal(t, time.Minute, p.Checkout.Window)
	assert.Equal(t, 2*time.Minute, p.Admin.Window)
	assert.Equal(t, 100, p.Admin.MaxRequests)
	assert.Equal(t, 5, p.Auth.MaxRequests)
	assert.Equal(t, 15*time.Minute, p.Auth.Window)
	assert.Equal(t, ClassSearch, p.Search.Prefix)
}

type fakeRedisKV struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeRedisKV() *fakeRedisKV {
	return &fakeRedisKV{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedisKV) Get(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeRedisKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeRedisKV) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func (f *fakeRedisKV) RateLimitKey(scope, key string) string {
	return "sf:rate_limit:" + scope + key
}

func TestRedisStoreRoundTripsBuckets(t *testing.T) {
	kv := newFakeRedisKV()
	clock := newClock()
	limiter := New(NewRedisStore(kv), WithClock(clock.Now))
	cfg := Config{Prefix: "checkout", Window: time.Minute, MaxRequests: 2}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Check(ctx, "user-1", cfg)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := limiter.Check(ctx, "user-1", cfg)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	require.Contains(t, kv.values, "sf:rate_limit:checkout:user-1")
	assert.Equal(t, time.Minute, kv.ttls["sf:rate_limit:checkout:user-1"])
}
