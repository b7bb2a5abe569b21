package stripewebhook

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mark struct {
	value string
	ttl   time.Duration
}

type memoryMarks struct {
	mu   sync.Mutex
	keys map[string]mark
}

func newMemoryMarks() *memoryMarks {
	return &memoryMarks{keys: map[string]mark{}}
}

func (m *memoryMarks) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	got, ok := m.keys[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return got.value, nil
}

func (m *memoryMarks) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = mark{value: value.(string), ttl: ttl}
	return nil
}

func (m *memoryMarks) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = mark{value: value.(string), ttl: ttl}
	return true, nil
}

func (m *memoryMarks) IdempotencyKey(scope, id string) string {
	return strings.Join([]string{"sf", "idempotency", scope, id}, ":")
}

func (m *memoryMarks) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

const evtKey = "sf:idempotency:stripe_event:evt_1"

func TestEventGuardHoldsShortMarkUntilComplete(t *testing.T) {
	store := newMemoryMarks()
	guard, err := NewEventGuard(store, 72*time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	claim, err := guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, claim)
	assert.Equal(t, mark{value: markInFlight, ttl: InFlightTTL}, store.keys[evtKey])

	claim, err = guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimInFlight, claim)

	require.NoError(t, guard.Complete(ctx, "evt_1"))
	assert.Equal(t, mark{value: markDone, ttl: 72 * time.Hour}, store.keys[evtKey])

	claim, err = guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimDone, claim)
}

func TestEventGuardReleaseLetsRedeliveryClaim(t *testing.T) {
	guard, err := NewEventGuard(newMemoryMarks(), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	claim, err := guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, claim)
	require.NoError(t, guard.Release(ctx, "evt_1"))

	claim, err = guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, claim)

	_, err = guard.Claim(ctx, "")
	assert.Error(t, err)
	assert.Error(t, guard.Complete(ctx, ""))
}

func TestNewEventGuardValidates(t *testing.T) {
	_, err := NewEventGuard(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewEventGuard(newMemoryMarks(), 0)
	assert.Error(t, err)
}
