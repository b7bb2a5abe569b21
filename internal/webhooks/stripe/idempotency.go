package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultGuardScope = "stripe_event"

	// InFlightTTL bounds how long a crashed attempt can hide an event from
	// redeliveries.
	InFlightTTL = time.Minute

	markInFlight = "processing"
	markDone     = "done"
)

// Claim is the result of EventGuard.Claim.
type Claim int

const (
	// ClaimAcquired means the caller owns the event and must Complete or Release it.
	ClaimAcquired Claim = iota
	// ClaimInFlight means another attempt is running or died within InFlightTTL.
	ClaimInFlight
	// ClaimDone means the event was already reconciled.
	ClaimDone
)

// MarkStore is the Redis surface of pkg/redis.Client the guard needs.
type MarkStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// EventGuard marks provider event ids so redeliveries short-circuit before
// touching the database. A claim is held briefly while the event is handled
// and only kept for the full ttl once it succeeded. The order state machine
// stays the source of truth; the guard only saves work.
type EventGuard struct {
	store MarkStore
	ttl   time.Duration
	scope string
}

func NewEventGuard(store MarkStore, ttl time.Duration) (*EventGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("event ttl must be positive")
	}
	return &EventGuard{store: store, ttl: ttl, scope: DefaultGuardScope}, nil
}

// Claim takes the in-flight mark for eventID, or reports who holds it.
func (g *EventGuard) Claim(ctx context.Context, eventID string) (Claim, error) {
	key, err := g.key(eventID)
	if err != nil {
		return ClaimInFlight, err
	}
	claimed, err := g.store.SetNX(ctx, key, markInFlight, InFlightTTL)
	if err != nil {
		return ClaimInFlight, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if claimed {
		return ClaimAcquired, nil
	}
	// a mark that vanished between the two calls is treated as in flight;
	// the provider retries and the next attempt claims it
	if mark, err := g.store.Get(ctx, key); err == nil && mark == markDone {
		return ClaimDone, nil
	}
	return ClaimInFlight, nil
}

// Complete keeps the mark for the full ttl after a successful reconcile.
func (g *EventGuard) Complete(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Set(ctx, key, markDone, g.ttl)
}

// Release drops the mark after a failed attempt so the redelivery runs.
func (g *EventGuard) Release(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *EventGuard) key(eventID string) (string, error) {
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(g.scope, eventID), nil
}
