package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	stripewebhook "github.com/angelmondragon/storefront/internal/webhooks/stripe"
	"github.com/angelmondragon/storefront/api/middleware"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
)

const testSecret = "whsec_test"

type fakeEventHandler struct {
	mu         sync.Mutex
	calls      int
	outcome    stripewebhook.Outcome
	err        error
	panicFirst bool
}

func (f *fakeEventHandler) HandleEvent(context.Context, *stripe.Event) (stripewebhook.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panicFirst && f.calls == 1 {
		panic("reconcile blew up")
	}
	return f.outcome, f.err
}

type staticSecret string

func (s staticSecret) SigningSecret() string { return string(s) }

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: map[string]string{}}
}

func (s *inMemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return value, nil
}

func (s *inMemoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (s *inMemoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("sf:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func newGuard(t *testing.T) *stripewebhook.EventGuard {
	t.Helper()
	guard, err := stripewebhook.NewEventGuard(newInMemoryStore(), time.Hour)
	require.NoError(t, err)
	return guard
}

func signedEvent(t *testing.T, secret string) ([]byte, string) {
	t.Helper()
	session, err := json.Marshal(map[string]any{"id": "cs_test_1", "object": "checkout.session", "payment_status": "paid"})
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + uuid.NewString(),
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": json.RawMessage(session)},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})
	return payload, signed.Header
}

func post(handler http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  receipt `json:"data"`
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestStripeWebhookProcessesOnce(t *testing.T) {
	svc := &fakeEventHandler{}
	handler := StripeWebhook(svc, staticSecret(testSecret), newGuard(t), nil)
	payload, header := signedEvent(t, testSecret)

	rec := post(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode(t, rec).Data.Received)

	rec = post(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).Data.Received)
	assert.Equal(t, 1, svc.calls)
}

func TestStripeWebhookReportsWarning(t *testing.T) {
	svc := &fakeEventHandler{outcome: stripewebhook.Outcome{Warning: stripewebhook.WarningInsufficientStock}}
	handler := StripeWebhook(svc, staticSecret(testSecret), newGuard(t), nil)
	payload, header := signedEvent(t, testSecret)

	rec := post(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.True(t, body.Data.Received)
	assert.Equal(t, "insufficient_stock", body.Data.Warning)
}

func TestStripeWebhookRejectsBadSignatures(t *testing.T) {
	svc := &fakeEventHandler{}
	handler := StripeWebhook(svc, staticSecret(testSecret), newGuard(t), nil)
	payload, _ := signedEvent(t, testSecret)
	_, foreign := signedEvent(t, "whsec_other")

	for name, header := range map[string]string{
		"missing": "",
		"garbage": "t=1,v1=deadbeef",
		"foreign": foreign,
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(handler, payload, header)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(pkgerrors.CodeSignature), decode(t, rec).Error.Code)
		})
	}
	assert.Zero(t, svc.calls)
}

func TestStripeWebhookWithoutSecret(t *testing.T) {
	svc := &fakeEventHandler{}
	handler := StripeWebhook(svc, staticSecret(""), newGuard(t), nil)
	payload, header := signedEvent(t, testSecret)

	rec := post(handler, payload, header)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeConfiguration), decode(t, rec).Error.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Zero(t, svc.calls)
}

func TestStripeWebhookReleasesGuardOnFailure(t *testing.T) {
	svc := &fakeEventHandler{err: pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("db down"), "update order status")}
	handler := StripeWebhook(svc, staticSecret(testSecret), newGuard(t), nil)
	payload, header := signedEvent(t, testSecret)

	rec := post(handler, payload, header)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	svc.err = nil
	rec = post(handler, payload, header)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.calls, "redelivery runs after a failed attempt")
}

func TestStripeWebhookRedeliveryRunsAfterPanic(t *testing.T) {
	svc := &fakeEventHandler{panicFirst: true}
	handler := middleware.Recoverer(nil)(StripeWebhook(svc, staticSecret(testSecret), newGuard(t), nil))
	payload, header := signedEvent(t, testSecret)

	rec := post(handler, payload, header)
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

	rec = post(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, svc.calls, "a crashed attempt must not swallow the redelivery")

	rec = post(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.calls, "completed events are still deduplicated")
}

func TestStripeWebhookAsksForRetryWhileInFlight(t *testing.T) {
	store := newInMemoryStore()
	guard, err := stripewebhook.NewEventGuard(store, time.Hour)
	require.NoError(t, err)
	svc := &fakeEventHandler{}
	handler := StripeWebhook(svc, staticSecret(testSecret), guard, nil)
	payload, header := signedEvent(t, testSecret)

	var event struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(payload, &event))
	claim, err := guard.Claim(context.Background(), event.ID)
	require.NoError(t, err)
	require.Equal(t, stripewebhook.ClaimAcquired, claim)

	rec := post(handler, payload, header)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, svc.calls)
}
