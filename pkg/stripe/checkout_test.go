package stripe

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront/pkg/config"
)

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(1999), ToCents(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1000), ToCents(decimal.RequireFromString("10")))
	assert.Equal(t, int64(1235), ToCents(decimal.RequireFromString("12.345")))
	assert.True(t, FromCents(1999).Equal(decimal.RequireFromString("19.99")))
}

func TestBuildSessionParams(t *testing.T) {
	params, err := BuildSessionParams(SessionRequest{
		OrderID:       "order-1",
		CustomerID:    "user-1",
		CustomerEmail: "a@example.com",
		Currency:      "USD",
		PromoCode:     "SAVE10",
		SuccessURL:    "https://shop.test/ok",
		CancelURL:     "https://shop.test/cart",
		Lines: []SessionLine{
			{Name: "Mug", UnitPrice: decimal.RequireFromString("12.50"), Quantity: 2},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *params.Mode)
	assert.Equal(t, "order-1", *params.ClientReferenceID)
	assert.Equal(t, "a@example.com", *params.CustomerEmail)
	require.Len(t, params.LineItems, 1)
	assert.Equal(t, int64(1250), *params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "usd", *params.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(2), *params.LineItems[0].Quantity)
	assert.Equal(t, "order-1", params.Metadata[MetadataOrderID])
	assert.Equal(t, "SAVE10", params.Metadata[MetadataPromoCode])
	assert.Equal(t, "user-1", params.PaymentIntentData.Metadata[MetadataCustomerID])
	assert.Nil(t, params.Discounts)
}

func TestBuildSessionParamsRejectsEmpty(t *testing.T) {
	_, err := BuildSessionParams(SessionRequest{Currency: "usd"})
	require.Error(t, err)

	_, err = BuildSessionParams(SessionRequest{Lines: []SessionLine{{Name: "x", Quantity: 1}}})
	require.Error(t, err)
}

func TestNewClientChecksKeyAgainstMode(t *testing.T) {
	ctx := context.Background()

	client, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_123", Secret: " whsec_1 "}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test", client.Mode())
	assert.Equal(t, "whsec_1", client.SigningSecret())

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_live_123"}, nil)
	require.Error(t, err, "live key in test mode")

	client, err = NewClient(ctx, config.StripeConfig{APIKey: "rk_live_123", Env: "LIVE"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "live", client.Mode())
	assert.Empty(t, client.SigningSecret())

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_test_123", Env: "staging"}, nil)
	require.Error(t, err)

	_, err = NewClient(ctx, config.StripeConfig{}, nil)
	require.ErrorIs(t, err, errMissingAPIKey)
}
