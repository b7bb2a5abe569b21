package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/coupon"
)

// Metadata keys attached to every checkout session so webhook handlers can
// recover the order context.
const (
	MetadataOrderID    = "order_id"
	MetadataPromoCode  = "promo_code"
	MetadataCustomerID = "customer_id"
)

var hundred = decimal.NewFromInt(100)

// ToCents converts a currency amount into Stripe's minor units.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Round(2).Mul(hundred).IntPart()
}

// FromCents converts Stripe minor units back into a currency amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// SessionLine is one priced line of a checkout session.
type SessionLine struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// SessionRequest carries the server-computed checkout for the payment provider.
type SessionRequest struct {
	OrderID       string
	CustomerID    string
	CustomerEmail string
	Currency      string
	Lines         []SessionLine
	Discount      decimal.Decimal
	PromoCode     string
	SuccessURL    string
	CancelURL     string
}

// Session is the provider's reply: the external reference and redirect target.
type Session struct {
	ID  string
	URL string
}

// CheckoutSessions creates and expires hosted Stripe Checkout sessions.
type CheckoutSessions struct {
	client *Client
}

func NewCheckoutSessions(client *Client) *CheckoutSessions {
	return &CheckoutSessions{client: client}
}

// Create opens a payment-mode session. A positive discount is attached as a
// single-use coupon so the charged total equals subtotal minus discount.
func (c *CheckoutSessions) Create(ctx context.Context, req SessionRequest) (*Session, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("stripe client not initialized")
	}

	params, err := BuildSessionParams(req)
	if err != nil {
		return nil, err
	}
	params.Context = ctx

	if cents := ToCents(req.Discount); cents > 0 {
		couponParams := &stripe.CouponParams{
			AmountOff:      stripe.Int64(cents),
			Currency:       stripe.String(req.Currency),
			Duration:       stripe.String(string(stripe.CouponDurationOnce)),
			MaxRedemptions: stripe.Int64(1),
			Name:           stripe.String(couponName(req.PromoCode)),
		}
		couponParams.Context = ctx
		created, err := coupon.New(couponParams)
		if err != nil {
			return nil, fmt.Errorf("create stripe coupon: %w", err)
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(created.ID)}}
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// Expire closes an open session so it can no longer be paid.
func (c *CheckoutSessions) Expire(ctx context.Context, sessionID string) error {
	if c == nil || c.client == nil {
		return errors.New("stripe client not initialized")
	}
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := session.Expire(sessionID, params); err != nil {
		return fmt.Errorf("expire checkout session: %w", err)
	}
	return nil
}

// Status reports whether a session is open, complete or expired.
func (c *CheckoutSessions) Status(ctx context.Context, sessionID string) (stripe.CheckoutSessionStatus, error) {
	if c == nil || c.client == nil {
		return "", errors.New("stripe client not initialized")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := session.Get(sessionID, params)
	if err != nil {
		return "", fmt.Errorf("fetch checkout session: %w", err)
	}
	return sess.Status, nil
}

// BuildSessionParams maps a request onto Stripe's parameters without the
// discount coupon, which needs an API round trip.
func BuildSessionParams(req SessionRequest) (*stripe.CheckoutSessionParams, error) {
	if len(req.Lines) == 0 {
		return nil, errors.New("at least one line is required")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, errors.New("currency is required")
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines))
	for _, line := range req.Lines {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(ToCents(line.UnitPrice)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
			},
			Quantity: stripe.Int64(int64(line.Quantity)),
		})
	}

	metadata := map[string]string{
		MetadataOrderID:    req.OrderID,
		MetadataCustomerID: req.CustomerID,
	}
	if req.PromoCode != "" {
		metadata[MetadataPromoCode] = req.PromoCode
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	return params, nil
}

func couponName(code string) string {
	if code == "" {
		return "Storefront discount"
	}
	return "Promo " + code
}
