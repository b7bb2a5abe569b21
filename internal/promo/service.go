// Package promo re-validates discount codes against a server-computed
// subtotal and redeems them with a capped atomic increment.
package promo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
)

// Rejection reasons reported in validation error details.
const (
	ReasonInactive    = "inactive"
	ReasonNotStarted  = "not_started"
	ReasonExpired     = "expired"
	ReasonExhausted   = "usage_limit_reached"
	ReasonMinPurchase = "min_purchase_not_met"
	ReasonNoDiscount  = "no_discount_configured"
)

var hundred = decimal.NewFromInt(100)

// Quote is the outcome of applying a code to a subtotal.
type Quote struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// RejectionDetails accompanies a VALIDATION_ERROR for an unusable code.
type RejectionDetails struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type Service struct {
	repo Repository
	now  func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("promo repository required")
	}
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Normalize trims and upper-cases a user-supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Quote fetches code, re-validates it against subtotal and computes the
// discount. Unknown codes are NOT_FOUND; unusable ones are VALIDATION_ERROR.
func (s *Service) Quote(ctx context.Context, code string, subtotal decimal.Decimal) (*Quote, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo code is required")
	}
	if subtotal.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subtotal cannot be negative")
	}

	promo, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load promo code")
	}
	if promo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "promo code not found")
	}

	if reason := Validate(promo, subtotal, s.now()); reason != "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, rejectionMessage(reason)).
			WithDetails(RejectionDetails{Code: normalized, Reason: reason})
	}

	discount := Discount(promo, subtotal)
	return &Quote{
		Code:     promo.Code,
		Subtotal: subtotal.Round(2),
		Discount: discount,
		Total:    subtotal.Sub(discount).Round(2),
	}, nil
}

// Validate returns the first reason promo cannot be applied, or "".
func Validate(promo *models.PromoCode, subtotal decimal.Decimal, now time.Time) string {
	switch {
	case !promo.IsActive:
		return ReasonInactive
	case promo.ValidFrom != nil && now.Before(*promo.ValidFrom):
		return ReasonNotStarted
	case promo.ValidUntil != nil && now.After(*promo.ValidUntil):
		return ReasonExpired
	case promo.MaxUses != nil && promo.UsedCount >= *promo.MaxUses:
		return ReasonExhausted
	case promo.MinPurchase != nil && subtotal.LessThan(*promo.MinPurchase):
		return ReasonMinPurchase
	case !hasPositive(promo.DiscountPercent) && !hasPositive(promo.DiscountAmount):
		return ReasonNoDiscount
	}
	return ""
}

// Discount computes the amount taken off subtotal. A percentage wins over a
// fixed amount when both are set. The result is rounded to cents and never
// exceeds the subtotal.
func Discount(promo *models.PromoCode, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch {
	case hasPositive(promo.DiscountPercent):
		discount = subtotal.Mul(*promo.DiscountPercent).Div(hundred)
	case hasPositive(promo.DiscountAmount):
		discount = *promo.DiscountAmount
	default:
		return decimal.Zero
	}
	discount = discount.Round(2)
	if discount.GreaterThan(subtotal) {
		discount = subtotal.Round(2)
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

// Redeem records one use of code. A code that hit its cap in the meantime
// is a CONFLICT.
func (s *Service) Redeem(ctx context.Context, code string) error {
	normalized := Normalize(code)
	if normalized == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "promo code is required")
	}
	ok, err := s.repo.IncrementUsage(ctx, normalized, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment promo usage")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "promo code missing or usage limit reached")
	}
	return nil
}

func hasPositive(v *decimal.Decimal) bool {
	return v != nil && v.IsPositive()
}

func rejectionMessage(reason string) string {
	switch reason {
	case ReasonInactive:
		return "promo code is not active"
	case ReasonNotStarted:
		return "promo code is not valid yet"
	case ReasonExpired:
		return "promo code has expired"
	case ReasonExhausted:
		return "promo code usage limit reached"
	case ReasonMinPurchase:
		return "minimum purchase not met for promo code"
	default:
		return "promo code has no discount"
	}
}
