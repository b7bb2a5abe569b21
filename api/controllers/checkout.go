package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront/api/middleware"
	"github.com/angelmondragon/storefront/api/responses"
	"github.com/angelmondragon/storefront/api/validators"
	checkoutsvc "github.com/angelmondragon/storefront/internal/checkout"
	"github.com/angelmondragon/storefront/internal/orders"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
)

const maxPromoCodeLength = 64

type checkoutRunner interface {
	Execute(ctx context.Context, input checkoutsvc.Input) (*checkoutsvc.Result, error)
}

// Checkout turns the caller's cart into a pending order and a hosted payment
// session. Prices and names sent by the client are accepted for schema
// compatibility and then ignored.
func Checkout(svc checkoutRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(ctx)
		if userID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Execute(ctx, checkoutsvc.Input{
			CustomerID:    userID,
			CustomerEmail: middleware.EmailFromContext(ctx),
			Items:         payload.lineItems(),
			PromoCode:     validators.SanitizeString(payload.PromoCode, maxPromoCodeLength),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			URL:      result.URL,
			OrderID:  result.OrderID,
			Subtotal: result.Subtotal,
			Discount: result.Discount,
			Total:    result.Total,
		})
	}
}

type checkoutRequest struct {
	Items     []checkoutItem `json:"items" validate:"required,min=1,max=100,dive"`
	PromoCode string         `json:"promoCode,omitempty" validate:"omitempty,max=64,promocode"`
}

type checkoutItem struct {
	ID          uuid.UUID        `json:"id" validate:"required"`
	Quantity    int              `json:"quantity" validate:"required,gt=0,max=1000"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Image       *string          `json:"image,omitempty"`
}

func (c checkoutRequest) lineItems() []orders.LineItem {
	items := make([]orders.LineItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, orders.LineItem{ProductID: item.ID, Quantity: item.Quantity})
	}
	return items
}

type checkoutResponse struct {
	URL      string          `json:"url"`
	OrderID  uuid.UUID       `json:"orderId"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}
