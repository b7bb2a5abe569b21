package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront/pkg/db/models"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
)

// LineItem is a requested product and quantity.
type LineItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// Availability is the result of a lock-free stock check. Products holds the
// rows that were read so callers can price from the same snapshot.
type Availability struct {
	Available         bool
	InsufficientItems []pkgerrors.StockShortfall
	Products          map[uuid.UUID]models.Product
}

// OrderLine is a priced line supplied at order creation.
type OrderLine struct {
	ProductID   uuid.UUID
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// CreateOrderInput carries server-computed totals. They are stored as given.
type CreateOrderInput struct {
	OrderID       uuid.UUID
	PaymentRef    string
	Items         []OrderLine
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	CustomerEmail string
	CustomerID    string
	PromoCode     *string
}

// Transition reports the order after UpdateOrderStatus and whether the call
// changed anything.
type Transition struct {
	Order   *models.Order
	Applied bool
}

// TransitionConflictDetails accompanies STATE_CONFLICT.
type TransitionConflictDetails struct {
	From enums.OrderStatus `json:"from"`
	To   enums.OrderStatus `json:"to"`
}

type ListFilter struct {
	Status     *enums.OrderStatus
	CustomerID string
}

// OrderDTO is the public shape of an order.
type OrderDTO struct {
	ID             uuid.UUID         `json:"id"`
	Status         enums.OrderStatus `json:"status"`
	PaymentRef     string            `json:"paymentRef"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	DiscountAmount decimal.Decimal   `json:"discountAmount"`
	TotalAmount    decimal.Decimal   `json:"totalAmount"`
	PromoCode      *string           `json:"promoCode,omitempty"`
	CustomerEmail  string            `json:"customerEmail"`
	PaidAt         *time.Time        `json:"paidAt,omitempty"`
	CancelledAt    *time.Time        `json:"cancelledAt,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	Items          []OrderItemDTO    `json:"items"`
}

type OrderItemDTO struct {
	ProductID   uuid.UUID       `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

func ToDTO(order *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:             order.ID,
		Status:         order.Status,
		PaymentRef:     order.PaymentRef,
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		TotalAmount:    order.TotalAmount,
		PromoCode:      order.PromoCode,
		CustomerEmail:  order.CustomerEmail,
		PaidAt:         order.PaidAt,
		CancelledAt:    order.CancelledAt,
		CreatedAt:      order.CreatedAt,
		Items:          make([]OrderItemDTO, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal(),
		})
	}
	return dto
}
