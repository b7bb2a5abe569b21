package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront/pkg/db/models"
	"github.com/angelmondragon/storefront/pkg/enums"
)

type ProductDTO struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	ImageURL *string         `json:"imageUrl,omitempty"`
}

type MovementDTO struct {
	ID          uuid.UUID               `json:"id"`
	ProductID   uuid.UUID               `json:"productId"`
	Type        enums.StockMovementType `json:"type"`
	Quantity    int                     `json:"quantity"`
	StockBefore int                     `json:"stockBefore"`
	StockAfter  int                     `json:"stockAfter"`
	Reason      *string                 `json:"reason,omitempty"`
	OrderID     *uuid.UUID              `json:"orderId,omitempty"`
	ActorID     *string                 `json:"actorId,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
}

func ToProductDTO(p models.Product) ProductDTO {
	return ProductDTO{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock, ImageURL: p.ImageURL}
}

func ToProductDTOs(products []models.Product) []ProductDTO {
	out := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		out = append(out, ToProductDTO(p))
	}
	return out
}

func ToMovementDTO(m models.StockMovement) MovementDTO {
	return MovementDTO{
		ID:          m.ID,
		ProductID:   m.ProductID,
		Type:        m.Type,
		Quantity:    m.Quantity,
		StockBefore: m.StockBefore,
		StockAfter:  m.StockAfter,
		Reason:      m.Reason,
		OrderID:     m.OrderID,
		ActorID:     m.ActorID,
		CreatedAt:   m.CreatedAt,
	}
}

func ToMovementDTOs(movements []models.StockMovement) []MovementDTO {
	out := make([]MovementDTO, 0, len(movements))
	for _, m := range movements {
		out = append(out, ToMovementDTO(m))
	}
	return out
}
