package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront/pkg/enums"
)

// StockMovement is an append-only ledger row. StockAfter equals the product
// stock at the moment the row was committed.
type StockMovement struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	ProductID   uuid.UUID               `gorm:"column:product_id;type:uuid;not null"`
	Quantity    int                     `gorm:"column:quantity;not null"`
	Type        enums.StockMovementType `gorm:"column:type;type:stock_movement_type;not null"`
	Reason      *string                 `gorm:"column:reason"`
	StockBefore int                     `gorm:"column:stock_before;not null"`
	StockAfter  int                     `gorm:"column:stock_after;not null"`
	OrderID     *uuid.UUID              `gorm:"column:order_id;type:uuid"`
	ActorID     *string                 `gorm:"column:actor_id"`
	CreatedAt   time.Time               `gorm:"column:created_at"`
}

func (m *StockMovement) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
