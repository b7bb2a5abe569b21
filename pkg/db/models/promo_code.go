package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PromoCode is a discount code. Code is stored upper-case.
type PromoCode struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Code            string           `gorm:"column:code;not null;uniqueIndex"`
	DiscountPercent *decimal.Decimal `gorm:"column:discount_percent;type:numeric(5,2)"`
	DiscountAmount  *decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2)"`
	MinPurchase     *decimal.Decimal `gorm:"column:min_purchase;type:numeric(12,2)"`
	MaxUses         *int             `gorm:"column:max_uses"`
	UsedCount       int              `gorm:"column:used_count;not null;default:0"`
	ValidFrom       *time.Time       `gorm:"column:valid_from"`
	ValidUntil      *time.Time       `gorm:"column:valid_until"`
	IsActive        bool             `gorm:"column:is_active;not null"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PromoCode) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
