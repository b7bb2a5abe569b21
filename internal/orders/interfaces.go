package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront/internal/ledger"
	"github.com/angelmondragon/storefront/pkg/db/models"
	"github.com/angelmondragon/storefront/pkg/pagination"
)

// Repository defines persistence operations for orders and the product rows
// they reserve against.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindByPaymentRef(ctx context.Context, paymentRef string, forUpdate bool) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindProducts(ctx context.Context, ids []uuid.UUID, forUpdate bool) ([]models.Product, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.Order, error)
	ListOrders(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// StockMover applies ledger movements inside an order transaction.
type StockMover interface {
	RecordMovementTx(ctx context.Context, tx *gorm.DB, input ledger.MovementInput) (*ledger.MovementResult, error)
	Observe(ctx context.Context, result *ledger.MovementResult)
}
