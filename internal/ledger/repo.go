package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront/pkg/db/models"
)

// Repository is the persistence surface of the ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	CompareAndSetStock(ctx context.Context, id uuid.UUID, expected, next int, at time.Time) (bool, error)
	InsertMovement(ctx context.Context, movement *models.StockMovement) error
	ListMovements(ctx context.Context, productID uuid.UUID, filter HistoryFilter, after *historyCursor, limit int) ([]models.StockMovement, error)
	SumMovements(ctx context.Context, productID uuid.UUID) (int, error)
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ListLowStock(ctx context.Context, threshold int) ([]models.Product, error)
	ListStockLevels(ctx context.Context) ([]models.Product, error)
}

type historyCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockProduct reads the product row FOR UPDATE. Missing rows return
// gorm.ErrRecordNotFound.
func (r *repository) LockProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// CompareAndSetStock writes next only while the row still holds expected.
func (r *repository) CompareAndSetStock(ctx context.Context, id uuid.UUID, expected, next int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock = ?", id, expected).
		Updates(map[string]any{"stock": next, "updated_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertMovement(ctx context.Context, movement *models.StockMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

// ListMovements returns one page of history ordered by (created_at, id)
// descending, starting strictly after the cursor.
func (r *repository) ListMovements(ctx context.Context, productID uuid.UUID, filter HistoryFilter, after *historyCursor, limit int) ([]models.StockMovement, error) {
	q := r.db.WithContext(ctx).Where("product_id = ?", productID)
	if len(filter.Types) > 0 {
		q = q.Where("type IN ?", filter.Types)
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", filter.Since.UTC())
	}
	if filter.Until != nil {
		q = q.Where("created_at <= ?", filter.Until.UTC())
	}
	if after != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", after.CreatedAt, after.CreatedAt, after.ID)
	}

	var rows []models.StockMovement
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) SumMovements(ctx context.Context, productID uuid.UUID) (int, error) {
	var sum int
	err := r.db.WithContext(ctx).
		Model(&models.StockMovement{}).
		Where("product_id = ?", productID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&sum).Error
	return sum, err
}

func (r *repository) ListLowStock(ctx context.Context, threshold int) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).
		Where("stock <= ?", threshold).
		Order("stock ASC").
		Order("name ASC").
		Find(&products).Error
	return products, err
}

func (r *repository) ListStockLevels(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).
		Select("id", "price", "stock").
		Find(&products).Error
	return products, err
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
