// Package ledger owns every change to product stock. Each change is a
// single transaction that locks the product row, writes the new quantity with
// a compare-and-set, and appends an immutable movement row.
package ledger

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront/pkg/db/models"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/tracing"
)

const defaultPageSize = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type movementRecorder interface {
	StockMovement(kind string, quantity int)
}

// MovementInput describes one signed stock change.
type MovementInput struct {
	ProductID uuid.UUID
	Quantity  int
	Type      enums.StockMovementType
	Reason    string
	OrderID   *uuid.UUID
	ActorID   string
}

type MovementResult struct {
	Movement models.StockMovement
	Product  models.Product
}

// HistoryFilter narrows StockHistory. PageSize only controls how many rows
// are fetched per round trip.
type HistoryFilter struct {
	Types    []enums.StockMovementType
	Since    *time.Time
	Until    *time.Time
	PageSize int
}

type Thresholds struct {
	Critical int
	Low      int
}

type StockStats struct {
	TotalProducts int             `json:"totalProducts"`
	TotalUnits    int             `json:"totalUnits"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	OutOfStock    int             `json:"outOfStock"`
	Critical      int             `json:"critical"`
	Low           int             `json:"low"`
	Healthy       int             `json:"healthy"`
}

type ReconcileReport struct {
	ProductID  uuid.UUID `json:"productId"`
	Stock      int       `json:"stock"`
	LedgerSum  int       `json:"ledgerSum"`
	Drift      int       `json:"drift"`
	Consistent bool      `json:"consistent"`
}

type Service struct {
	repo       Repository
	tx         txRunner
	now        func() time.Time
	thresholds Thresholds
	pageSize   int
	metrics    movementRecorder
	logg       *logger.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithThresholds(t Thresholds) Option {
	return func(s *Service) {
		if t.Critical > 0 {
			s.thresholds.Critical = t.Critical
		}
		if t.Low > 0 {
			s.thresholds.Low = t.Low
		}
	}
}

func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithMetrics(m movementRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logg *logger.Logger) Option {
	return func(s *Service) { s.logg = logg }
}

func NewService(repo Repository, tx txRunner, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	s := &Service{
		repo:       repo,
		tx:         tx,
		now:        time.Now,
		thresholds: Thresholds{Critical: 3, Low: 10},
		pageSize:   defaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.thresholds.Critical > s.thresholds.Low {
		return nil, fmt.Errorf("critical threshold %d exceeds low threshold %d", s.thresholds.Critical, s.thresholds.Low)
	}
	return s, nil
}

func (s *Service) Thresholds() Thresholds {
	return s.thresholds
}

// RecordMovement applies input in its own transaction.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (*MovementResult, error) {
	ctx, span := tracing.Start(ctx, "ledger.record_movement",
		attribute.String("product.id", input.ProductID.String()),
		attribute.String("movement.type", string(input.Type)),
		attribute.Int("movement.quantity", input.Quantity),
	)
	var result *MovementResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.RecordMovementTx(ctx, tx, input)
		return err
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	s.observe(ctx, result)
	return result, nil
}

// RecordMovementTx applies input inside the caller's transaction. The caller
// owns commit and rollback.
func (s *Service) RecordMovementTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*MovementResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)

	product, err := repo.LockProduct(ctx, input.ProductID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock product")
	}

	before := product.Stock
	after := before + input.Quantity
	if after < 0 {
		return nil, pkgerrors.InsufficientStock([]pkgerrors.StockShortfall{{
			ProductID:   product.ID.String(),
			ProductName: product.Name,
			Requested:   -input.Quantity,
			Available:   before,
		}})
	}

	now := s.now().UTC()
	ok, err := repo.CompareAndSetStock(ctx, product.ID, before, after, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update stock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "stock changed concurrently, retry")
	}

	movement := models.StockMovement{
		ProductID:   product.ID,
		Quantity:    input.Quantity,
		Type:        input.Type,
		StockBefore: before,
		StockAfter:  after,
		OrderID:     input.OrderID,
		CreatedAt:   now,
	}
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		movement.Reason = &reason
	}
	if actor := strings.TrimSpace(input.ActorID); actor != "" {
		movement.ActorID = &actor
	}
	if err := repo.InsertMovement(ctx, &movement); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert stock movement")
	}

	product.Stock = after
	product.UpdatedAt = now
	return &MovementResult{Movement: movement, Product: *product}, nil
}

// Observe reports a movement committed through RecordMovementTx.
func (s *Service) Observe(ctx context.Context, result *MovementResult) {
	s.observe(ctx, result)
}

func (s *Service) observe(ctx context.Context, result *MovementResult) {
	if result == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.StockMovement(string(result.Movement.Type), result.Movement.Quantity)
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"product_id":   result.Product.ID.String(),
			"type":         string(result.Movement.Type),
			"quantity":     result.Movement.Quantity,
			"stock_before": result.Movement.StockBefore,
			"stock_after":  result.Movement.StockAfter,
		})
		s.logg.Info(logCtx, "ledger.movement_recorded")
	}
}

func validateInput(input MovementInput) error {
	if input.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid movement type %q", input.Type))
	}
	if input.Quantity == 0 && input.Type != enums.StockMovementAdjustment {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be non-zero")
	}
	if input.Type == enums.StockMovementSale && input.OrderID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "sale movements require an order id")
	}
	return nil
}

// RecordSale removes quantity units sold on orderID.
func (s *Service) RecordSale(ctx context.Context, productID uuid.UUID, quantity int, orderID uuid.UUID) (*MovementResult, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return s.RecordMovement(ctx, MovementInput{
		ProductID: productID,
		Quantity:  -quantity,
		Type:      enums.StockMovementSale,
		OrderID:   &orderID,
	})
}

func (s *Service) RecordReturn(ctx context.Context, productID uuid.UUID, quantity int, orderID *uuid.UUID, reason, actorID string) (*MovementResult, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return s.RecordMovement(ctx, MovementInput{
		ProductID: productID,
		Quantity:  quantity,
		Type:      enums.StockMovementReturn,
		Reason:    reason,
		OrderID:   orderID,
		ActorID:   actorID,
	})
}

func (s *Service) RecordRestock(ctx context.Context, productID uuid.UUID, quantity int, reason, actorID string) (*MovementResult, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return s.RecordMovement(ctx, MovementInput{
		ProductID: productID,
		Quantity:  quantity,
		Type:      enums.StockMovementRestock,
		Reason:    reason,
		ActorID:   actorID,
	})
}

func (s *Service) RecordDamage(ctx context.Context, productID uuid.UUID, quantity int, reason, actorID string) (*MovementResult, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return s.RecordMovement(ctx, MovementInput{
		ProductID: productID,
		Quantity:  -quantity,
		Type:      enums.StockMovementDamage,
		Reason:    reason,
		ActorID:   actorID,
	})
}

// AdjustStock sets the stock to newValue. The delta is computed under the row
// lock so a concurrent movement cannot be overwritten.
func (s *Service) AdjustStock(ctx context.Context, productID uuid.UUID, newValue int, reason, actorID string) (*MovementResult, error) {
	if newValue < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock cannot be negative")
	}
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	var result *MovementResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		product, err := s.repo.WithTx(tx).LockProduct(ctx, productID)
		if err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock product")
		}
		result, err = s.RecordMovementTx(ctx, tx, MovementInput{
			ProductID: productID,
			Quantity:  newValue - product.Stock,
			Type:      enums.StockMovementAdjustment,
			Reason:    reason,
			ActorID:   actorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.observe(ctx, result)
	return result, nil
}

// StockHistory yields movements for productID newest first, fetching pages
// lazily. Iteration stops at the first error, which is yielded once.
func (s *Service) StockHistory(ctx context.Context, productID uuid.UUID, filter HistoryFilter) iter.Seq2[models.StockMovement, error] {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	return func(yield func(models.StockMovement, error) bool) {
		var cursor *historyCursor
		for {
			rows, err := s.repo.ListMovements(ctx, productID, filter, cursor, pageSize)
			if err != nil {
				yield(models.StockMovement{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stock movements"))
				return
			}
			for _, row := range rows {
				if !yield(row, nil) {
					return
				}
			}
			if len(rows) < pageSize {
				return
			}
			last := rows[len(rows)-1]
			cursor = &historyCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

// CollectHistory drains StockHistory into a slice of at most limit rows.
// A non-positive limit collects everything.
func (s *Service) CollectHistory(ctx context.Context, productID uuid.UUID, filter HistoryFilter, limit int) ([]models.StockMovement, error) {
	if limit > 0 && (filter.PageSize <= 0 || filter.PageSize > limit) {
		filter.PageSize = limit
	}
	out := make([]models.StockMovement, 0)
	for movement, err := range s.StockHistory(ctx, productID, filter) {
		if err != nil {
			return nil, err
		}
		out = append(out, movement)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LowStockProducts lists products at or below threshold, emptiest first. A
// non-positive threshold uses the configured low threshold.
func (s *Service) LowStockProducts(ctx context.Context, threshold int) ([]models.Product, error) {
	if threshold <= 0 {
		threshold = s.thresholds.Low
	}
	products, err := s.repo.ListLowStock(ctx, threshold)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list low stock products")
	}
	return products, nil
}

func (s *Service) StockStats(ctx context.Context) (StockStats, error) {
	levels, err := s.repo.ListStockLevels(ctx)
	if err != nil {
		return StockStats{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load stock levels")
	}
	stats := StockStats{TotalValue: decimal.Zero}
	for _, p := range levels {
		stats.TotalProducts++
		stats.TotalUnits += p.Stock
		stats.TotalValue = stats.TotalValue.Add(p.Price.Mul(decimal.NewFromInt(int64(p.Stock))))
		switch {
		case p.Stock == 0:
			stats.OutOfStock++
		case p.Stock <= s.thresholds.Critical:
			stats.Critical++
		case p.Stock <= s.thresholds.Low:
			stats.Low++
		default:
			stats.Healthy++
		}
	}
	stats.TotalValue = stats.TotalValue.Round(2)
	return stats, nil
}

// Reconcile compares the stored stock with the sum of its movements.
func (s *Service) Reconcile(ctx context.Context, productID uuid.UUID) (ReconcileReport, error) {
	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		if isNotFound(err) {
			return ReconcileReport{}, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return ReconcileReport{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product")
	}
	sum, err := s.repo.SumMovements(ctx, productID)
	if err != nil {
		return ReconcileReport{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum stock movements")
	}
	report := ReconcileReport{
		ProductID:  productID,
		Stock:      product.Stock,
		LedgerSum:  sum,
		Drift:      product.Stock - sum,
		Consistent: product.Stock == sum,
	}
	if !report.Consistent && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"product_id": productID.String(),
			"stock":      report.Stock,
			"ledger_sum": report.LedgerSum,
		})
		s.logg.Warn(logCtx, "ledger.drift_detected")
	}
	return report, nil
}
