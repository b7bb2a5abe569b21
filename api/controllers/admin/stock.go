// Package admin holds the back-office inventory handlers. Every route here
// sits behind the admin role check.
package admin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront/api/middleware"
	"github.com/angelmondragon/storefront/api/responses"
	"github.com/angelmondragon/storefront/api/validators"
	"github.com/angelmondragon/storefront/internal/ledger"
	"github.com/angelmondragon/storefront/pkg/db/models"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxReasonLength     = 500
	responseHistorySize = 10
)

type stockService interface {
	AdjustStock(ctx context.Context, productID uuid.UUID, newValue int, reason, actorID string) (*ledger.MovementResult, error)
	RecordRestock(ctx context.Context, productID uuid.UUID, quantity int, reason, actorID string) (*ledger.MovementResult, error)
	RecordDamage(ctx context.Context, productID uuid.UUID, quantity int, reason, actorID string) (*ledger.MovementResult, error)
	RecordMovement(ctx context.Context, input ledger.MovementInput) (*ledger.MovementResult, error)
	CollectHistory(ctx context.Context, productID uuid.UUID, filter ledger.HistoryFilter, limit int) ([]models.StockMovement, error)
	LowStockProducts(ctx context.Context, threshold int) ([]models.Product, error)
	StockStats(ctx context.Context) (ledger.StockStats, error)
	Reconcile(ctx context.Context, productID uuid.UUID) (ledger.ReconcileReport, error)
}

type stockRequest struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Action    string    `json:"action" validate:"required,oneof=set add adjust damage"`
	Quantity  *int      `json:"quantity" validate:"required"`
	Reason    string    `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type stockResponse struct {
	Product ledger.ProductDTO    `json:"product"`
	History []ledger.MovementDTO `json:"history"`
}

// UpdateStock applies a manual stock change and echoes the product with its
// latest movements.
func UpdateStock(svc stockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}

		var payload stockRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		actor := middleware.UserIDFromContext(ctx)
		reason := validators.SanitizeString(payload.Reason, maxReasonLength)
		qty := *payload.Quantity

		var (
			result *ledger.MovementResult
			err    error
		)
		switch enums.StockAction(payload.Action) {
		case enums.StockActionSet:
			result, err = svc.AdjustStock(ctx, payload.ProductID, qty, reason, actor)
		case enums.StockActionAdd:
			result, err = svc.RecordRestock(ctx, payload.ProductID, qty, reason, actor)
		case enums.StockActionDamage:
			result, err = svc.RecordDamage(ctx, payload.ProductID, qty, reason, actor)
		case enums.StockActionAdjust:
			result, err = svc.RecordMovement(ctx, ledger.MovementInput{
				ProductID: payload.ProductID,
				Quantity:  qty,
				Type:      enums.StockMovementAdjustment,
				Reason:    reason,
				ActorID:   actor,
			})
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		history, err := svc.CollectHistory(ctx, payload.ProductID, ledger.HistoryFilter{}, responseHistorySize)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, stockResponse{
			Product: ledger.ToProductDTO(result.Product),
			History: ledger.ToMovementDTOs(history),
		})
	}
}

// History lists movements for one product, newest first. type may repeat or
// carry a comma separated list; since and until take RFC 3339 timestamps.
func History(svc stockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		productID, err := productIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		filter, err := historyFilter(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		movements, err := svc.CollectHistory(ctx, productID, filter, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, ledger.ToMovementDTOs(movements))
	}
}

func LowStock(svc stockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		threshold, err := validators.ParseQueryInt(r, "threshold", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		products, err := svc.LowStockProducts(ctx, threshold)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, ledger.ToProductDTOs(products))
	}
}

func Stats(svc stockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		stats, err := svc.StockStats(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func Reconcile(svc stockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		productID, err := productIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		report, err := svc.Reconcile(ctx, productID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func productIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "productId"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid product id")
	}
	return id, nil
}

func historyFilter(r *http.Request) (ledger.HistoryFilter, error) {
	var filter ledger.HistoryFilter
	query := r.URL.Query()
	for _, raw := range query["type"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			kind, err := enums.ParseStockMovementType(part)
			if err != nil {
				return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid movement type")
			}
			filter.Types = append(filter.Types, kind)
		}
	}
	for key, dest := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := strings.TrimSpace(query.Get(key))
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be an RFC 3339 timestamp").
				WithDetails(map[string]any{"field": key})
		}
		ts = ts.UTC()
		*dest = &ts
	}
	return filter, nil
}
