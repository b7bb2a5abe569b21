package metrics

import "github.com/prometheus/client_golang/prometheus"

// Checkout outcomes.
const (
	CheckoutCreated           = "created"
	CheckoutInsufficientStock = "insufficient_stock"
	CheckoutPromoRejected     = "promo_rejected"
	CheckoutInvalid           = "invalid"
	CheckoutFailed            = "failed"
)

// StorefrontMetrics counts the business events of the order pipeline.
type StorefrontMetrics struct {
	checkouts      *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	stockMovements *prometheus.CounterVec
	stockUnits     *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
}

// NewStorefrontMetrics registers the pipeline counters. A nil registerer
// yields a no-op recorder.
func NewStorefrontMetrics(reg prometheus.Registerer) *StorefrontMetrics {
	if reg == nil {
		return &StorefrontMetrics{}
	}
	m := &StorefrontMetrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Payment webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		stockMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movements_total",
			Help:      "Committed ledger movements by type.",
		}, []string{"type"}),
		stockUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_units_moved_total",
			Help:      "Absolute units moved through the ledger by type.",
		}, []string{"type"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a named limiter.",
		}, []string{"limiter"}),
	}
	reg.MustRegister(m.checkouts, m.webhookEvents, m.stockMovements, m.stockUnits, m.rateLimited)
	return m
}

func (m *StorefrontMetrics) CheckoutOutcome(outcome string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *StorefrontMetrics) WebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// StockMovement records one committed movement and its absolute size.
func (m *StorefrontMetrics) StockMovement(kind string, quantity int) {
	if m == nil || m.stockMovements == nil {
		return
	}
	label := normalizeLabel(kind)
	m.stockMovements.WithLabelValues(label).Inc()
	if quantity < 0 {
		quantity = -quantity
	}
	m.stockUnits.WithLabelValues(label).Add(float64(quantity))
}

func (m *StorefrontMetrics) RateLimited(limiter string) {
	if m == nil || m.rateLimited == nil {
		return
	}
	m.rateLimited.WithLabelValues(normalizeLabel(limiter)).Inc()
}
