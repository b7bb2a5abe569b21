package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelmondragon/storefront/api/controllers"
	admincontrollers "github.com/angelmondragon/storefront/api/controllers/admin"
	ordercontrollers "github.com/angelmondragon/storefront/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/storefront/api/controllers/webhooks"
	"github.com/angelmondragon/storefront/api/middleware"
	checkoutsvc "github.com/angelmondragon/storefront/internal/checkout"
	"github.com/angelmondragon/storefront/internal/ledger"
	"github.com/angelmondragon/storefront/internal/orders"
	"github.com/angelmondragon/storefront/internal/promo"
	"github.com/angelmondragon/storefront/internal/ratelimit"
	stripewebhook "github.com/angelmondragon/storefront/internal/webhooks/stripe"
	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/db"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
)

// WebhookSecret yields the current webhook signing secret.
type WebhookSecret interface {
	SigningSecret() string
}

// Dependencies carries everything the router hands to controllers. Nil
// pingers are skipped by the readiness check.
type Dependencies struct {
	DB    db.Pinger
	Redis db.Pinger

	Checkout     *checkoutsvc.Service
	Orders       *orders.Service
	Ledger       *ledger.Service
	Promos       *promo.Service
	Webhooks     *stripewebhook.Service
	WebhookGuard *stripewebhook.EventGuard
	Secret       WebhookSecret

	Limiter  *ratelimit.Limiter
	Policies ratelimit.Policies
	Replays  middleware.ResponseCache

	Metrics  *metrics.StorefrontMetrics
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	var checks []controllers.Dependency
	if deps.DB != nil {
		checks = append(checks, controllers.Dependency{Name: "db", Pinger: deps.DB})
	}
	if deps.Redis != nil {
		checks = append(checks, controllers.Dependency{Name: "redis", Pinger: deps.Redis})
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, logg, checks...))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	limit := func(policy ratelimit.Config) func(http.Handler) http.Handler {
		if deps.Limiter == nil {
			return passthrough
		}
		return middleware.RateLimit(deps.Limiter, policy, deps.Metrics, logg)
	}
	replay := passthrough
	if deps.Replays != nil {
		replay = middleware.Idempotency(deps.Replays, cfg.Checkout.IdempotencyTTL, logg)
	}

	r.Route("/api/public/v1", func(r chi.Router) {
		r.With(limit(deps.Policies.Search)).Get("/promos/{code}/validate", controllers.PromoPreview(deps.Promos, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.Webhooks, deps.Secret, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.With(limit(deps.Policies.Checkout), replay).Post("/checkout", controllers.Checkout(deps.Checkout, logg))
		r.Get("/orders/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireAdmin(logg))
		r.Use(limit(deps.Policies.Admin))

		r.Route("/stock", func(r chi.Router) {
			r.Post("/", admincontrollers.UpdateStock(deps.Ledger, logg))
			r.Get("/low", admincontrollers.LowStock(deps.Ledger, logg))
			r.Get("/stats", admincontrollers.Stats(deps.Ledger, logg))
			r.Get("/{productId}/history", admincontrollers.History(deps.Ledger, logg))
			r.Get("/{productId}/reconcile", admincontrollers.Reconcile(deps.Ledger, logg))
		})
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.AdminList(deps.Orders, logg))
			r.Post("/{paymentRef}/status", ordercontrollers.AdminUpdateStatus(deps.Orders, logg))
		})
	})

	return otelhttp.NewHandler(r, "storefront.http",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

func passthrough(next http.Handler) http.Handler { return next }
