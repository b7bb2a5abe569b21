package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront/api/routes"
	checkoutsvc "github.com/angelmondragon/storefront/internal/checkout"
	"github.com/angelmondragon/storefront/internal/ledger"
	"github.com/angelmondragon/storefront/internal/notifications"
	"github.com/angelmondragon/storefront/internal/orders"
	"github.com/angelmondragon/storefront/internal/promo"
	"github.com/angelmondragon/storefront/internal/ratelimit"
	stripewebhook "github.com/angelmondragon/storefront/internal/webhooks/stripe"
	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/db"
	"github.com/angelmondragon/storefront/pkg/instance"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
	"github.com/angelmondragon/storefront/pkg/migrate"
	"github.com/angelmondragon/storefront/pkg/redis"
	"github.com/angelmondragon/storefront/pkg/stripe"
	"github.com/angelmondragon/storefront/pkg/tracing"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, "storefront-api", version)
	if err != nil {
		return err
	}
	closers = append(closers, func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(flushCtx)
	})

	dbClient, err := openDB(ctx, cfg, logg)
	if err != nil {
		return err
	}
	closers = append(closers, dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	closers = append(closers, redisClient.Close)

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	dispatcher, closeDispatcher, err := notifications.Open(ctx, cfg, logg)
	if err != nil {
		return err
	}
	closers = append(closers, closeDispatcher)

	storefrontMetrics := metrics.NewStorefrontMetrics(prometheus.DefaultRegisterer)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient,
		ledger.WithThresholds(ledger.Thresholds{Critical: cfg.Stock.CriticalThreshold, Low: cfg.Stock.LowThreshold}),
		ledger.WithPageSize(cfg.Stock.HistoryPageSize),
		ledger.WithMetrics(storefrontMetrics),
		ledger.WithLogger(logg),
	)
	if err != nil {
		return err
	}
	ordersSvc, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, ledgerSvc, orders.WithLogger(logg))
	if err != nil {
		return err
	}
	promoSvc, err := promo.NewService(promo.NewRepository(dbClient.DB()))
	if err != nil {
		return err
	}
	checkoutService, err := checkoutsvc.NewService(ordersSvc, ordersSvc, promoSvc, stripe.NewCheckoutSessions(stripeClient), checkoutsvc.Settings{
		Currency:   cfg.Checkout.Currency,
		SuccessURL: cfg.Checkout.SuccessURL(cfg.App.PublicURL),
		CancelURL:  cfg.Checkout.CancelURL(cfg.App.PublicURL),
		MaxLines:   cfg.Checkout.MaxLines,
	}, storefrontMetrics, logg)
	if err != nil {
		return err
	}
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:     ordersSvc,
		Promos:     promoSvc,
		Dispatcher: dispatcher,
		Metrics:    storefrontMetrics,
		Logger:     logg,
	})
	if err != nil {
		return err
	}
	webhookGuard, err := stripewebhook.NewEventGuard(redisClient, cfg.Webhooks.EventTTL)
	if err != nil {
		return err
	}

	policies := ratelimit.PoliciesFromConfig(cfg.RateLimit)
	if err := policies.Validate(); err != nil {
		return err
	}
	limiter := ratelimit.New(rateLimitStore(cfg, redisClient, logg))

	addr := ":" + cfg.App.Port
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:           dbClient,
			Redis:        redisClient,
			Checkout:     checkoutService,
			Orders:       ordersSvc,
			Ledger:       ledgerSvc,
			Promos:       promoSvc,
			Webhooks:     webhookService,
			WebhookGuard: webhookGuard,
			Secret:       stripeClient,
			Limiter:      limiter,
			Policies:     policies,
			Replays:      redisClient,
			Metrics:      storefrontMetrics,
			Gatherer:     prometheus.DefaultGatherer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"version":  version,
		"instance": instance.ID(),
	})
	logg.Info(logCtx, "starting api server")

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openDB(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*db.Client, error) {
	if cfg.FeatureFlags.UseSQLite {
		return db.NewSQLite(ctx, cfg.DB.SQLitePath, logg)
	}
	return db.New(ctx, cfg.DB, logg)
}

func rateLimitStore(cfg *config.Config, redisClient *redis.Client, logg *logger.Logger) ratelimit.Store {
	if cfg.RateLimit.Store == config.RateLimitStoreRedis {
		return ratelimit.NewRedisStore(redisClient)
	}
	logg.Warn(context.Background(), "rate limiter using in-process memory store; counters are not shared across instances")
	return ratelimit.NewMemoryStore()
}
