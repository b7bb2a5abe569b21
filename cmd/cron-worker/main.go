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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront/internal/cron"
	"github.com/angelmondragon/storefront/internal/ledger"
	"github.com/angelmondragon/storefront/internal/notifications"
	"github.com/angelmondragon/storefront/internal/orders"
	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/db"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
	"github.com/angelmondragon/storefront/pkg/migrate"
	"github.com/angelmondragon/storefront/pkg/redis"
	"github.com/angelmondragon/storefront/pkg/stripe"
)

const minLockTTL = time.Minute

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	var dbClient *db.Client
	if cfg.FeatureFlags.UseSQLite {
		dbClient, err = db.NewSQLite(context.Background(), cfg.DB.SQLitePath, logg)
	} else {
		dbClient, err = db.New(context.Background(), cfg.DB, logg)
	}
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	registry := cron.NewRegistry()
	if cfg.Cron.OrderExpiryEnabled {
		job, closeDispatcher, err := orderExpiryJob(ctx, cfg, logg, dbClient)
		if err != nil {
			logg.Error(ctx, "failed to build order expiry job", err)
			os.Exit(1)
		}
		defer func() {
			if err := closeDispatcher(); err != nil {
				logg.Error(context.Background(), "error closing notification transport", err)
			}
		}()
		if err := registry.Register(job); err != nil {
			logg.Error(ctx, "failed to register order expiry job", err)
			os.Exit(1)
		}
	} else {
		logg.Info(ctx, "order expiry disabled; set STOREFRONT_CRON_ORDER_EXPIRY_ENABLED=true to enable")
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), lockTTL(cfg.Cron.Interval))
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	if cfg.Cron.MetricsAddr != "" {
		metricsServer := serveMetrics(ctx, cfg.Cron.MetricsAddr, logg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func orderExpiryJob(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (cron.Job, func() error, error) {
	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, nil, err
	}
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient, ledger.WithLogger(logg))
	if err != nil {
		return nil, nil, err
	}
	ordersSvc, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, ledgerSvc, orders.WithLogger(logg))
	if err != nil {
		return nil, nil, err
	}
	dispatcher, closeDispatcher, err := notifications.Open(ctx, cfg, logg)
	if err != nil {
		return nil, nil, err
	}
	job, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{
		Logger:     logg,
		Orders:     ordersSvc,
		Payments:   stripe.NewCheckoutSessions(stripeClient),
		Dispatcher: dispatcher,
		TTL:        cfg.Cron.PendingOrderTTL,
		BatchSize:  cfg.Cron.OrderExpiryBatch,
	})
	if err != nil {
		_ = closeDispatcher()
		return nil, nil, err
	}
	return job, closeDispatcher, nil
}

func serveMetrics(ctx context.Context, addr string, logg *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "cron metrics listener stopped", err)
		}
	}()
	return server
}

// lockTTL keeps the lock alive for one full interval so a slow run is not
// overlapped by the next tick on another instance.
func lockTTL(interval time.Duration) time.Duration {
	if interval < minLockTTL {
		return minLockTTL
	}
	return interval
}
