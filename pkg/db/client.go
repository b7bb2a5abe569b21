package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/logger"
)

// Pinger is satisfied by Client and pkg/redis.Client for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Client owns the GORM handle every repository shares.
type Client struct {
	conn *gorm.DB
}

// New opens Postgres through pgx. The simple protocol keeps the pool usable
// behind PgBouncer in transaction mode.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("STOREFRONT_DB_DSN (or the STOREFRONT_DB_HOST family) is required")
	}

	conn, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	}), gormConfig(ctx, logg, cfg.SlowQuery))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	setIfPositive(cfg.MaxOpenConns, sqlDB.SetMaxOpenConns)
	setIfPositive(cfg.MaxIdleConns, sqlDB.SetMaxIdleConns)
	setIfPositive(cfg.ConnMaxLifetime, sqlDB.SetConnMaxLifetime)
	setIfPositive(cfg.ConnMaxIdleTime, sqlDB.SetConnMaxIdleTime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "max_open_conns", cfg.MaxOpenConns), "postgres ready")
	}
	return &Client{conn: conn}, nil
}

// NewSQLite opens a file database for local development. One connection
// serialises writers, standing in for the Postgres row locks.
func NewSQLite(ctx context.Context, path string, logg *logger.Logger) (*Client, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	conn, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on&_busy_timeout=5000"), gormConfig(ctx, logg, 0))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if logg != nil {
		logg.Warn(logg.WithField(ctx, "path", path), "sqlite database in use; not for production")
	}
	return &Client{conn: conn}, nil
}

// FromGorm wraps an already opened handle.
func FromGorm(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in one transaction. An error or panic from fn rolls back.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}

// gormConfig routes GORM's slow-query and error reports into the service
// logger. A zero threshold or nil logger silences GORM.
func gormConfig(ctx context.Context, logg *logger.Logger, slow time.Duration) *gorm.Config {
	cfg := &gorm.Config{SkipDefaultTransaction: true}
	if logg == nil || slow <= 0 {
		cfg.Logger = gormlogger.Discard
		return cfg
	}
	cfg.Logger = gormlogger.New(
		logg.Leveled(logg.WithField(ctx, "component", "gorm")),
		gormlogger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		},
	)
	return cfg
}

func setIfPositive[T ~int | ~int64](v T, set func(T)) {
	if v > 0 {
		set(v)
	}
}
