// Package dbtest opens throwaway SQLite databases carrying the storefront
// schema for repository and service tests.
package dbtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/storefront/pkg/db"
	"github.com/angelmondragon/storefront/pkg/db/models"
	"github.com/angelmondragon/storefront/pkg/enums"
)

var schema = []string{
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		image_url TEXT,
		price TEXT NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_ref TEXT NOT NULL UNIQUE,
		subtotal TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		promo_code TEXT,
		customer_email TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		paid_at DATETIME,
		cancelled_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE stock_movements (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL,
		type TEXT NOT NULL,
		reason TEXT,
		stock_before INTEGER NOT NULL,
		stock_after INTEGER NOT NULL,
		order_id TEXT,
		actor_id TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE promo_codes (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		discount_percent TEXT,
		discount_amount TEXT,
		min_purchase TEXT,
		max_uses INTEGER,
		used_count INTEGER NOT NULL DEFAULT 0,
		valid_from DATETIME,
		valid_until DATETIME,
		is_active BOOLEAN NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
}

// Open returns a client backed by a private in-memory database with the
// schema applied. The connection is closed when the test ends.
func Open(t testing.TB) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db.FromGorm(conn)
}

// SeedProduct inserts a product with the given price and stock. Positive
// stock is opened with a RESTOCK movement so the ledger sum matches it.
func SeedProduct(t testing.TB, client *db.Client, name, price string, stock int) models.Product {
	t.Helper()

	product := models.Product{
		ID:    uuid.New(),
		Name:  name,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Create(&product).Error; err != nil {
			return err
		}
		if stock <= 0 {
			return nil
		}
		reason := "opening balance"
		return tx.Create(&models.StockMovement{
			ProductID:  product.ID,
			Quantity:   stock,
			Type:       enums.StockMovementRestock,
			Reason:     &reason,
			StockAfter: stock,
		}).Error
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	return product
}

// SeedPromo inserts promo as-is after filling the id.
func SeedPromo(t testing.TB, client *db.Client, promo models.PromoCode) models.PromoCode {
	t.Helper()

	if promo.ID == uuid.Nil {
		promo.ID = uuid.New()
	}
	if err := client.DB().Create(&promo).Error; err != nil {
		t.Fatalf("seed promo %s: %v", promo.Code, err)
	}
	return promo
}
