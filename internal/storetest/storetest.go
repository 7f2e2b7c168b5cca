// Package storetest opens throwaway SQLite databases carrying the storefront schema.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT,
		billing_customer_id TEXT,
		price_id TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX ux_accounts_email ON accounts (lower(email))`,
	`CREATE UNIQUE INDEX ux_accounts_billing_customer_id ON accounts (billing_customer_id) WHERE billing_customer_id IS NOT NULL`,
	`CREATE TABLE purchases (
		id BIGINT PRIMARY KEY,
		account_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		paid_at DATETIME NOT NULL,
		order_id TEXT NOT NULL,
		source TEXT NOT NULL,
		dedupe_key TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX ux_purchases_dedupe_key ON purchases (dedupe_key)`,
	`CREATE TABLE company_purchases (
		id BIGINT PRIMARY KEY,
		company_id TEXT NOT NULL,
		account_id TEXT,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		paid_at DATETIME NOT NULL,
		order_id TEXT NOT NULL,
		dedupe_key TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX ux_company_purchases_dedupe_key ON company_purchases (dedupe_key)`,
	`CREATE TABLE cart_lines (
		id BIGINT PRIMARY KEY,
		account_id TEXT NOT NULL,
		product_ref TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE payment_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE UNIQUE INDEX ux_payment_events_provider_event_id ON payment_events (provider, provider_event_id)`,
}

// OpenDB returns an isolated in-memory database with every storefront table created.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}

	return db
}

// AssertCount runs a COUNT query and fails the test on mismatch.
func AssertCount(t testing.TB, db *gorm.DB, expected int64, query string, args ...any) {
	t.Helper()

	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d rows for %q, got %d", expected, query, count)
	}
}
