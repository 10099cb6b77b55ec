// file: internals/databases/testdb/testdb.go
//
// In-memory SQLite for package tests. The schema mirrors the GORM models but
// is written out by hand because the production column defaults
// (gen_random_uuid, jsonb) only exist on PostgreSQL.
package testdb

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var seq int64

// Open returns a fresh in-memory database per test. Writers are limited to a
// single connection so concurrent transactions serialize the way row locks do
// on PostgreSQL.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:billing_test_%d?mode=memory&cache=shared", atomic.AddInt64(&seq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, ddl := range schema {
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

var schema = []string{
	`CREATE TABLE invoices (
		invoice_id                  TEXT PRIMARY KEY,
		invoice_tenant_id           TEXT NOT NULL,
		invoice_center_id           TEXT,
		invoice_child_id            TEXT NOT NULL,
		invoice_number              TEXT NOT NULL UNIQUE,
		invoice_billing_period      TEXT NOT NULL,
		invoice_tuition_amount      NUMERIC NOT NULL DEFAULT 0,
		invoice_meal_fee_amount     NUMERIC NOT NULL DEFAULT 0,
		invoice_activity_fee_amount NUMERIC NOT NULL DEFAULT 0,
		invoice_other_charges       NUMERIC NOT NULL DEFAULT 0,
		invoice_discount            NUMERIC NOT NULL DEFAULT 0,
		invoice_subsidy             NUMERIC NOT NULL DEFAULT 0,
		invoice_late_fee            NUMERIC NOT NULL DEFAULT 0,
		invoice_subtotal            NUMERIC NOT NULL DEFAULT 0,
		invoice_total_amount        NUMERIC NOT NULL DEFAULT 0,
		invoice_currency            TEXT NOT NULL DEFAULT 'NGN',
		invoice_amount_paid         NUMERIC NOT NULL DEFAULT 0,
		invoice_balance_remaining   NUMERIC NOT NULL DEFAULT 0,
		invoice_status              TEXT NOT NULL DEFAULT 'pending',
		invoice_due_date            DATETIME NOT NULL,
		invoice_paid_date           DATETIME,
		invoice_note                TEXT,
		invoice_created_at          DATETIME NOT NULL,
		invoice_updated_at          DATETIME NOT NULL,
		invoice_deleted_at          DATETIME
	)`,
	`CREATE TABLE payments (
		payment_id                TEXT PRIMARY KEY,
		payment_tenant_id         TEXT NOT NULL,
		payment_center_id         TEXT,
		payment_invoice_id        TEXT NOT NULL,
		payment_reference_number  TEXT NOT NULL UNIQUE,
		payment_amount            NUMERIC NOT NULL,
		payment_currency          TEXT NOT NULL DEFAULT 'NGN',
		payment_method            TEXT NOT NULL,
		payment_mobile_provider   TEXT,
		payment_mobile_phone      TEXT,
		payment_bank_name         TEXT,
		payment_bank_account      TEXT,
		payment_card_provider     TEXT,
		payment_card_last4        TEXT,
		payment_cash_received_by  TEXT,
		payment_status            TEXT NOT NULL DEFAULT 'pending',
		payment_failure_reason    TEXT,
		payment_processed_at      DATETIME,
		payment_gateway_provider  TEXT,
		payment_gateway_txn_id    TEXT,
		payment_authorization_ref TEXT,
		payment_checkout_url      TEXT,
		payment_access_code       TEXT,
		payment_channels          TEXT,
		payment_payer_email       TEXT,
		payment_refund_requested_at DATETIME,
		payment_is_refunded       NUMERIC NOT NULL DEFAULT 0,
		payment_refund_amount     NUMERIC,
		payment_refunded_at       DATETIME,
		payment_refund_reason     TEXT,
		payment_metadata          TEXT,
		payment_note              TEXT,
		payment_created_at        DATETIME NOT NULL,
		payment_updated_at        DATETIME NOT NULL,
		payment_deleted_at        DATETIME
	)`,
	`CREATE TABLE payment_webhook_events (
		event_id           TEXT PRIMARY KEY,
		event_tenant_id    TEXT,
		event_payment_id   TEXT,
		event_provider     TEXT NOT NULL,
		event_type         TEXT,
		event_reference    TEXT,
		event_signature    TEXT,
		event_payload      TEXT,
		event_headers      TEXT,
		event_status       TEXT NOT NULL DEFAULT 'received',
		event_error        TEXT,
		event_received_at  DATETIME NOT NULL,
		event_processed_at DATETIME
	)`,
}
