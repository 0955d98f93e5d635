package db

import (
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the goose migrations for the sqlite driver used by
// local runs and tests. Timestamps are DATETIME so the driver scans them back
// into time.Time.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS seller_ledger_entries (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		available_at DATETIME,
		order_id TEXT,
		payout_id TEXT,
		idempotency_key TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		meta TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_seller_ledger_entries_type_key ON seller_ledger_entries (type, idempotency_key)`,
	`CREATE INDEX IF NOT EXISTS idx_seller_ledger_entries_seller_currency ON seller_ledger_entries (seller_id, currency)`,
	`CREATE INDEX IF NOT EXISTS idx_seller_ledger_entries_order ON seller_ledger_entries (order_id)`,
	`CREATE TABLE IF NOT EXISTS payout_batches (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		currency TEXT NOT NULL,
		total_cents INTEGER NOT NULL,
		run_key TEXT,
		external_batch_id TEXT,
		status TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		error TEXT,
		submitted_at DATETIME,
		last_synced_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payout_batches_run_key ON payout_batches (run_key)`,
	`CREATE INDEX IF NOT EXISTS idx_payout_batches_status ON payout_batches (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS payout_items (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES payout_batches(id) ON DELETE CASCADE,
		seller_id TEXT NOT NULL,
		receiver_address TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		external_item_id TEXT,
		error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payout_items_batch_seller ON payout_items (batch_id, seller_id)`,
	`CREATE TABLE IF NOT EXISTS seller_payout_profiles (
		seller_id TEXT PRIMARY KEY,
		payouts_enabled BOOLEAN NOT NULL DEFAULT 0,
		payout_address TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT '',
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	)`,
}

// ApplySQLiteSchema creates every table on a sqlite connection. It is
// idempotent.
func ApplySQLiteSchema(conn *gorm.DB) error {
	for _, stmt := range sqliteSchema {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}
