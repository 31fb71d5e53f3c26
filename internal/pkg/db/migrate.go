package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the DDL statements applied at startup, in order. Each
// statement is idempotent so restarts are safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(32) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL DEFAULT '',
		pin_hash TEXT NOT NULL,
		points_balance BIGINT NOT NULL DEFAULT 0,
		points_expiring BIGINT NOT NULL DEFAULT 0,
		points_expires_at TIMESTAMPTZ,
		points_expiry_warned_at TIMESTAMPTZ,
		total_spent BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		last_receipt_at TIMESTAMPTZ,
		otp_hash TEXT,
		otp_expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS supermarkets (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		normalized_name VARCHAR(255) NOT NULL UNIQUE,
		address TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		avg_basket BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS campaigns (
		id BIGSERIAL PRIMARY KEY,
		brand VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'draft',
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ NOT NULL,
		mechanic TEXT NOT NULL DEFAULT '',
		min_spend BIGINT,
		max_redemptions INTEGER,
		conversions INTEGER NOT NULL DEFAULT 0,
		target_audience VARCHAR(20) NOT NULL DEFAULT 'all',
		reward_type VARCHAR(20) NOT NULL,
		reward_value BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS campaign_supermarkets (
		campaign_id BIGINT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		supermarket_id BIGINT NOT NULL REFERENCES supermarkets(id) ON DELETE CASCADE,
		PRIMARY KEY (campaign_id, supermarket_id)
	)`,

	`CREATE TABLE IF NOT EXISTS receipts (
		id UUID PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		supermarket_id BIGINT REFERENCES supermarkets(id),
		supermarket_name VARCHAR(255) NOT NULL,
		amount BIGINT NOT NULL,
		receipt_date DATE NOT NULL,
		status VARCHAR(20) NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		image_hash TEXT NOT NULL UNIQUE,
		image_url TEXT NOT NULL DEFAULT '',
		receipt_number TEXT,
		points_awarded BIGINT NOT NULL DEFAULT 0,
		campaign_id BIGINT REFERENCES campaigns(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		moderated_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_receipts_user_created ON receipts (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_receipts_status ON receipts (status) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_receipts_similar ON receipts (lower(supermarket_name), amount, receipt_date)`,

	`CREATE TABLE IF NOT EXISTS receipt_items (
		id BIGSERIAL PRIMARY KEY,
		receipt_id UUID NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		unit_price BIGINT NOT NULL DEFAULT 0,
		total BIGINT NOT NULL DEFAULT 0,
		category VARCHAR(100) NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS rewards (
		id BIGSERIAL PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		cost_points BIGINT NOT NULL,
		reward_type VARCHAR(20) NOT NULL,
		brand VARCHAR(255) NOT NULL DEFAULT '',
		supermarket_id BIGINT REFERENCES supermarkets(id),
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title VARCHAR(255) NOT NULL,
		message TEXT NOT NULL,
		type VARCHAR(20) NOT NULL,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS point_transactions (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount BIGINT NOT NULL,
		type VARCHAR(30) NOT NULL,
		description TEXT,
		receipt_id UUID REFERENCES receipts(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_point_transactions_user ON point_transactions (user_id, created_at)`,
}

// Migrate applies the schema to the connected database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
