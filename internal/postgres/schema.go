package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jogardn/roast-orders/internal/pricing"
	"github.com/shopspring/decimal"
)

const orderNumberConstraint = "orders_order_number_key"

func CreateTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			order_number VARCHAR(32) NOT NULL,
			order_date DATE NOT NULL,
			customer_name VARCHAR(255) NOT NULL,
			customer_phone VARCHAR(64),
			delivery_mode VARCHAR(16) NOT NULL,
			delivery_zone VARCHAR(16),
			address TEXT,
			payment_method VARCHAR(32) NOT NULL DEFAULT '',
			with_condiment BOOLEAN NOT NULL DEFAULT FALSE,
			with_side_dish BOOLEAN NOT NULL DEFAULT FALSE,
			side_dish_quantity INTEGER NOT NULL DEFAULT 0,
			quantity NUMERIC(10,1) NOT NULL CHECK (quantity > 0),
			unit_price NUMERIC(12,2) NOT NULL,
			total_price NUMERIC(12,2) NOT NULL,
			status VARCHAR(32) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			requested_delivery_time TIMESTAMPTZ,
			delivered_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ,
			CONSTRAINT ` + orderNumberConstraint + ` UNIQUE (order_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_date_number ON orders(order_date, order_number)`,
		`CREATE TABLE IF NOT EXISTS stock (
			product VARCHAR(64) PRIMARY KEY,
			quantity NUMERIC(10,1) NOT NULL CHECK (quantity >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS price_config (
			key VARCHAR(64) PRIMARY KEY,
			value NUMERIC(12,2) NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Seed inserts the product's stock row and the price keys unless they exist.
func Seed(ctx context.Context, db *sql.DB, product string, stock decimal.Decimal, prices pricing.Config) error {
	if _, err := db.ExecContext(ctx,
		`INSERT INTO stock (product, quantity) VALUES ($1, $2) ON CONFLICT (product) DO NOTHING`,
		product, stock); err != nil {
		return fmt.Errorf("failed to seed stock: %w", err)
	}

	for key, value := range prices {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO price_config (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
			key, value); err != nil {
			return fmt.Errorf("failed to seed price %s: %w", key, err)
		}
	}
	return nil
}
