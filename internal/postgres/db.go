package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 16
	cfg.MinConns = 2
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		status      TEXT NOT NULL,
		total_cents BIGINT NOT NULL,
		address     TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS orders_user_idx ON orders(user_id)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		order_id    TEXT NOT NULL REFERENCES orders(id),
		product_id  TEXT NOT NULL,
		name        TEXT NOT NULL,
		qty         INT NOT NULL,
		price_cents BIGINT NOT NULL,
		PRIMARY KEY (order_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS saga_ledger (
		order_id   TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		user_id       TEXT PRIMARY KEY,
		balance_cents BIGINT NOT NULL DEFAULT 0,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_transactions (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL REFERENCES wallets(user_id),
		order_id     TEXT,
		amount_cents BIGINT NOT NULL,
		status       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS wallet_tx_order_idx
		ON wallet_transactions(order_id) WHERE order_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS products (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		price_cents BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS warehouse_stock (
		product_id      TEXT NOT NULL,
		warehouse_id    TEXT NOT NULL,
		qty             INT NOT NULL,
		alarm_threshold INT NOT NULL DEFAULT 0,
		PRIMARY KEY (product_id, warehouse_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		order_id     TEXT NOT NULL,
		product_id   TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		qty          INT NOT NULL,
		status       TEXT NOT NULL,
		PRIMARY KEY (order_id, product_id, warehouse_id)
	)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		id           TEXT PRIMARY KEY,
		order_id     TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		status       TEXT NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS deliveries_order_idx ON deliveries(order_id)`,
	`CREATE TABLE IF NOT EXISTS delivery_lines (
		delivery_id TEXT NOT NULL REFERENCES deliveries(id),
		product_id  TEXT NOT NULL,
		qty         INT NOT NULL,
		PRIMARY KEY (delivery_id, product_id)
	)`,
}

// Migrate applies the schema at startup. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
