package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS quote_cache (
		id         BIGSERIAL PRIMARY KEY,
		symbol     TEXT NOT NULL UNIQUE,
		payload    JSONB NOT NULL,
		source     TEXT NOT NULL DEFAULT '',
		fetched_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id         BIGSERIAL PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		title      TEXT NOT NULL,
		category   TEXT NOT NULL,
		amount     BIGINT NOT NULL CHECK (amount > 0),
		spent_on   DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_expenses_owner_date ON expenses (owner_id, spent_on)`,
}

// Migrate creates the tables the gateway and expense ledger read from.
// Statements are idempotent.
func Migrate(ctx context.Context, p *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	fmt.Printf("[DB] Schema up to date (%d statements)\n", len(schema))
	return nil
}
