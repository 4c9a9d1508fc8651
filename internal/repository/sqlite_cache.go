package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kjannette/kakeibo-whatif/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteQuoteCache keeps the quote cache in a local SQLite file so the CLI
// works without Postgres.
type SQLiteQuoteCache struct {
	db *sql.DB
}

func OpenSQLiteQuoteCache(path string) (*SQLiteQuoteCache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	c := &SQLiteQuoteCache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}

func (c *SQLiteQuoteCache) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quote_cache (
			symbol     TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			fetched_at INTEGER NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *SQLiteQuoteCache) Get(ctx context.Context, symbol string) (*models.CacheEntry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT symbol, payload, source, fetched_at FROM quote_cache WHERE symbol = ?`,
		strings.ToUpper(symbol),
	)

	var e models.CacheEntry
	var payload string
	var fetchedAt int64
	if err := row.Scan(&e.Symbol, &payload, &e.Source, &fetchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.Payload = []byte(payload)
	e.FetchedAt = time.UnixMilli(fetchedAt).UTC()
	return &e, nil
}

func (c *SQLiteQuoteCache) Upsert(ctx context.Context, e *models.CacheEntry) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO quote_cache (symbol, payload, source, fetched_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET
			payload = excluded.payload,
			source = excluded.source,
			fetched_at = excluded.fetched_at`,
		strings.ToUpper(e.Symbol), string(e.Payload), e.Source, e.FetchedAt.UnixMilli(),
	)
	return err
}

func (c *SQLiteQuoteCache) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT symbol FROM quote_cache ORDER BY symbol ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *SQLiteQuoteCache) Close() error {
	return c.db.Close()
}
