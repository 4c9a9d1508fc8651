package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/kakeibo-whatif/internal/models"
)

// QuoteCacheRepo stores one serialized series per symbol in Postgres.
type QuoteCacheRepo struct {
	pool *pgxpool.Pool
}

func NewQuoteCacheRepo(pool *pgxpool.Pool) *QuoteCacheRepo {
	return &QuoteCacheRepo{pool: pool}
}

// Get returns the cached entry for symbol, or nil if none exists.
func (r *QuoteCacheRepo) Get(ctx context.Context, symbol string) (*models.CacheEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT symbol, payload, source, fetched_at FROM quote_cache WHERE symbol = $1`,
		strings.ToUpper(symbol),
	)
	e, err := scanCacheEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// Upsert writes entry, replacing whatever was cached for the symbol.
func (r *QuoteCacheRepo) Upsert(ctx context.Context, e *models.CacheEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO quote_cache (symbol, payload, source, fetched_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (symbol) DO UPDATE SET
			payload = EXCLUDED.payload,
			source = EXCLUDED.source,
			fetched_at = EXCLUDED.fetched_at`,
		strings.ToUpper(e.Symbol), []byte(e.Payload), e.Source, e.FetchedAt,
	)
	return err
}

func (r *QuoteCacheRepo) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT symbol FROM quote_cache ORDER BY symbol ASC`)
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

func scanCacheEntry(row scannable) (*models.CacheEntry, error) {
	var e models.CacheEntry
	var payload []byte
	if err := row.Scan(&e.Symbol, &payload, &e.Source, &e.FetchedAt); err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
