package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/kakeibo-whatif/internal/models"
)

type ExpenseRepo struct {
	pool *pgxpool.Pool
}

func NewExpenseRepo(pool *pgxpool.Pool) *ExpenseRepo {
	return &ExpenseRepo{pool: pool}
}

func (r *ExpenseRepo) Record(ctx context.Context, e *models.ExpenseRecord) (*models.ExpenseRecord, error) {
	if e.Amount <= 0 {
		return nil, fmt.Errorf("expense amount must be positive, got %d", e.Amount)
	}
	date := e.Date
	if date.IsZero() {
		date = time.Now()
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO expenses (owner_id, title, category, amount, spent_on)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, owner_id, title, category, amount, spent_on, created_at`,
		e.OwnerID, e.Title, strings.ToLower(strings.TrimSpace(e.Category)), e.Amount, date,
	)
	return scanExpense(row)
}

// ListByOwner returns an owner's records ordered by date.
// If category is non-nil, filters by it (case-insensitive).
func (r *ExpenseRepo) ListByOwner(ctx context.Context, ownerID string, category *string) ([]models.ExpenseRecord, error) {
	query, args := buildCategoryQuery(
		`SELECT id, owner_id, title, category, amount, spent_on, created_at
		 FROM expenses WHERE owner_id = $1`,
		[]any{ownerID},
		category,
	)
	query += " ORDER BY spent_on ASC, id ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExpenses(rows)
}

// buildCategoryQuery appends a category clause when category is non-nil.
func buildCategoryQuery(baseQuery string, baseArgs []any, category *string) (string, []any) {
	if category == nil {
		return baseQuery, baseArgs
	}
	args := append(baseArgs, strings.ToLower(strings.TrimSpace(*category)))
	return baseQuery + fmt.Sprintf(" AND LOWER(category) = $%d", len(args)), args
}

func scanExpense(row scannable) (*models.ExpenseRecord, error) {
	var e models.ExpenseRecord
	err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &e.Category, &e.Amount, &e.Date, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectExpenses(rows rowsIter) ([]models.ExpenseRecord, error) {
	var out []models.ExpenseRecord
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
