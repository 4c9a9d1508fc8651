package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const CategoryInvestment = "investment"

// ExpenseRecord is owned by the expense tracker. Amount is in the smallest
// currency unit.
type ExpenseRecord struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Amount    int64     `json:"amount"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"createdAt"`
}

type MonthlyInvestment struct {
	Month   string          `json:"month"` // YYYY-MM
	Total   decimal.Decimal `json:"total"`
	Records []ExpenseRecord `json:"records"`
}
