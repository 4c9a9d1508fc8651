package simulation

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kjannette/kakeibo-whatif/internal/models"
)

// GroupByMonth buckets investment-category records by calendar month,
// ascending. Other categories are ignored.
func GroupByMonth(records []models.ExpenseRecord) []models.MonthlyInvestment {
	byMonth := make(map[string]*models.MonthlyInvestment)
	for _, r := range records {
		if !strings.EqualFold(strings.TrimSpace(r.Category), models.CategoryInvestment) {
			continue
		}
		key := models.MonthKey(r.Date)
		m, ok := byMonth[key]
		if !ok {
			m = &models.MonthlyInvestment{Month: key, Total: decimal.Zero}
			byMonth[key] = m
		}
		m.Total = m.Total.Add(decimal.NewFromInt(r.Amount))
		m.Records = append(m.Records, r)
	}

	out := make([]models.MonthlyInvestment, 0, len(byMonth))
	for _, m := range byMonth {
		sort.SliceStable(m.Records, func(i, j int) bool { return m.Records[i].Date.Before(m.Records[j].Date) })
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// LedgerAmounts flattens monthly totals into the month-key map Ledger takes.
func LedgerAmounts(months []models.MonthlyInvestment) map[string]float64 {
	out := make(map[string]float64, len(months))
	for _, m := range months {
		out[m.Month] = m.Total.InexactFloat64()
	}
	return out
}

// Round2 rounds a monetary or percentage figure for display. NaN and
// infinities are returned unchanged.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
