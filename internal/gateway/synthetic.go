package gateway

import (
	"math/rand"
	"time"

	"github.com/kjannette/kakeibo-whatif/internal/models"
)

const (
	syntheticMonths = 60
	syntheticDays   = 30
	syntheticJitter = 0.05
	SyntheticSource = "synthetic"
)

// Synthesize builds a placeholder series around base: monthly bars on the
// first of each month ending with the current month, daily bars ending
// today. Every close stays within ±5% of base. The data is flagged
// Synthetic and is not meant to look like a real market.
func Synthesize(symbol string, base float64, now time.Time, rng *rand.Rand) *models.PriceSeries {
	if base <= 0 {
		base = 100
	}
	now = now.UTC()

	s := &models.PriceSeries{
		Symbol:        symbol,
		Source:        SyntheticSource,
		Synthetic:     true,
		LastRefreshed: now,
		Monthly:       make([]models.PricePoint, 0, syntheticMonths),
		Daily:         make([]models.PricePoint, 0, syntheticDays),
	}

	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := syntheticMonths - 1; i >= 0; i-- {
		s.Monthly = append(s.Monthly, syntheticBar(thisMonth.AddDate(0, -i, 0), base, rng))
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for i := syntheticDays - 1; i >= 0; i-- {
		s.Daily = append(s.Daily, syntheticBar(today.AddDate(0, 0, -i), base, rng))
	}
	return s
}

func syntheticBar(date time.Time, base float64, rng *rand.Rand) models.PricePoint {
	jitter := func() float64 { return base * (1 + (rng.Float64()*2-1)*syntheticJitter) }

	open, last := jitter(), jitter()
	high, low := max(open, last), min(open, last)
	// Widen the range a little without leaving the band.
	high += (base*(1+syntheticJitter) - high) * rng.Float64() * 0.5
	low -= (low - base*(1-syntheticJitter)) * rng.Float64() * 0.5

	return models.PricePoint{
		Date: date,
		OHLCV: models.OHLCV{
			Open:   open,
			High:   high,
			Low:    low,
			Close:  last,
			Volume: float64(rng.Intn(9_000_000) + 1_000_000),
		},
	}
}
