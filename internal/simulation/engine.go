package simulation

import (
	"math"
	"sort"
	"time"

	"github.com/kjannette/kakeibo-whatif/internal/models"
)

// Engine runs what-if investment simulations over a price series. It does no
// I/O; the clock only anchors "N years ago".
type Engine struct {
	now func() time.Time
}

func New(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// LumpSum invests amount once at the first price point on or after
// (today - yearsAgo), truncated to the month, and values it at the latest
// close.
func (e *Engine) LumpSum(series *models.PriceSeries, amount float64, yearsAgo int) *models.SimulationResult {
	res := &models.SimulationResult{Strategy: models.StrategyLumpSum}
	points := orderedPoints(series)
	if len(points) == 0 || amount <= 0 || yearsAgo <= 0 {
		return finalize(res)
	}

	start := startIndex(points, e.cutoff(yearsAgo))
	startPrice := points[start].Close
	if startPrice <= 0 {
		return finalize(res)
	}
	latest := points[len(points)-1]

	shares := amount / startPrice
	for i, p := range points[start:] {
		var purchase float64
		if i == 0 {
			purchase = amount
		}
		res.Snapshots = append(res.Snapshots, snapshot(p, purchase, amount, shares))
	}

	res.StartDate = points[start].Date
	res.EndDate = latest.Date
	res.StartPrice = startPrice
	res.CurrentPrice = latest.Close
	res.SharesHeld = shares
	res.AmountInvested = amount
	res.CurrentValue = shares * latest.Close
	res.Profit = res.CurrentValue - amount
	res.ProfitPercent = percent(res.Profit, amount)
	res.AnnualizedReturnPercent = Annualize(res.CurrentValue, amount, float64(yearsAgo))
	return finalize(res)
}

// Periodic splits totalBudget into yearsAgo*12 equal installments and buys
// one per available price point from the start date. Missing months are not
// filled in; the position just ends up smaller.
func (e *Engine) Periodic(series *models.PriceSeries, totalBudget float64, yearsAgo int) *models.SimulationResult {
	res := &models.SimulationResult{Strategy: models.StrategyPeriodic}
	points := orderedPoints(series)
	if len(points) == 0 || totalBudget <= 0 || yearsAgo <= 0 {
		return finalize(res)
	}

	months := yearsAgo * 12
	installment := totalBudget / float64(months)
	start := startIndex(points, e.cutoff(yearsAgo))

	var shares, invested float64
	steps := 0
	for _, p := range points[start:] {
		if steps == months {
			break
		}
		if p.Close <= 0 {
			continue
		}
		shares += installment / p.Close
		invested += installment
		steps++
		res.Snapshots = append(res.Snapshots, snapshot(p, installment, invested, shares))
	}
	if len(res.Snapshots) == 0 {
		return finalize(res)
	}

	first := res.Snapshots[0]
	last := res.Snapshots[len(res.Snapshots)-1]
	res.StartDate = first.Date
	res.EndDate = last.Date
	res.StartPrice = first.Price
	res.CurrentPrice = last.Price
	res.SharesHeld = last.Shares
	res.AmountInvested = last.Invested
	res.CurrentValue = last.Value
	res.Profit = last.Profit
	res.ProfitPercent = percent(res.Profit, res.AmountInvested)
	res.AnnualizedReturnPercent = Annualize(res.CurrentValue, res.AmountInvested, float64(yearsAgo))
	return finalize(res)
}

// Ledger replays recorded monthly investments (month key -> amount) against
// the series. A month buys at most once, at its first price point; months
// without a recorded amount keep the holdings and revalue them.
func (e *Engine) Ledger(series *models.PriceSeries, amounts map[string]float64) *models.SimulationResult {
	res := &models.SimulationResult{Strategy: models.StrategyLedger}
	points := orderedPoints(series)
	if len(points) == 0 || len(amounts) == 0 {
		return finalize(res)
	}

	bought := make(map[string]bool, len(amounts))
	var shares, invested float64
	for _, p := range points {
		key := models.MonthKey(p.Date)
		var purchase float64
		if amt := amounts[key]; amt > 0 && !bought[key] && p.Close > 0 {
			purchase = amt
			shares += amt / p.Close
			invested += amt
			bought[key] = true
		}
		if invested == 0 {
			continue
		}
		res.Snapshots = append(res.Snapshots, snapshot(p, purchase, invested, shares))
	}

	for _, key := range sortedKeys(amounts) {
		if amounts[key] > 0 && !bought[key] {
			res.UnmatchedMonths = append(res.UnmatchedMonths, key)
		}
	}
	if len(res.Snapshots) == 0 {
		return finalize(res)
	}

	first := res.Snapshots[0]
	last := res.Snapshots[len(res.Snapshots)-1]
	res.StartDate = first.Date
	res.EndDate = last.Date
	res.StartPrice = first.Price
	res.CurrentPrice = last.Price
	res.SharesHeld = last.Shares
	res.AmountInvested = last.Invested
	res.CurrentValue = last.Value
	res.Profit = last.Profit
	res.ProfitPercent = percent(res.Profit, res.AmountInvested)
	res.AnnualizedReturnPercent = Annualize(res.CurrentValue, res.AmountInvested, monthsBetween(first.Date, last.Date)/12)
	return finalize(res)
}

// Annualize returns the geometric yearly return implied by growing invested
// into value over years. A zero investment counts as 0% growth. For a
// non-positive period the total return is reported as-is.
func Annualize(value, invested, years float64) float64 {
	growth := 1.0
	if invested > 0 {
		growth = value / invested
	}
	if years <= 0 {
		return (growth - 1) * 100
	}
	if growth <= 0 {
		return -100
	}
	return (math.Pow(growth, 1/years) - 1) * 100
}

func (e *Engine) cutoff(yearsAgo int) time.Time {
	t := e.now().UTC().AddDate(-yearsAgo, 0, 0)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// orderedPoints returns the simulation points sorted ascending. Sources are
// not trusted to deliver them in order.
func orderedPoints(series *models.PriceSeries) []models.PricePoint {
	src := series.Points()
	if sort.SliceIsSorted(src, func(i, j int) bool { return src[i].Date.Before(src[j].Date) }) {
		return src
	}
	out := make([]models.PricePoint, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// startIndex finds the first point on or after cutoff, falling back to the
// earliest point when the series ends before it.
func startIndex(points []models.PricePoint, cutoff time.Time) int {
	for i, p := range points {
		if !p.Date.Before(cutoff) {
			return i
		}
	}
	return 0
}

func snapshot(p models.PricePoint, purchase, invested, shares float64) models.Snapshot {
	value := shares * p.Close
	return models.Snapshot{
		Date:      p.Date,
		Price:     p.Close,
		Purchased: purchase,
		Invested:  invested,
		Shares:    shares,
		Value:     value,
		Profit:    value - invested,
	}
}

func finalize(res *models.SimulationResult) *models.SimulationResult {
	res.Chart = BuildChart(res.Snapshots)
	if res.Snapshots == nil {
		res.Snapshots = []models.Snapshot{}
	}
	return res
}

func percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}

func monthsBetween(a, b time.Time) float64 {
	return float64((b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month()))
}
