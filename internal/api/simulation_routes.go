package api

import (
	"net/http"

	"github.com/kjannette/kakeibo-whatif/internal/models"
	"github.com/kjannette/kakeibo-whatif/internal/simulation"
)

const (
	defaultAmount = 10000
	defaultYears  = 5
	maxYears      = 50
)

type simulationResponse struct {
	Quote      quoteMeta                `json:"quote"`
	Parameters map[string]any           `json:"parameters"`
	Result     *models.SimulationResult `json:"result"`
}

// GET /v1/simulations/lump-sum?symbol=SPY&amount=10000&years=5
func (s *Server) handleLumpSum(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resolveSeries(w, r, s.symbolParam(r))
	if !ok {
		return
	}
	amount := parseAmount(r, "amount", defaultAmount)
	years := parseYears(r, defaultYears, maxYears)

	writeJSON(w, http.StatusOK, simulationResponse{
		Quote:      s.newQuoteMeta(res),
		Parameters: map[string]any{"amount": amount, "years": years},
		Result:     rounded(s.deps.Engine.LumpSum(res.Series, amount, years)),
	})
}

// GET /v1/simulations/periodic?symbol=SPY&budget=10000&years=5
func (s *Server) handlePeriodic(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resolveSeries(w, r, s.symbolParam(r))
	if !ok {
		return
	}
	budget := parseAmount(r, "budget", defaultAmount)
	years := parseYears(r, defaultYears, maxYears)

	writeJSON(w, http.StatusOK, simulationResponse{
		Quote: s.newQuoteMeta(res),
		Parameters: map[string]any{
			"budget":      budget,
			"years":       years,
			"installment": simulation.Round2(budget / float64(years*12)),
		},
		Result: rounded(s.deps.Engine.Periodic(res.Series, budget, years)),
	})
}

// GET /v1/simulations/ledger?owner=...&symbol=SPY
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	months, ok := s.loadInvestments(w, r)
	if !ok {
		return
	}
	res, ok := s.resolveSeries(w, r, s.symbolParam(r))
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, simulationResponse{
		Quote:      s.newQuoteMeta(res),
		Parameters: map[string]any{"months": len(months)},
		Result:     rounded(s.deps.Engine.Ledger(res.Series, simulation.LedgerAmounts(months))),
	})
}

// rounded returns a display copy with money and percentages at two decimals.
// Shares keep full precision.
func rounded(in *models.SimulationResult) *models.SimulationResult {
	out := *in
	out.StartPrice = simulation.Round2(in.StartPrice)
	out.CurrentPrice = simulation.Round2(in.CurrentPrice)
	out.AmountInvested = simulation.Round2(in.AmountInvested)
	out.CurrentValue = simulation.Round2(in.CurrentValue)
	out.Profit = simulation.Round2(in.Profit)
	out.ProfitPercent = simulation.Round2(in.ProfitPercent)
	out.AnnualizedReturnPercent = simulation.Round2(in.AnnualizedReturnPercent)

	out.Snapshots = make([]models.Snapshot, len(in.Snapshots))
	for i, snap := range in.Snapshots {
		snap.Price = simulation.Round2(snap.Price)
		snap.Purchased = simulation.Round2(snap.Purchased)
		snap.Invested = simulation.Round2(snap.Invested)
		snap.Value = simulation.Round2(snap.Value)
		snap.Profit = simulation.Round2(snap.Profit)
		out.Snapshots[i] = snap
	}

	out.Chart = models.ChartSeries{
		Labels:    in.Chart.Labels,
		Principal: roundAll(in.Chart.Principal),
		Valuation: roundAll(in.Chart.Valuation),
	}
	return &out
}

func roundAll(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = simulation.Round2(v)
	}
	return out
}
