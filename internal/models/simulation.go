package models

import "time"

type Strategy string

const (
	StrategyLumpSum  Strategy = "lump"
	StrategyPeriodic Strategy = "periodic"
	StrategyLedger   Strategy = "ledger"
)

// Snapshot is the running state of a simulated position after one step.
type Snapshot struct {
	Date      time.Time `json:"date"`
	Price     float64   `json:"price"`
	Purchased float64   `json:"purchased"`
	Invested  float64   `json:"invested"`
	Shares    float64   `json:"shares"`
	Value     float64   `json:"value"`
	Profit    float64   `json:"profit"`
}

type ChartSeries struct {
	Labels    []string  `json:"labels"`
	Principal []float64 `json:"principal"`
	Valuation []float64 `json:"valuation"`
}

// SimulationResult is built fresh for every computation and never mutated
// afterwards.
type SimulationResult struct {
	Strategy                Strategy    `json:"strategy"`
	StartDate               time.Time   `json:"startDate"`
	EndDate                 time.Time   `json:"endDate"`
	StartPrice              float64     `json:"startPrice"`
	CurrentPrice            float64     `json:"currentPrice"`
	SharesHeld              float64     `json:"sharesHeld"`
	AmountInvested          float64     `json:"amountInvested"`
	CurrentValue            float64     `json:"currentValue"`
	Profit                  float64     `json:"profit"`
	ProfitPercent           float64     `json:"profitPercent"`
	AnnualizedReturnPercent float64     `json:"annualizedReturnPercent"`
	Snapshots               []Snapshot  `json:"snapshots"`
	Chart                   ChartSeries `json:"chart"`
	UnmatchedMonths         []string    `json:"unmatchedMonths,omitempty"`
}
