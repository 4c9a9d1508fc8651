package models

import (
	"sort"
	"time"
)

const DateLayout = "2006-01-02"

type OHLCV struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type PricePoint struct {
	Date time.Time `json:"date"`
	OHLCV
}

// PriceSeries is the provider-neutral time series handed to the simulation
// engine. Close is the valuation price. Monthly and Daily are kept sorted
// ascending by date with unique dates.
type PriceSeries struct {
	Symbol        string       `json:"symbol"`
	Source        string       `json:"source"`
	Synthetic     bool         `json:"synthetic"`
	LastRefreshed time.Time    `json:"lastRefreshed"`
	Monthly       []PricePoint `json:"monthly"`
	Daily         []PricePoint `json:"daily,omitempty"`
}

// Normalize sorts both resolutions ascending and drops duplicate dates,
// keeping the last occurrence.
func (s *PriceSeries) Normalize() {
	s.Monthly = normalizePoints(s.Monthly)
	s.Daily = normalizePoints(s.Daily)
}

// Points returns the series used for simulation: monthly data when present,
// daily otherwise.
func (s *PriceSeries) Points() []PricePoint {
	if s == nil {
		return nil
	}
	if len(s.Monthly) > 0 {
		return s.Monthly
	}
	return s.Daily
}

func (s *PriceSeries) Empty() bool {
	return len(s.Points()) == 0
}

func normalizePoints(in []PricePoint) []PricePoint {
	if len(in) == 0 {
		return in
	}
	byDate := make(map[string]PricePoint, len(in))
	for _, p := range in {
		byDate[p.Date.Format(DateLayout)] = p
	}
	out := make([]PricePoint, 0, len(byDate))
	for _, p := range byDate {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// MonthKey returns the YYYY-MM bucket for a date.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}
