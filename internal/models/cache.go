package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is one row of the quote cache: the serialized PriceSeries for a
// symbol and when it was fetched. Staleness is derived from FetchedAt.
type CacheEntry struct {
	Symbol    string          `json:"symbol"`
	Payload   json.RawMessage `json:"payload"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

func (e *CacheEntry) Decode() (*PriceSeries, error) {
	var s PriceSeries
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func NewCacheEntry(s *PriceSeries, fetchedAt time.Time) (*CacheEntry, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return &CacheEntry{
		Symbol:    s.Symbol,
		Payload:   payload,
		Source:    s.Source,
		FetchedAt: fetchedAt,
	}, nil
}
