package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kjannette/kakeibo-whatif/internal/gateway"
	"github.com/kjannette/kakeibo-whatif/internal/models"
)

// quoteMeta tells clients how far to trust the numbers they are shown.
type quoteMeta struct {
	Symbol     string         `json:"symbol"`
	Status     gateway.Status `json:"status"`
	Degraded   bool           `json:"degraded"`
	Source     string         `json:"source"`
	FetchedAt  time.Time      `json:"fetchedAt"`
	AgeSeconds int64          `json:"ageSeconds"`
	Age        string         `json:"age"`
	Reason     string         `json:"reason,omitempty"`
}

type quoteResponse struct {
	quoteMeta
	LastRefreshed time.Time           `json:"lastRefreshed"`
	Monthly       []models.PricePoint `json:"monthly"`
	Daily         []models.PricePoint `json:"daily"`
}

func (s *Server) newQuoteMeta(res *gateway.SeriesResult) quoteMeta {
	return quoteMeta{
		Symbol:     res.Series.Symbol,
		Status:     res.Status,
		Degraded:   res.Status.Degraded(),
		Source:     res.Series.Source,
		FetchedAt:  res.FetchedAt,
		AgeSeconds: int64(res.Age / time.Second),
		Age:        humanize.RelTime(res.FetchedAt, s.deps.Now(), "ago", "from now"),
		Reason:     res.Reason,
	}
}

// GET /v1/quotes/{symbol}?limit=N
// limit keeps the most recent N points of each resolution.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resolveSeries(w, r, r.PathValue("symbol"))
	if !ok {
		return
	}

	limit := parseLimit(r, maxQueryLimit)
	writeJSON(w, http.StatusOK, quoteResponse{
		quoteMeta:     s.newQuoteMeta(res),
		LastRefreshed: res.Series.LastRefreshed,
		Monthly:       tail(res.Series.Monthly, limit),
		Daily:         tail(res.Series.Daily, limit),
	})
}

// resolveSeries writes the error response itself and reports whether the
// caller should continue.
func (s *Server) resolveSeries(w http.ResponseWriter, r *http.Request, symbol string) (*gateway.SeriesResult, bool) {
	res, err := s.deps.Quotes.GetSeries(r.Context(), symbol)
	if errors.Is(err, gateway.ErrInvalidSymbol) {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return nil, false
	}
	if err != nil || res == nil || res.Series == nil {
		fmt.Printf("[API] %s: quote lookup for %q failed: %v\n", requestID(r.Context()), symbol, err)
		writeError(w, http.StatusInternalServerError, "failed to load quotes")
		return nil, false
	}
	return res, true
}

func tail(points []models.PricePoint, n int) []models.PricePoint {
	if points == nil {
		return []models.PricePoint{}
	}
	if len(points) > n {
		return points[len(points)-n:]
	}
	return points
}
