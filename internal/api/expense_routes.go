package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kjannette/kakeibo-whatif/internal/models"
	"github.com/kjannette/kakeibo-whatif/internal/simulation"
)

// loadInvestments validates owner/from/to, reads the owner's investment
// records and groups them by month. It writes the error response itself.
func (s *Server) loadInvestments(w http.ResponseWriter, r *http.Request) ([]models.MonthlyInvestment, bool) {
	if s.deps.Expenses == nil {
		writeError(w, http.StatusServiceUnavailable, "expense ledger not configured")
		return nil, false
	}

	q := r.URL.Query()
	owner := strings.TrimSpace(q.Get("owner"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return nil, false
	}

	from, to := q.Get("from"), q.Get("to")
	if from != "" && !validateDate(from) {
		writeError(w, http.StatusBadRequest, "invalid 'from' date format (expected YYYY-MM-DD)")
		return nil, false
	}
	if to != "" && !validateDate(to) {
		writeError(w, http.StatusBadRequest, "invalid 'to' date format (expected YYYY-MM-DD)")
		return nil, false
	}

	category := models.CategoryInvestment
	records, err := s.deps.Expenses.ListByOwner(r.Context(), owner, &category)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch expenses")
		return nil, false
	}

	return simulation.GroupByMonth(filterByDate(records, from, to)), true
}

func filterByDate(records []models.ExpenseRecord, from, to string) []models.ExpenseRecord {
	if from == "" && to == "" {
		return records
	}
	var lo, hi time.Time
	if from != "" {
		lo, _ = time.Parse(models.DateLayout, from)
	}
	if to != "" {
		hi, _ = time.Parse(models.DateLayout, to)
	}
	out := make([]models.ExpenseRecord, 0, len(records))
	for _, rec := range records {
		d := rec.Date.UTC().Truncate(24 * time.Hour)
		if from != "" && d.Before(lo) {
			continue
		}
		if to != "" && d.After(hi) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

type monthlyInvestmentsResponse struct {
	Owner  string                     `json:"owner"`
	Months []models.MonthlyInvestment `json:"months"`
	Count  int                        `json:"count"`
}

// GET /v1/expenses/investments/monthly?owner=...&from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleMonthlyInvestments(w http.ResponseWriter, r *http.Request) {
	months, ok := s.loadInvestments(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, monthlyInvestmentsResponse{
		Owner:  strings.TrimSpace(r.URL.Query().Get("owner")),
		Months: months,
		Count:  len(months),
	})
}

// maxExpenseBody bounds POST /v1/expenses request bodies.
const maxExpenseBody = 64 << 10

type recordExpenseRequest struct {
	OwnerID  string `json:"ownerId"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
	Date     string `json:"date"`
}

// POST /v1/expenses
func (s *Server) handleRecordExpense(w http.ResponseWriter, r *http.Request) {
	if s.deps.Expenses == nil {
		writeError(w, http.StatusServiceUnavailable, "expense ledger not configured")
		return
	}

	var req recordExpenseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExpenseBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec := models.ExpenseRecord{
		OwnerID:  strings.TrimSpace(req.OwnerID),
		Title:    strings.TrimSpace(req.Title),
		Category: strings.ToLower(strings.TrimSpace(req.Category)),
		Amount:   req.Amount,
	}
	switch {
	case rec.OwnerID == "":
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	case rec.Category == "":
		writeError(w, http.StatusBadRequest, "category is required")
		return
	case rec.Amount <= 0:
		writeError(w, http.StatusBadRequest, "amount must be a positive number of cents")
		return
	}
	if req.Date != "" {
		if !validateDate(req.Date) {
			writeError(w, http.StatusBadRequest, "invalid date format (expected YYYY-MM-DD)")
			return
		}
		rec.Date, _ = time.Parse(models.DateLayout, req.Date)
	} else {
		rec.Date = s.deps.Now().UTC()
	}

	created, err := s.deps.Expenses.Record(r.Context(), &rec)
	if err != nil {
		fmt.Printf("[API] Failed to record expense for %s: %v\n", rec.OwnerID, err)
		writeError(w, http.StatusInternalServerError, "failed to record expense")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
