package api

import (
	"net/http"
	"time"

	"github.com/kjannette/kakeibo-whatif/internal/gateway"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Database string                    `json:"database"`
	Quotes   map[string]gateway.Status `json:"quotes"`
}

// statusReporter is implemented by the gateway; fakes may skip it.
type statusReporter interface {
	Statuses() map[string]gateway.Status
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "not configured"
	if s.deps.DB != nil {
		dbStatus = "connected"
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			dbStatus = "disconnected"
		}
	}

	quotes := map[string]gateway.Status{}
	if rep, ok := s.deps.Quotes.(statusReporter); ok {
		quotes = rep.Statuses()
	}

	status := "ok"
	for _, st := range quotes {
		if st.Degraded() {
			status = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Timestamp: s.deps.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus, Quotes: quotes},
	})
}
