package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kjannette/kakeibo-whatif/internal/gateway"
	"github.com/kjannette/kakeibo-whatif/internal/models"
	"github.com/kjannette/kakeibo-whatif/internal/simulation"
)

const (
	maxQueryLimit = 1000
	maxAmount     = 1e12
)

var dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// SeriesSource resolves symbols to price series (the quote gateway).
type SeriesSource interface {
	GetSeries(ctx context.Context, symbol string) (*gateway.SeriesResult, error)
}

// ExpenseStore records expenses and reads an owner's records ordered by date.
type ExpenseStore interface {
	Record(ctx context.Context, e *models.ExpenseRecord) (*models.ExpenseRecord, error)
	ListByOwner(ctx context.Context, ownerID string, category *string) ([]models.ExpenseRecord, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Quotes        SeriesSource
	Expenses      ExpenseStore  // nil disables ledger and expense routes
	DB            Pinger        // nil reports the database as not configured
	Engine        *simulation.Engine
	DefaultSymbol string
	Now           func() time.Time
}

type Server struct {
	deps       Deps
	httpServer *http.Server
	apiKey     string
}

func NewServer(deps Deps, port int, apiKey, corsOrigin string) *Server {
	if deps.Engine == nil {
		deps.Engine = simulation.New(deps.Now)
	}
	if deps.DefaultSymbol == "" {
		deps.DefaultSymbol = "SPY"
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		deps:   deps,
		apiKey: apiKey,
	}

	mux := http.NewServeMux()

	// Quote routes
	mux.HandleFunc("GET /v1/quotes/{symbol}", s.handleQuote)

	// Simulation routes
	mux.HandleFunc("GET /v1/simulations/lump-sum", s.handleLumpSum)
	mux.HandleFunc("GET /v1/simulations/periodic", s.handlePeriodic)
	mux.HandleFunc("GET /v1/simulations/ledger", s.handleLedger)

	// Expense routes
	mux.HandleFunc("POST /v1/expenses", s.handleRecordExpense)
	mux.HandleFunc("GET /v1/expenses/investments/monthly", s.handleMonthlyInvestments)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	handler := requestIDMiddleware(s.authMiddleware(corsMiddleware(mux, corsOrigin)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	fmt.Printf("[API] REST API server started on http://localhost%s\n", s.httpServer.Addr)
	fmt.Printf("[API] Health check: http://localhost%s/health\n", s.httpServer.Addr)
	if s.apiKey != "" {
		fmt.Println("[API] Authentication: enabled (Bearer token)")
	} else {
		fmt.Println("[API] Authentication: disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

type ctxKey int

const requestIDKey ctxKey = iota

// requestIDMiddleware tags every request with an X-Request-ID (the caller's,
// or a fresh UUID) and logs one line when it completes.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

		fmt.Printf("[API] %s %s %s -> %d (%s)\n", id, r.Method, r.URL.Path, rec.status,
			time.Since(start).Round(time.Millisecond))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

func validateDate(date string) bool {
	if !dateRegexp.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// parseAmount reads a positive money amount capped at maxAmount. Missing,
// unparseable or non-positive values fall back to the default.
func parseAmount(r *http.Request, key string, fallback float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || math.IsNaN(f) {
		return fallback
	}
	return math.Min(f, maxAmount)
}

// parseYears reads a whole number of years clamped to [1, maxYears].
func parseYears(r *http.Request, fallback, maxYears int) int {
	v := r.URL.Query().Get("years")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	if n < 1 {
		return 1
	}
	if n > maxYears {
		return maxYears
	}
	return n
}

func (s *Server) symbolParam(r *http.Request) string {
	if sym := gateway.NormalizeSymbol(r.URL.Query().Get("symbol")); sym != "" {
		return sym
	}
	return s.deps.DefaultSymbol
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
