package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/kakeibo-whatif/internal/gateway"
)

// SeriesSource is the gateway surface the warmer drives.
type SeriesSource interface {
	GetSeries(ctx context.Context, symbol string) (*gateway.SeriesResult, error)
}

// SymbolLister reports the symbols already held in the quote cache.
type SymbolLister interface {
	ListSymbols(ctx context.Context) ([]string, error)
}

type WarmerConfig struct {
	Symbols     []string
	Cached      SymbolLister // when set, every cached symbol is warmed too
	Schedule    string        // standard 5-field cron spec or @every/@daily
	Concurrency int           // symbols warmed in parallel
	Timeout     time.Duration // per run
	RunOnStart  bool
	OnWarm      func(symbol string, res *gateway.SeriesResult)
}

// Warmer keeps the quote cache for a symbol list (plus whatever is already
// cached) populated so user requests land on cached data. Warming goes through GetSeries, so entries
// still within TTL cost no upstream calls.
type Warmer struct {
	source SeriesSource
	cfg    WarmerConfig

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	initial sync.WaitGroup
}

func NewWarmer(source SeriesSource, cfg WarmerConfig) *Warmer {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 */6 * * *"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Warmer{source: source, cfg: cfg}
}

func (w *Warmer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		fmt.Println("[WARMER] Already running")
		return nil
	}
	if len(w.cfg.Symbols) == 0 && w.cfg.Cached == nil {
		fmt.Println("[WARMER] No symbols configured, not starting")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(w.cfg.Schedule, w.scheduledRun); err != nil {
		return fmt.Errorf("register warm task %q: %w", w.cfg.Schedule, err)
	}
	c.Start()
	w.cron = c
	w.running = true

	if w.cfg.RunOnStart {
		w.initial.Add(1)
		go func() {
			defer w.initial.Done()
			w.scheduledRun()
		}()
	}

	fmt.Printf("[WARMER] Started (%s) for %v\n", w.cfg.Schedule, w.cfg.Symbols)
	return nil
}

// Stop halts the schedule and waits for in-flight runs, including the
// start-up run, to finish.
func (w *Warmer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	c := w.cron
	w.running = false
	w.cron = nil
	w.mu.Unlock()

	<-c.Stop().Done()
	w.initial.Wait()
	fmt.Println("[WARMER] Stopped")
}

func (w *Warmer) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// WarmNow warms every configured and cached symbol immediately and returns
// the status each one ended up with.
func (w *Warmer) WarmNow(ctx context.Context) (map[string]gateway.Status, error) {
	var errs []error
	symbols, err := w.symbols(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list cached symbols: %w", err))
	}
	fmt.Printf("[WARMER] Warming %d symbols\n", len(symbols))

	var mu sync.Mutex
	statuses := make(map[string]gateway.Status, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			res, err := w.source.GetSeries(gctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sym, err))
				return nil
			}
			statuses[res.Series.Symbol] = res.Status
			if w.cfg.OnWarm != nil {
				w.cfg.OnWarm(res.Series.Symbol, res)
			}
			return nil
		})
	}
	g.Wait()

	fmt.Printf("[WARMER] Done: %s\n", summarize(statuses))
	return statuses, errors.Join(errs...)
}

// symbols merges the configured list with the cache contents, deduplicated.
// A listing failure still returns the configured symbols.
func (w *Warmer) symbols(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(list []string) {
		for _, s := range list {
			// Blank entries are kept so GetSeries reports them.
			if sym := gateway.NormalizeSymbol(s); sym != "" {
				if seen[sym] {
					continue
				}
				seen[sym] = true
				s = sym
			}
			out = append(out, s)
		}
	}
	add(w.cfg.Symbols)

	if w.cfg.Cached == nil {
		return out, nil
	}
	cached, err := w.cfg.Cached.ListSymbols(ctx)
	add(cached)
	return out, err
}

func (w *Warmer) scheduledRun() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()
	if _, err := w.WarmNow(ctx); err != nil {
		fmt.Printf("[WARMER] Run finished with errors: %v\n", err)
	}
}

func summarize(statuses map[string]gateway.Status) string {
	if len(statuses) == 0 {
		return "nothing warmed"
	}
	syms := make([]string, 0, len(statuses))
	for s := range statuses {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	out := ""
	for i, s := range syms {
		if i > 0 {
			out += ", "
		}
		out += s + "=" + string(statuses[s])
	}
	return out
}
