package scheduler_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/kakeibo-whatif/internal/gateway"
	"github.com/kjannette/kakeibo-whatif/internal/models"
	"github.com/kjannette/kakeibo-whatif/internal/scheduler"
)

type fakeSource struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeSource) GetSeries(ctx context.Context, symbol string) (*gateway.SeriesResult, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.delay):
	}

	sym := gateway.NormalizeSymbol(symbol)
	if sym == "" {
		return nil, gateway.ErrInvalidSymbol
	}
	status := gateway.StatusFreshCached
	if sym == "QQQ" {
		status = gateway.StatusStale
	}
	return &gateway.SeriesResult{Series: &models.PriceSeries{Symbol: sym}, Status: status}, nil
}

func TestWarmNow_WarmsAllSymbolsWithBoundedConcurrency(t *testing.T) {
	src := &fakeSource{delay: 30 * time.Millisecond}
	var mu sync.Mutex
	warmed := map[string]bool{}

	w := scheduler.NewWarmer(src, scheduler.WarmerConfig{
		Symbols:     []string{"SPY", "qqq", "VTI", "VOO", "IWM"},
		Concurrency: 2,
		OnWarm: func(symbol string, _ *gateway.SeriesResult) {
			mu.Lock()
			warmed[symbol] = true
			mu.Unlock()
		},
	})

	statuses, err := w.WarmNow(context.Background())
	if err != nil {
		t.Fatalf("WarmNow: %v", err)
	}
	if len(statuses) != 5 || len(warmed) != 5 {
		t.Fatalf("expected 5 warmed symbols, got %v", statuses)
	}
	if statuses["QQQ"] != gateway.StatusStale {
		t.Fatalf("QQQ status: got %s", statuses["QQQ"])
	}
	if src.peak.Load() > 2 {
		t.Fatalf("concurrency limit exceeded: peak %d", src.peak.Load())
	}
	t.Logf("Peak concurrency: %d", src.peak.Load())
}

func TestWarmNow_ReportsBadSymbolsAndKeepsGoing(t *testing.T) {
	src := &fakeSource{}
	w := scheduler.NewWarmer(src, scheduler.WarmerConfig{Symbols: []string{"SPY", " ", "VTI"}})

	statuses, err := w.WarmNow(context.Background())
	if err == nil || !strings.Contains(err.Error(), "symbol is required") {
		t.Fatalf("expected the empty symbol to be reported, got %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("other symbols should still be warmed, got %v", statuses)
	}
}

func TestWarmer_StartStop(t *testing.T) {
	src := &fakeSource{}
	w := scheduler.NewWarmer(src, scheduler.WarmerConfig{
		Symbols:    []string{"SPY"},
		Schedule:   "@every 1h",
		RunOnStart: true,
	})

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !w.Running() {
		t.Fatal("expected running after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if src.calls.Load() == 0 {
		t.Fatal("RunOnStart should warm immediately")
	}

	w.Stop()
	if w.Running() {
		t.Fatal("expected stopped after Stop")
	}
	w.Stop() // idempotent
}

func TestWarmer_InvalidSchedule(t *testing.T) {
	w := scheduler.NewWarmer(&fakeSource{}, scheduler.WarmerConfig{
		Symbols:  []string{"SPY"},
		Schedule: "every tuesday-ish",
	})
	if err := w.Start(); err == nil {
		t.Fatal("expected an error for an unparseable schedule")
	}
	if w.Running() {
		t.Fatal("warmer must not run with a bad schedule")
	}
}

func TestWarmer_NoSymbolsDoesNotStart(t *testing.T) {
	w := scheduler.NewWarmer(&fakeSource{}, scheduler.WarmerConfig{})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if w.Running() {
		t.Fatal("warmer with no symbols should stay idle")
	}
}

type cachedSymbols struct {
	symbols []string
	err     error
}

func (c cachedSymbols) ListSymbols(context.Context) ([]string, error) {
	return c.symbols, c.err
}

func TestWarmNow_IncludesCachedSymbols(t *testing.T) {
	src := &fakeSource{}
	w := scheduler.NewWarmer(src, scheduler.WarmerConfig{
		Symbols: []string{"spy"},
		Cached:  cachedSymbols{symbols: []string{"SPY", "VTI", "QQQ"}},
	})

	statuses, err := w.WarmNow(context.Background())
	if err != nil {
		t.Fatalf("WarmNow: %v", err)
	}
	if len(statuses) != 3 || src.calls.Load() != 3 {
		t.Fatalf("expected SPY once plus the two cached symbols, got %v (%d calls)", statuses, src.calls.Load())
	}
}

func TestWarmNow_ListingFailureKeepsConfiguredSymbols(t *testing.T) {
	src := &fakeSource{}
	w := scheduler.NewWarmer(src, scheduler.WarmerConfig{
		Symbols: []string{"SPY"},
		Cached:  cachedSymbols{err: errors.New("database is locked")},
	})

	statuses, err := w.WarmNow(context.Background())
	if err == nil || !strings.Contains(err.Error(), "list cached symbols") {
		t.Fatalf("expected the listing error to be reported, got %v", err)
	}
	if statuses["SPY"] != gateway.StatusFreshCached {
		t.Fatalf("configured symbol should still be warmed, got %v", statuses)
	}
}

func TestWarmer_StartsWithOnlyCachedSymbols(t *testing.T) {
	w := scheduler.NewWarmer(&fakeSource{}, scheduler.WarmerConfig{
		Schedule: "@every 1h",
		Cached:   cachedSymbols{},
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()
	if !w.Running() {
		t.Fatal("a warmer backed by the cache should run without a configured list")
	}
}

func TestWarmer_StopWaitsForStartupRun(t *testing.T) {
	src := &fakeSource{delay: 200 * time.Millisecond}
	w := scheduler.NewWarmer(src, scheduler.WarmerConfig{
		Symbols:    []string{"SPY"},
		Schedule:   "@every 1h",
		RunOnStart: true,
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.inFlight.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if src.inFlight.Load() == 0 {
		t.Fatal("start-up run never began")
	}

	w.Stop()
	if n := src.inFlight.Load(); n != 0 {
		t.Fatalf("Stop returned with %d warm calls still in flight", n)
	}
}
