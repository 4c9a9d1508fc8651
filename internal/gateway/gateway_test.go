package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/kakeibo-whatif/internal/external"
	"github.com/kjannette/kakeibo-whatif/internal/models"
	"github.com/kjannette/kakeibo-whatif/internal/repository"
)

type fakeProvider struct {
	calls  atomic.Int32
	series func(symbol string) *models.PriceSeries
	err    error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchSeries(_ context.Context, symbol string) (*models.PriceSeries, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.series(symbol), nil
}

func realSeries(symbol string) *models.PriceSeries {
	return &models.PriceSeries{
		Symbol: symbol,
		Source: "fake",
		Monthly: []models.PricePoint{
			{Date: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), OHLCV: models.OHLCV{Close: 500}},
			{Date: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), OHLCV: models.OHLCV{Close: 300}},
			{Date: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), OHLCV: models.OHLCV{Close: 400}},
		},
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Send(_ context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*models.CacheEntry, error) {
	return nil, errors.New("connection refused")
}
func (failingStore) Upsert(context.Context, *models.CacheEntry) error {
	return errors.New("connection refused")
}

// flakyStore wraps a real store and fails the next failGets reads.
type flakyStore struct {
	Store
	failGets atomic.Int32
	upserts  atomic.Int32
}

func (f *flakyStore) Get(ctx context.Context, symbol string) (*models.CacheEntry, error) {
	if f.failGets.Add(-1) >= 0 {
		return nil, errors.New("read timeout")
	}
	return f.Store.Get(ctx, symbol)
}

func (f *flakyStore) Upsert(ctx context.Context, e *models.CacheEntry) error {
	f.upserts.Add(1)
	return f.Store.Upsert(ctx, e)
}

func newTestGateway(store Store, p external.Provider, clk *clock, n Notifier) *Gateway {
	return New(store, p, Options{TTL: 24 * time.Hour, Now: clk.now, Notifier: n})
}

func seed(t *testing.T, store Store, s *models.PriceSeries, fetchedAt time.Time) {
	t.Helper()
	e, err := models.NewCacheEntry(s, fetchedAt)
	if err != nil {
		t.Fatalf("NewCacheEntry: %v", err)
	}
	if err := store.Upsert(context.Background(), e); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestGetSeries_LiveThenCached(t *testing.T) {
	clk := &clock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryQuoteCache()
	prov := &fakeProvider{series: realSeries}
	g := newTestGateway(store, prov, clk, nil)

	first, err := g.GetSeries(context.Background(), " spy ")
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if first.Status != StatusFreshLive {
		t.Fatalf("expected fresh_live, got %s", first.Status)
	}
	if first.Series.Symbol != "SPY" {
		t.Fatalf("symbol not normalized: %q", first.Series.Symbol)
	}
	if first.Series.Monthly[0].Close != 300 {
		t.Fatal("live series should be sorted ascending")
	}

	entry, _ := store.Get(context.Background(), "SPY")
	if entry == nil || !entry.FetchedAt.Equal(clk.t) {
		t.Fatal("live result should be persisted with fetchedAt = now")
	}

	clk.t = clk.t.Add(3 * time.Hour)
	second, _ := g.GetSeries(context.Background(), "SPY")
	third, _ := g.GetSeries(context.Background(), "SPY")
	if second.Status != StatusFreshCached || third.Status != StatusFreshCached {
		t.Fatalf("expected fresh_cached, got %s / %s", second.Status, third.Status)
	}
	if prov.calls.Load() != 1 {
		t.Fatalf("cache hits must not call upstream, got %d calls", prov.calls.Load())
	}
	if second.Age != 3*time.Hour {
		t.Fatalf("age: got %s", second.Age)
	}

	a, _ := json.Marshal(first.Series)
	b, _ := json.Marshal(second.Series)
	c, _ := json.Marshal(third.Series)
	if string(a) != string(b) || string(b) != string(c) {
		t.Fatal("cached series must serialize byte-identically to the live one")
	}
}

func TestGetSeries_RateLimitedPrefersStale(t *testing.T) {
	clk := &clock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryQuoteCache()
	seed(t, store, realSeries("SPY"), clk.t.Add(-72*time.Hour))

	prov := &fakeProvider{err: fmt.Errorf("alphavantage: %w: 25 requests per day", external.ErrRateLimited)}
	g := newTestGateway(store, prov, clk, nil)

	res, err := g.GetSeries(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if res.Status != StatusStale {
		t.Fatalf("expected stale, got %s", res.Status)
	}
	if res.Series.Synthetic {
		t.Fatal("stale real data must win over synthetic")
	}
	if res.Age != 72*time.Hour {
		t.Fatalf("age: got %s", res.Age)
	}
	if res.Reason != "rate limited" {
		t.Fatalf("reason: got %q", res.Reason)
	}
	if prov.calls.Load() != 1 {
		t.Fatalf("expected one upstream attempt, got %d", prov.calls.Load())
	}

	entry, _ := store.Get(context.Background(), "SPY")
	if !entry.FetchedAt.Equal(clk.t.Add(-72 * time.Hour)) {
		t.Fatal("serving stale data must not rewrite the cache entry")
	}
}

func TestGetSeries_NoCacheFallsBackToSynthetic(t *testing.T) {
	clk := &clock{t: time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryQuoteCache()
	prov := &fakeProvider{err: errors.New("dial tcp: connection refused")}
	g := newTestGateway(store, prov, clk, nil)

	res, err := g.GetSeries(context.Background(), "VTI")
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if res.Status != StatusSynthetic || !res.Series.Synthetic {
		t.Fatalf("expected synthetic, got %s", res.Status)
	}
	if len(res.Series.Monthly) != 60 || len(res.Series.Daily) != 30 {
		t.Fatalf("unexpected synthetic shape: %d monthly, %d daily", len(res.Series.Monthly), len(res.Series.Daily))
	}

	// Stable within TTL: the persisted synthetic series is served back.
	clk.t = clk.t.Add(time.Hour)
	again, _ := g.GetSeries(context.Background(), "VTI")
	if again.Status != StatusSynthetic {
		t.Fatalf("cached synthetic data must still be reported as synthetic, got %s", again.Status)
	}
	a, _ := json.Marshal(res.Series)
	b, _ := json.Marshal(again.Series)
	if string(a) != string(b) {
		t.Fatal("synthetic series should be stable within the TTL")
	}
	if prov.calls.Load() != 1 {
		t.Fatalf("expected no upstream call within TTL, got %d", prov.calls.Load())
	}
}

func TestGetSeries_StaleSyntheticIsRegenerated(t *testing.T) {
	clk := &clock{t: time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryQuoteCache()
	old := Synthesize("VTI", 450, clk.t.Add(-48*time.Hour), rand.New(rand.NewSource(1)))
	seed(t, store, old, clk.t.Add(-48*time.Hour))

	prov := &fakeProvider{err: fmt.Errorf("%w: quota", external.ErrRateLimited)}
	g := newTestGateway(store, prov, clk, nil)

	res, _ := g.GetSeries(context.Background(), "VTI")
	if res.Status != StatusSynthetic {
		t.Fatalf("expected synthetic, got %s", res.Status)
	}
	if !res.FetchedAt.Equal(clk.t) {
		t.Fatal("stale synthetic data should be regenerated, not served as stale")
	}
}

func TestGetSeries_ExpiredEntryRefreshedLive(t *testing.T) {
	clk := &clock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryQuoteCache()
	seed(t, store, realSeries("SPY"), clk.t.Add(-25*time.Hour))

	prov := &fakeProvider{series: func(s string) *models.PriceSeries {
		out := realSeries(s)
		out.Monthly = append(out.Monthly, models.PricePoint{Date: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), OHLCV: models.OHLCV{Close: 450}})
		return out
	}}
	g := newTestGateway(store, prov, clk, nil)

	res, _ := g.GetSeries(context.Background(), "SPY")
	if res.Status != StatusFreshLive || len(res.Series.Monthly) != 4 {
		t.Fatalf("expected refreshed live data, got %s with %d points", res.Status, len(res.Series.Monthly))
	}
	entry, _ := store.Get(context.Background(), "SPY")
	if !entry.FetchedAt.Equal(clk.t) {
		t.Fatal("refresh should overwrite the cache entry")
	}
}

func TestGetSeries_EmptyUpstreamSeriesIsUnusable(t *testing.T) {
	clk := &clock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	prov := &fakeProvider{series: func(s string) *models.PriceSeries { return &models.PriceSeries{Symbol: s} }}
	g := newTestGateway(repository.NewMemoryQuoteCache(), prov, clk, nil)

	res, _ := g.GetSeries(context.Background(), "SPY")
	if res.Status != StatusSynthetic || res.Reason != "malformed response" {
		t.Fatalf("expected synthetic/malformed, got %s/%q", res.Status, res.Reason)
	}
}

func TestGetSeries_StoreFailureStillAnswers(t *testing.T) {
	clk := &clock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	prov := &fakeProvider{series: realSeries}
	g := newTestGateway(failingStore{}, prov, clk, nil)

	res, err := g.GetSeries(context.Background(), "SPY")
	if err != nil || res.Status != StatusFreshLive {
		t.Fatalf("expected live data despite a broken store, got %v / %v", res, err)
	}

	prov.err = errors.New("boom")
	res, err = g.GetSeries(context.Background(), "SPY")
	if err != nil || res.Status != StatusSynthetic {
		t.Fatalf("expected synthetic fallback, got %v / %v", res, err)
	}
}

func TestGetSeries_ReadErrorKeepsStaleEntry(t *testing.T) {
	clk := &clock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	store := &flakyStore{Store: repository.NewMemoryQuoteCache()}
	seed(t, store, realSeries("SPY"), clk.t.Add(-72*time.Hour))
	store.upserts.Store(0)
	store.failGets.Store(1)

	prov := &fakeProvider{err: fmt.Errorf("alphavantage: %w", external.ErrRateLimited)}
	g := newTestGateway(store, prov, clk, nil)

	first, err := g.GetSeries(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if first.Status != StatusSynthetic {
		t.Fatalf("expected synthetic while the store is unreadable, got %s", first.Status)
	}
	if n := store.upserts.Load(); n != 0 {
		t.Fatalf("synthetic data must not be written after a failed read, got %d upserts", n)
	}

	second, err := g.GetSeries(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if second.Status != StatusStale || second.Series.Synthetic {
		t.Fatalf("expected the real stale entry once the store recovers, got %s", second.Status)
	}
}

func TestGetSeries_EmptySymbol(t *testing.T) {
	g := newTestGateway(repository.NewMemoryQuoteCache(), &fakeProvider{series: realSeries}, &clock{t: time.Now()}, nil)
	if _, err := g.GetSeries(context.Background(), "   "); !errors.Is(err, ErrInvalidSymbol) {
		t.Fatalf("expected ErrInvalidSymbol, got %v", err)
	}
}

func TestRefresh_ReportsUpstreamError(t *testing.T) {
	clk := &clock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryQuoteCache()
	seed(t, store, realSeries("SPY"), clk.t.Add(-time.Hour))

	prov := &fakeProvider{err: fmt.Errorf("%w: slow down", external.ErrRateLimited)}
	g := newTestGateway(store, prov, clk, nil)

	if _, err := g.Refresh(context.Background(), "SPY"); !errors.Is(err, external.ErrRateLimited) {
		t.Fatalf("expected wrapped ErrRateLimited, got %v", err)
	}
	entry, _ := store.Get(context.Background(), "SPY")
	if !entry.FetchedAt.Equal(clk.t.Add(-time.Hour)) {
		t.Fatal("failed refresh must leave the cache alone")
	}
}

func TestGetSeries_NotifiesOnStatusChange(t *testing.T) {
	clk := &clock{t: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryQuoteCache()
	notifier := &recordingNotifier{}
	prov := &fakeProvider{err: fmt.Errorf("%w: slow down", external.ErrRateLimited)}
	g := newTestGateway(store, prov, clk, notifier)

	g.GetSeries(context.Background(), "SPY") // synthetic
	clk.t = clk.t.Add(time.Hour)
	g.GetSeries(context.Background(), "SPY") // cached synthetic, same status
	clk.t = clk.t.Add(24 * time.Hour)
	prov.err = nil
	prov.series = realSeries
	g.GetSeries(context.Background(), "SPY") // recovered
	g.GetSeries(context.Background(), "SPY") // fresh_cached, no alert
	g.WaitNotifications()

	msgs := notifier.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 notifications, got %d: %v", len(msgs), msgs)
	}
	var degraded, recovered bool
	for _, m := range msgs {
		if strings.Contains(m, "degraded to synthetic") && strings.Contains(m, "rate limited") {
			degraded = true
		}
		if strings.Contains(m, "recovered") {
			recovered = true
		}
	}
	if !degraded || !recovered {
		t.Fatalf("expected a degradation and a recovery alert, got %v", msgs)
	}
	if got := g.Statuses()["SPY"]; got != StatusFreshCached {
		t.Fatalf("last status: got %s", got)
	}
}

func TestSynthesize_Shape(t *testing.T) {
	now := time.Date(2024, 4, 15, 18, 30, 0, 0, time.UTC)
	s := Synthesize("SPY", 450, now, rand.New(rand.NewSource(42)))

	if !s.Synthetic || s.Source != SyntheticSource {
		t.Fatal("synthetic series must be flagged")
	}
	if got := s.Monthly[len(s.Monthly)-1].Date; !got.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("monthly series should end at the current month, got %s", got)
	}
	if got := s.Monthly[0].Date; !got.Equal(time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("monthly series should start 59 months back, got %s", got)
	}
	if got := s.Daily[len(s.Daily)-1].Date; !got.Equal(time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("daily series should end today, got %s", got)
	}

	for _, pts := range [][]models.PricePoint{s.Monthly, s.Daily} {
		for i, p := range pts {
			if p.Close < 450*0.95 || p.Close > 450*1.05 {
				t.Fatalf("close %f outside ±5%% band", p.Close)
			}
			if p.High < max(p.Open, p.Close) || p.Low > min(p.Open, p.Close) {
				t.Fatalf("inconsistent bar: %+v", p.OHLCV)
			}
			if p.High > 450*1.05+1e-9 || p.Low < 450*0.95-1e-9 {
				t.Fatalf("range left the band: %+v", p.OHLCV)
			}
			if i > 0 && !pts[i-1].Date.Before(p.Date) {
				t.Fatal("dates must increase")
			}
		}
	}
}
