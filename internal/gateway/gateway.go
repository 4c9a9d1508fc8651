package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/kakeibo-whatif/internal/external"
	"github.com/kjannette/kakeibo-whatif/internal/models"
)

// Status says where a series came from and how much to trust it.
type Status string

const (
	StatusFreshCached Status = "fresh_cached"
	StatusFreshLive   Status = "fresh_live"
	StatusStale       Status = "stale"
	StatusSynthetic   Status = "synthetic"
)

// Degraded reports whether callers are looking at something other than
// current real data.
func (s Status) Degraded() bool {
	return s == StatusStale || s == StatusSynthetic
}

var ErrInvalidSymbol = errors.New("symbol is required")

// Store is the cache backend. Get returns (nil, nil) on a miss.
type Store interface {
	Get(ctx context.Context, symbol string) (*models.CacheEntry, error)
	Upsert(ctx context.Context, e *models.CacheEntry) error
}

type Notifier interface {
	Send(ctx context.Context, msg string) error
}

type Options struct {
	TTL                time.Duration
	FetchTimeout       time.Duration
	SyntheticBasePrice float64
	Notifier           Notifier
	Now                func() time.Time
}

type SeriesResult struct {
	Series    *models.PriceSeries
	Status    Status
	FetchedAt time.Time
	Age       time.Duration
	Reason    string
}

// Gateway resolves symbols to price series: cache within TTL, then the
// upstream provider, then a stale cache entry, then synthetic data.
//
// Concurrent misses for one symbol may each call upstream and upsert; the
// last write wins.
type Gateway struct {
	store    Store
	provider external.Provider
	opts     Options

	mu       sync.Mutex
	statuses map[string]Status
	notifyWG sync.WaitGroup
}

func New(store Store, provider external.Provider, opts Options) *Gateway {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 8 * time.Second
	}
	if opts.SyntheticBasePrice <= 0 {
		opts.SyntheticBasePrice = 450
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gateway{
		store:    store,
		provider: provider,
		opts:     opts,
		statuses: make(map[string]Status),
	}
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// GetSeries never fails for a non-empty symbol: every upstream or storage
// problem degrades the result instead.
func (g *Gateway) GetSeries(ctx context.Context, symbol string) (*SeriesResult, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return nil, ErrInvalidSymbol
	}
	now := g.opts.Now()

	cached, cachedSeries, readErr := g.lookup(ctx, sym)
	if cached != nil && cached.Age(now) < g.opts.TTL {
		status := StatusFreshCached
		reason := ""
		if cachedSeries.Synthetic {
			status = StatusSynthetic
			reason = "cached synthetic data"
		}
		return g.finish(sym, &SeriesResult{
			Series:    cachedSeries,
			Status:    status,
			FetchedAt: cached.FetchedAt,
			Age:       cached.Age(now),
			Reason:    reason,
		}), nil
	}

	series, err := g.fetch(ctx, sym)
	if err == nil {
		g.persist(ctx, series, now)
		return g.finish(sym, &SeriesResult{
			Series:    series,
			Status:    StatusFreshLive,
			FetchedAt: now,
		}), nil
	}
	reason := describe(err)
	fmt.Printf("[GATEWAY] %s: upstream unusable (%s): %v\n", sym, reason, err)

	if cached != nil && !cachedSeries.Synthetic {
		return g.finish(sym, &SeriesResult{
			Series:    cachedSeries,
			Status:    StatusStale,
			FetchedAt: cached.FetchedAt,
			Age:       cached.Age(now),
			Reason:    reason,
		}), nil
	}

	synth := Synthesize(sym, g.opts.SyntheticBasePrice, now, rand.New(rand.NewSource(now.UnixNano())))
	// An unreadable store may still hold real data; don't overwrite it.
	if readErr == nil {
		g.persist(ctx, synth, now)
	}
	return g.finish(sym, &SeriesResult{
		Series:    synth,
		Status:    StatusSynthetic,
		FetchedAt: now,
		Reason:    reason,
	}), nil
}

// Refresh skips the TTL check and goes straight to the provider. It reports
// the upstream error instead of degrading, and leaves the cache untouched
// on failure.
func (g *Gateway) Refresh(ctx context.Context, symbol string) (*SeriesResult, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return nil, ErrInvalidSymbol
	}
	now := g.opts.Now()

	series, err := g.fetch(ctx, sym)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", sym, err)
	}
	g.persist(ctx, series, now)
	return g.finish(sym, &SeriesResult{Series: series, Status: StatusFreshLive, FetchedAt: now}), nil
}

// lookup treats storage errors and undecodable payloads as a miss. The
// returned error is the store's read error only; callers use it to avoid
// clobbering entries they could not see.
func (g *Gateway) lookup(ctx context.Context, sym string) (*models.CacheEntry, *models.PriceSeries, error) {
	entry, err := g.store.Get(ctx, sym)
	if err != nil {
		fmt.Printf("[GATEWAY] %s: cache read failed: %v\n", sym, err)
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, nil
	}
	series, err := entry.Decode()
	if err != nil || series.Empty() {
		fmt.Printf("[GATEWAY] %s: discarding unreadable cache entry: %v\n", sym, err)
		return nil, nil, nil
	}
	series.Normalize()
	return entry, series, nil
}

func (g *Gateway) fetch(ctx context.Context, sym string) (*models.PriceSeries, error) {
	if g.provider == nil {
		return nil, errors.New("no upstream provider configured")
	}
	ctx, cancel := context.WithTimeout(ctx, g.opts.FetchTimeout)
	defer cancel()

	series, err := g.provider.FetchSeries(ctx, sym)
	if err != nil {
		return nil, err
	}
	if series == nil || series.Empty() {
		return nil, fmt.Errorf("%s: %w: empty series", g.provider.Name(), external.ErrMalformed)
	}
	series.Symbol = sym
	series.Normalize()
	return series, nil
}

func (g *Gateway) persist(ctx context.Context, series *models.PriceSeries, now time.Time) {
	entry, err := models.NewCacheEntry(series, now)
	if err != nil {
		fmt.Printf("[GATEWAY] %s: encode for cache: %v\n", series.Symbol, err)
		return
	}
	if err := g.store.Upsert(ctx, entry); err != nil {
		fmt.Printf("[GATEWAY] %s: cache write failed: %v\n", series.Symbol, err)
	}
}

// finish records the symbol's status and alerts when it changes into or out
// of a degraded state.
func (g *Gateway) finish(sym string, res *SeriesResult) *SeriesResult {
	g.mu.Lock()
	prev, seen := g.statuses[sym]
	g.statuses[sym] = res.Status
	g.mu.Unlock()

	fmt.Printf("[GATEWAY] %s -> %s (%d points)\n", sym, res.Status, len(res.Series.Points()))

	if g.opts.Notifier == nil || prev == res.Status {
		return res
	}
	if !res.Status.Degraded() && (!seen || !prev.Degraded()) {
		return res
	}

	msg := statusMessage(sym, prev, res)
	g.notifyWG.Add(1)
	go func() {
		defer g.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := g.opts.Notifier.Send(ctx, msg); err != nil {
			fmt.Printf("[GATEWAY] notification failed: %v\n", err)
		}
	}()
	return res
}

// WaitNotifications blocks until in-flight status alerts are delivered.
func (g *Gateway) WaitNotifications() {
	g.notifyWG.Wait()
}

// Statuses returns the last status served per symbol.
func (g *Gateway) Statuses() map[string]Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]Status, len(g.statuses))
	for k, v := range g.statuses {
		out[k] = v
	}
	return out
}

func statusMessage(sym string, prev Status, res *SeriesResult) string {
	if !res.Status.Degraded() {
		return fmt.Sprintf("%s quotes recovered (%s, was %s)", sym, res.Status, prev)
	}
	msg := fmt.Sprintf("%s quotes degraded to %s", sym, res.Status)
	if res.Status == StatusStale {
		msg += fmt.Sprintf(", serving data %.1fh old", res.Age.Hours())
	}
	if res.Reason != "" {
		msg += ": " + res.Reason
	}
	return msg
}

func describe(err error) string {
	switch {
	case errors.Is(err, external.ErrRateLimited):
		return "rate limited"
	case errors.Is(err, external.ErrInvalidSymbol):
		return "invalid symbol"
	case errors.Is(err, external.ErrMalformed):
		return "malformed response"
	case errors.Is(err, context.DeadlineExceeded):
		return "upstream timeout"
	default:
		return "upstream unavailable"
	}
}
