package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kjannette/kakeibo-whatif/internal/models"
)

// Failure classes surfaced by quote providers. Callers branch on these with
// errors.Is; every one of them means "this upstream answer is unusable".
var (
	ErrRateLimited   = errors.New("upstream rate limited")
	ErrInvalidSymbol = errors.New("upstream rejected symbol")
	ErrMalformed     = errors.New("malformed upstream response")
)

// Provider resolves a ticker symbol to a normalized price series.
type Provider interface {
	Name() string
	FetchSeries(ctx context.Context, symbol string) (*models.PriceSeries, error)
}

// Limiter gates outbound calls against an upstream budget. A non-nil error
// means the call must not be made.
type Limiter interface {
	Acquire(ctx context.Context) error
}

func acquire(ctx context.Context, l Limiter, provider string) error {
	if l == nil {
		return nil
	}
	if err := l.Acquire(ctx); err != nil {
		return fmt.Errorf("%s: %w: %v", provider, ErrRateLimited, err)
	}
	return nil
}

// ProviderConfig selects and configures an upstream by name.
type ProviderConfig struct {
	Name         string // alphavantage | yahoo
	APIKey       string
	IncludeDaily bool
	Timeout      time.Duration
	Limiter      Limiter
}

func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "alphavantage", "":
		return NewAlphaVantageClient(cfg.APIKey, AlphaVantageOptions{
			IncludeDaily: cfg.IncludeDaily,
			Timeout:      cfg.Timeout,
			Limiter:      cfg.Limiter,
		}), nil
	case "yahoo":
		return NewYahooClient(YahooOptions{
			IncludeDaily: cfg.IncludeDaily,
			Timeout:      cfg.Timeout,
			Limiter:      cfg.Limiter,
		}), nil
	default:
		return nil, fmt.Errorf("unknown quote provider %q", cfg.Name)
	}
}
