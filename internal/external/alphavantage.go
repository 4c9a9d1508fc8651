package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/kakeibo-whatif/internal/httputil"
	"github.com/kjannette/kakeibo-whatif/internal/models"
)

const alphaVantageURL = "https://www.alphavantage.co/query"

const (
	avMonthlyFunction = "TIME_SERIES_MONTHLY"
	avMonthlyKey      = "Monthly Time Series"
	avDailyFunction   = "TIME_SERIES_DAILY"
	avDailyKey        = "Time Series (Daily)"
)

type AlphaVantageClient struct {
	apiKey       string
	baseURL      string
	includeDaily bool
	limiter      Limiter
	httpClient   *http.Client
	retry        httputil.RetryConfig
}

type AlphaVantageOptions struct {
	BaseURL      string
	IncludeDaily bool
	Timeout      time.Duration
	Limiter      Limiter
}

func NewAlphaVantageClient(apiKey string, opts AlphaVantageOptions) *AlphaVantageClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = alphaVantageURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &AlphaVantageClient{
		apiKey:       apiKey,
		baseURL:      baseURL,
		includeDaily: opts.IncludeDaily,
		limiter:      opts.Limiter,
		httpClient:   &http.Client{Timeout: timeout},
		retry: httputil.RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   1 * time.Second,
			MaxDelay:    3 * time.Second,
		},
	}
}

func (c *AlphaVantageClient) Name() string { return "alphavantage" }

// FetchSeries pulls the monthly series and, when configured, the daily one.
// A daily failure after a good monthly answer is logged and dropped.
func (c *AlphaVantageClient) FetchSeries(ctx context.Context, symbol string) (*models.PriceSeries, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("alphavantage: API key not configured")
	}

	monthly, refreshed, err := c.fetch(ctx, symbol, avMonthlyFunction, avMonthlyKey)
	if err != nil {
		return nil, err
	}

	series := &models.PriceSeries{
		Symbol:        symbol,
		Source:        c.Name(),
		LastRefreshed: refreshed,
		Monthly:       monthly,
	}

	if c.includeDaily {
		daily, _, err := c.fetch(ctx, symbol, avDailyFunction, avDailyKey)
		if err != nil {
			fmt.Printf("[AV] Daily series for %s unavailable: %v\n", symbol, err)
		} else {
			series.Daily = daily
		}
	}

	series.Normalize()
	fmt.Printf("[AV] %s: %d monthly, %d daily points\n", symbol, len(series.Monthly), len(series.Daily))
	return series, nil
}

// avResponse mirrors the parts of an Alpha Vantage payload we look at. Errors
// arrive as HTTP 200 with one of the message fields set instead of a series.
type avResponse struct {
	Meta         map[string]string `json:"Meta Data"`
	ErrorMessage string            `json:"Error Message"`
	Note         string            `json:"Note"`
	Information  string            `json:"Information"`
}

type avBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

func (c *AlphaVantageClient) fetch(ctx context.Context, symbol, function, seriesKey string) ([]models.PricePoint, time.Time, error) {
	if err := acquire(ctx, c.limiter, c.Name()); err != nil {
		return nil, time.Time{}, err
	}

	q := url.Values{}
	q.Set("function", function)
	q.Set("symbol", symbol)
	q.Set("apikey", c.apiKey)
	reqURL := c.baseURL + "?" + q.Encode()

	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("alphavantage fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, time.Time{}, fmt.Errorf("alphavantage: %w (HTTP 429)", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, time.Time{}, fmt.Errorf("alphavantage returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("alphavantage read body: %w", err)
	}
	return parseAlphaVantage(body, seriesKey)
}

// parseAlphaVantage classifies the payload by which fields are present, not
// by message wording, and converts the stringified bars into typed points.
func parseAlphaVantage(body []byte, seriesKey string) ([]models.PricePoint, time.Time, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, time.Time{}, fmt.Errorf("alphavantage decode: %w: %v", ErrMalformed, err)
	}
	var env avResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("alphavantage decode: %w: %v", ErrMalformed, err)
	}

	seriesRaw, hasSeries := raw[seriesKey]
	switch {
	case env.ErrorMessage != "":
		return nil, time.Time{}, fmt.Errorf("alphavantage: %w: %s", ErrInvalidSymbol, env.ErrorMessage)
	case !hasSeries && (env.Note != "" || env.Information != ""):
		msg := env.Note
		if msg == "" {
			msg = env.Information
		}
		return nil, time.Time{}, fmt.Errorf("alphavantage: %w: %s", ErrRateLimited, msg)
	case !hasSeries:
		return nil, time.Time{}, fmt.Errorf("alphavantage: %w: missing %q", ErrMalformed, seriesKey)
	}

	var bars map[string]avBar
	if err := json.Unmarshal(seriesRaw, &bars); err != nil {
		return nil, time.Time{}, fmt.Errorf("alphavantage series: %w: %v", ErrMalformed, err)
	}

	points := make([]models.PricePoint, 0, len(bars))
	for date, bar := range bars {
		p, err := bar.point(date)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("alphavantage bar %s: %w: %v", date, ErrMalformed, err)
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil, time.Time{}, fmt.Errorf("alphavantage: %w: empty series", ErrMalformed)
	}

	return points, parseRefreshed(env.Meta["3. Last Refreshed"]), nil
}

func (b avBar) point(date string) (models.PricePoint, error) {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return models.PricePoint{}, err
	}
	var vals [5]float64
	for i, s := range []string{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if vals[i], err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return models.PricePoint{}, err
		}
	}
	return models.PricePoint{
		Date:  d,
		OHLCV: models.OHLCV{Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]},
	}, nil
}

func parseRefreshed(v string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", models.DateLayout} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
