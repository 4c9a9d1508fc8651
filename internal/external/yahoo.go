package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kjannette/kakeibo-whatif/internal/httputil"
	"github.com/kjannette/kakeibo-whatif/internal/models"
)

const yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooClient reads the public Yahoo Finance chart API. No key is needed but
// the endpoint throttles with plain HTTP 429s.
type YahooClient struct {
	baseURL      string
	includeDaily bool
	limiter      Limiter
	symbolMap    map[string]string
	httpClient   *http.Client
	retry        httputil.RetryConfig
}

type YahooOptions struct {
	BaseURL      string
	IncludeDaily bool
	Timeout      time.Duration
	Limiter      Limiter
}

func NewYahooClient(opts YahooOptions) *YahooClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = yahooChartURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &YahooClient{
		baseURL:      baseURL,
		includeDaily: opts.IncludeDaily,
		limiter:      opts.Limiter,
		symbolMap: map[string]string{
			"SPX":   "^GSPC",
			"SP500": "^GSPC",
		},
		httpClient: &http.Client{Timeout: timeout},
		retry: httputil.RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   1 * time.Second,
			MaxDelay:    3 * time.Second,
		},
	}
}

func (c *YahooClient) Name() string { return "yahoo" }

func (c *YahooClient) FetchSeries(ctx context.Context, symbol string) (*models.PriceSeries, error) {
	monthly, err := c.fetchChart(ctx, symbol, "1mo", "10y")
	if err != nil {
		return nil, err
	}

	series := &models.PriceSeries{
		Symbol:  symbol,
		Source:  c.Name(),
		Monthly: collapseMonthly(monthly),
	}

	if c.includeDaily {
		daily, err := c.fetchChart(ctx, symbol, "1d", "3mo")
		if err != nil {
			fmt.Printf("[YAHOO] Daily series for %s unavailable: %v\n", symbol, err)
		} else {
			series.Daily = daily
		}
	}

	series.Normalize()
	series.LastRefreshed = series.Monthly[len(series.Monthly)-1].Date
	fmt.Printf("[YAHOO] %s: %d monthly, %d daily points\n", symbol, len(series.Monthly), len(series.Daily))
	return series, nil
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *YahooClient) ticker(symbol string) string {
	if mapped, ok := c.symbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

func (c *YahooClient) fetchChart(ctx context.Context, symbol, interval, rng string) ([]models.PricePoint, error) {
	if err := acquire(ctx, c.limiter, c.Name()); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/%s?interval=%s&range=%s",
		c.baseURL, url.PathEscape(c.ticker(symbol)), interval, rng)

	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("yahoo: %w (HTTP 429)", ErrRateLimited)
	}
	return parseYahooChart(body, resp.StatusCode)
}

func parseYahooChart(body []byte, status int) ([]models.PricePoint, error) {
	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		if status != http.StatusOK {
			return nil, fmt.Errorf("yahoo: status %d", status)
		}
		return nil, fmt.Errorf("yahoo decode: %w: %v", ErrMalformed, err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo: %w: %s", ErrInvalidSymbol, chart.Chart.Error.Description)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d", status)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: %w: no data returned", ErrMalformed)
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	at := func(s []*float64, i int) float64 {
		if i >= len(s) || s[i] == nil {
			return 0
		}
		return *s[i]
	}

	points := make([]models.PricePoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		last := at(quote.Close, i)
		if last == 0 {
			continue // null bar
		}
		d := time.Unix(ts, 0).UTC()
		points = append(points, models.PricePoint{
			Date: time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
			OHLCV: models.OHLCV{
				Open:   at(quote.Open, i),
				High:   at(quote.High, i),
				Low:    at(quote.Low, i),
				Close:  last,
				Volume: at(quote.Volume, i),
			},
		})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("yahoo: %w: no usable bars", ErrMalformed)
	}
	return points, nil
}

// collapseMonthly keeps one bar per calendar month, dated the first of the
// month. The 1mo chart may end with an extra intra-month bar for the current
// month; the later bar wins. Input must be in timestamp order.
func collapseMonthly(points []models.PricePoint) []models.PricePoint {
	out := make([]models.PricePoint, 0, len(points))
	index := make(map[string]int, len(points))
	for _, p := range points {
		p.Date = time.Date(p.Date.Year(), p.Date.Month(), 1, 0, 0, 0, 0, time.UTC)
		key := models.MonthKey(p.Date)
		if i, ok := index[key]; ok {
			out[i] = p
			continue
		}
		index[key] = len(out)
		out = append(out, p)
	}
	return out
}
