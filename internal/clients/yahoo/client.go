// Package yahoo provides a client for the Yahoo Finance v8 chart API
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
)

const (
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 2 // requests per second
	userAgent        = "Mozilla/5.0"
	sourceName       = "yahoo"
)

// ErrNoResult is returned when the chart response carries no series.
var ErrNoResult = errors.New("yahoo: no result")

// ErrNoPrice is returned when the series has no usable price.
var ErrNoPrice = errors.New("yahoo: no price")

// Client implements interfaces.QuoteClient
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	now        func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new Yahoo chart client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError represents a non-200 response
type APIError struct {
	StatusCode int
	Message    string
	Symbol     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Yahoo API error: %s (status: %d, symbol: %s)", e.Message, e.StatusCode, e.Symbol)
}

// Name identifies the provider.
func (c *Client) Name() string { return sourceName }

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol               string   `json:"symbol"`
		Currency             string   `json:"currency"`
		ShortName            string   `json:"shortName"`
		LongName             string   `json:"longName"`
		RegularMarketPrice   *float64 `json:"regularMarketPrice"`
		RegularMarketTime    int64    `json:"regularMarketTime"`
		PreviousClose        *float64 `json:"previousClose"`
		ChartPreviousClose   *float64 `json:"chartPreviousClose"`
		ExchangeTimezoneName string   `json:"exchangeTimezoneName"`
		GMTOffset            int      `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

func (r *chartResult) closes() []*float64 {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	return r.Indicators.Quote[0].Close
}

func (r *chartResult) location() *time.Location {
	if r.Meta.ExchangeTimezoneName != "" {
		if loc, err := time.LoadLocation(r.Meta.ExchangeTimezoneName); err == nil {
			return loc
		}
	}
	return time.FixedZone("exchange", r.Meta.GMTOffset)
}

// chart performs a rate-limited chart request
func (c *Client) chart(ctx context.Context, symbol string, params url.Values) (*chartResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug().Str("symbol", symbol).Str("query", params.Encode()).Msg("Yahoo chart request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body), Symbol: symbol}
	}

	var raw chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if raw.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoResult, raw.Chart.Error.Description)
	}
	if len(raw.Chart.Result) == 0 {
		return nil, ErrNoResult
	}
	return &raw.Chart.Result[0], nil
}

// GetQuote retrieves the latest price. The previous close is the most
// recent close dated before the current market day, falling back to the
// chart metadata.
func (c *Client) GetQuote(ctx context.Context, ticker string, market models.Market) (*models.Quote, error) {
	symbol := models.NormalizeTicker(ticker, market)
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "5d")

	r, err := c.chart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	if r.Meta.RegularMarketPrice == nil || *r.Meta.RegularMarketPrice <= 0 {
		return nil, ErrNoPrice
	}
	price := *r.Meta.RegularMarketPrice

	loc := r.location()
	marketTime := time.Unix(r.Meta.RegularMarketTime, 0)
	if r.Meta.RegularMarketTime == 0 {
		marketTime = c.now()
	}
	marketDay := models.FormatDate(marketTime.In(loc))

	prev := previousClose(r, marketDay, loc)
	if prev <= 0 {
		prev = price
	}

	q := &models.Quote{
		Ticker:        symbol,
		Name:          firstNonEmpty(r.Meta.ShortName, r.Meta.LongName),
		Price:         price,
		PreviousClose: prev,
		Change:        models.Round4(price - prev),
		Currency:      r.Meta.Currency,
		Source:        sourceName,
		MarketTime:    marketTime.UTC(),
		FetchedAt:     c.now().UTC(),
	}
	if prev != 0 {
		q.ChangePercent = models.Round4((price - prev) / prev * 100)
	}
	if q.Currency == "" {
		q.Currency = defaultCurrency(market)
	}
	return q, nil
}

func previousClose(r *chartResult, marketDay string, loc *time.Location) float64 {
	closes := r.closes()
	for i := len(r.Timestamp) - 1; i >= 0; i-- {
		if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		if models.FormatDate(time.Unix(r.Timestamp[i], 0).In(loc)) < marketDay {
			return *closes[i]
		}
	}
	if r.Meta.PreviousClose != nil && *r.Meta.PreviousClose > 0 {
		return *r.Meta.PreviousClose
	}
	if r.Meta.ChartPreviousClose != nil {
		return *r.Meta.ChartPreviousClose
	}
	return 0
}

// GetHistory retrieves daily closes between from and to inclusive.
func (c *Client) GetHistory(ctx context.Context, ticker string, market models.Market, from, to time.Time) ([]models.Bar, error) {
	symbol := models.NormalizeTicker(ticker, market)
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("period1", strconv.FormatInt(from.Unix(), 10))
	params.Set("period2", strconv.FormatInt(to.AddDate(0, 0, 1).Unix(), 10))

	r, err := c.chart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	loc := r.location()
	closes := r.closes()
	bars := make([]models.Bar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		date := models.FormatDate(time.Unix(ts, 0).In(loc))
		if n := len(bars); n > 0 && bars[n-1].Date == date {
			bars[n-1].Close = *closes[i]
			continue
		}
		bars = append(bars, models.Bar{Date: date, Close: *closes[i]})
	}
	return bars, nil
}

func defaultCurrency(market models.Market) string {
	if market == models.MarketHK {
		return "HKD"
	}
	return "USD"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Ensure Client implements QuoteClient
var _ interfaces.QuoteClient = (*Client)(nil)
