// Package eodhd provides a client for the EODHD API
package eodhd

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

	"golang.org/x/time/rate"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "NA" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
	sourceName       = "eodhd"
)

// Client implements interfaces.QuoteClient
type Client struct {
	baseURL    string
	apiKey     string
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

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
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

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Name identifies the provider.
func (c *Client) Name() string { return sourceName }

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// Symbol maps a ticker to EODHD's CODE.EXCHANGE form. HK tickers already
// carry their exchange suffix; US share classes use a dash (BRK-B.US).
func Symbol(ticker string, market models.Market) string {
	t := models.NormalizeTicker(ticker, market)
	if market == models.MarketUS {
		return strings.ReplaceAll(t, ".", "-") + ".US"
	}
	return t
}

// realTimeResponse is the /real-time payload. Numeric fields arrive as
// strings ("NA") when the exchange has not traded.
type realTimeResponse struct {
	Code          string      `json:"code"`
	Timestamp     flexFloat64 `json:"timestamp"`
	Close         flexFloat64 `json:"close"`
	PreviousClose flexFloat64 `json:"previousClose"`
	Change        flexFloat64 `json:"change"`
	ChangeP       flexFloat64 `json:"change_p"`
}

// GetQuote retrieves a delayed real-time quote
func (c *Client) GetQuote(ctx context.Context, ticker string, market models.Market) (*models.Quote, error) {
	symbol := Symbol(ticker, market)

	var resp realTimeResponse
	if err := c.get(ctx, "/real-time/"+symbol, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Close <= 0 {
		return nil, fmt.Errorf("EODHD quote for %s has no price", symbol)
	}

	price := float64(resp.Close)
	prev := float64(resp.PreviousClose)
	if prev <= 0 {
		prev = price
	}
	q := &models.Quote{
		Ticker:        models.NormalizeTicker(ticker, market),
		Price:         price,
		PreviousClose: prev,
		Change:        models.Round4(price - prev),
		Source:        sourceName,
		FetchedAt:     c.now().UTC(),
	}
	if prev != 0 {
		q.ChangePercent = models.Round4((price - prev) / prev * 100)
	}
	if resp.Timestamp > 0 {
		q.MarketTime = time.Unix(int64(resp.Timestamp), 0).UTC()
	}
	if market == models.MarketHK {
		q.Currency = "HKD"
	} else {
		q.Currency = "USD"
	}
	return q, nil
}

// eodBarResponse represents the API response for EOD data
type eodBarResponse struct {
	Date          string      `json:"date"`
	Close         flexFloat64 `json:"close"`
	AdjustedClose flexFloat64 `json:"adjusted_close"`
}

// GetHistory retrieves daily closes, oldest first
func (c *Client) GetHistory(ctx context.Context, ticker string, market models.Market, from, to time.Time) ([]models.Bar, error) {
	params := url.Values{}
	params.Set("period", "d")
	params.Set("order", "a")
	if !from.IsZero() {
		params.Set("from", from.Format("2006-01-02"))
	}
	if !to.IsZero() {
		params.Set("to", to.Format("2006-01-02"))
	}

	path := fmt.Sprintf("/eod/%s", Symbol(ticker, market))

	var rows []eodBarResponse
	if err := c.get(ctx, path, params, &rows); err != nil {
		return nil, err
	}

	bars := make([]models.Bar, 0, len(rows))
	for _, row := range rows {
		if row.Close <= 0 || !models.ValidDate(row.Date) {
			continue
		}
		bars = append(bars, models.Bar{Date: row.Date, Close: float64(row.Close)})
	}
	return bars, nil
}

// Ensure Client implements QuoteClient
var _ interfaces.QuoteClient = (*Client)(nil)
