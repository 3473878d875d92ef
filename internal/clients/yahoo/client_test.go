package yahoo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bobmcallan/folio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unix(y int, m time.Month, d, h int) int64 {
	return time.Date(y, m, d, h, 30, 0, 0, time.UTC).Unix()
}

func chartServer(t *testing.T, result map[string]any, captured *http.Request) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = *r
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"chart": map[string]any{"result": []any{result}, "error": nil}})
	}))
}

func hkResult(closes []any) map[string]any {
	return map[string]any{
		"meta": map[string]any{
			"symbol":               "0700.HK",
			"currency":             "HKD",
			"shortName":            "TENCENT",
			"regularMarketPrice":   10.5,
			"regularMarketTime":    unix(2025, 3, 5, 7),
			"previousClose":        9.9,
			"chartPreviousClose":   9.7,
			"exchangeTimezoneName": "Asia/Hong_Kong",
			"gmtoffset":            28800,
		},
		"timestamp": []int64{unix(2025, 3, 3, 1), unix(2025, 3, 4, 1), unix(2025, 3, 5, 1)},
		"indicators": map[string]any{
			"quote": []any{map[string]any{"close": closes}},
		},
	}
}

func TestGetQuote_PreviousCloseFromSeries(t *testing.T) {
	var req http.Request
	srv := chartServer(t, hkResult([]any{10.0, 10.2, 10.5}), &req)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	q, err := c.GetQuote(context.Background(), "0700b.HK", models.MarketHK)
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/0700.HK", req.URL.Path)
	assert.Equal(t, "5d", req.URL.Query().Get("range"))
	assert.Equal(t, "Mozilla/5.0", req.Header.Get("User-Agent"))

	assert.Equal(t, "0700.HK", q.Ticker)
	assert.Equal(t, "TENCENT", q.Name)
	assert.Equal(t, 10.5, q.Price)
	assert.Equal(t, 10.2, q.PreviousClose)
	assert.Equal(t, 0.3, q.Change)
	assert.Equal(t, 2.9412, q.ChangePercent)
	assert.Equal(t, "yahoo", q.Source)
}

func TestGetQuote_SkipsNullCloses(t *testing.T) {
	srv := chartServer(t, hkResult([]any{10.0, nil, 10.5}), nil)
	defer srv.Close()

	q, err := NewClient(WithBaseURL(srv.URL)).GetQuote(context.Background(), "0700.HK", models.MarketHK)
	require.NoError(t, err)
	assert.Equal(t, 10.0, q.PreviousClose)
}

func TestGetQuote_FallsBackToMetadata(t *testing.T) {
	res := hkResult([]any{10.5})
	res["timestamp"] = []int64{unix(2025, 3, 5, 1)}
	srv := chartServer(t, res, nil)
	defer srv.Close()

	q, err := NewClient(WithBaseURL(srv.URL)).GetQuote(context.Background(), "0700.HK", models.MarketHK)
	require.NoError(t, err)
	assert.Equal(t, 9.9, q.PreviousClose)
}

func TestGetQuote_MissingPrice(t *testing.T) {
	res := hkResult([]any{10.0})
	delete(res["meta"].(map[string]any), "regularMarketPrice")
	srv := chartServer(t, res, nil)
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).GetQuote(context.Background(), "0700.HK", models.MarketHK)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestGetQuote_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).GetQuote(context.Background(), "ZZZZ", models.MarketUS)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "ZZZZ", apiErr.Symbol)
}

func TestGetHistory_MarketLocalDates(t *testing.T) {
	var req http.Request
	srv := chartServer(t, hkResult([]any{10.0, nil, 10.5}), &req)
	defer srv.Close()

	from := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	bars, err := NewClient(WithBaseURL(srv.URL)).GetHistory(context.Background(), "0700.HK", models.MarketHK, from, to)
	require.NoError(t, err)

	assert.NotEmpty(t, req.URL.Query().Get("period1"))
	assert.Equal(t, []models.Bar{{Date: "2025-03-03", Close: 10}, {Date: "2025-03-05", Close: 10.5}}, bars)
}
