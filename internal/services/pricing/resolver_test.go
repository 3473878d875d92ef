package pricing

import (
	"testing"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2025-03-05 17:00 HKT, a Wednesday
var fixedNow = time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)

func newTestResolver() *Resolver {
	r := NewResolver(calendar.New(), common.NewSilentLogger())
	r.now = func() time.Time { return fixedNow }
	return r
}

func docWith(snapshotClose float64, quotePrev float64, manual *float64, manualAt time.Time) *models.Document {
	d := models.NewDocument("main")
	if snapshotClose > 0 {
		d.PutSnapshot(models.Snapshot{Date: "2025-03-04", ClosingPrices: map[string]float64{"A.HK": snapshotClose}})
	}
	entry := models.PriceCacheEntry{Success: quotePrev > 0, Price: 10.5, PreviousClose: quotePrev}
	if manual != nil {
		entry.ManualPreviousClose = manual
		entry.ManualSetAt = &manualAt
	}
	d.PriceCache["A.HK"] = entry
	return d
}

func req(date string) Request {
	return Request{Ticker: "A.HK", Date: date, Market: models.MarketHK, CurrentPrice: 10.5}
}

func TestResolve_PriorityOrder(t *testing.T) {
	r := newTestResolver()
	fresh := fixedNow.Add(-time.Hour)

	tests := []struct {
		name string
		doc  *models.Document
		want Source
		prev float64
	}{
		{"manual beats all", docWith(10, 9.8, models.Float(9.5), fresh), SourceManual, 9.5},
		{"snapshot beats quote", docWith(10, 9.8, nil, time.Time{}), SourceSnapshot, 10},
		{"quote when no snapshot", docWith(0, 9.8, nil, time.Time{}), SourceQuote, 9.8},
		{"current as last resort", docWith(0, 0, nil, time.Time{}), SourceCurrent, 10.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(tt.doc, req("2025-03-05"))
			assert.Equal(t, tt.want, res.Source)
			assert.Equal(t, tt.prev, res.PreviousClose)
		})
	}
}

func TestResolve_StaleManualOverrideIgnored(t *testing.T) {
	r := newTestResolver()
	stale := fixedNow.Add(-48 * time.Hour)
	res := r.Resolve(docWith(10, 9.8, models.Float(9.5), stale), req("2025-03-05"))
	assert.Equal(t, SourceSnapshot, res.Source)

	d := docWith(10, 9.8, models.Float(9.5), stale)
	d.Settings["manualOverrideTTL"] = "72h"
	res = r.Resolve(d, req("2025-03-05"))
	assert.Equal(t, SourceManual, res.Source, "TTL comes from settings")
}

func TestResolve_CurrentPriceFallbackWarns(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(docWith(0, 0, nil, time.Time{}), req("2025-03-05"))

	assert.Equal(t, SourceCurrent, res.Source)
	assert.Zero(t, res.Change)
	assert.Zero(t, res.ChangePercent)
	assert.True(t, models.HasWarning(res.Warnings, models.WarningMissingMarketData))
}

func TestResolve_ChangeOnTradingDay(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(docWith(10, 0, nil, time.Time{}), req("2025-03-05"))

	assert.True(t, res.TradingDay)
	assert.Equal(t, 0.5, res.Change)
	assert.Equal(t, 5.0, res.ChangePercent)
}

func TestResolve_ClosedDayForcesZeroChange(t *testing.T) {
	r := newTestResolver()
	r.now = func() time.Time { return time.Date(2025, 3, 8, 4, 0, 0, 0, time.UTC) } // Saturday in HK

	d := models.NewDocument("main")
	d.PutSnapshot(models.Snapshot{Date: "2025-03-06", ClosingPrices: map[string]float64{"A.HK": 9}})
	d.PutSnapshot(models.Snapshot{Date: "2025-03-07", ClosingPrices: map[string]float64{"A.HK": 10.5}})

	res := r.Resolve(d, req("2025-03-08"))
	assert.False(t, res.TradingDay)
	assert.Equal(t, "2025-03-07", res.EffectiveDate)
	assert.Equal(t, 9.0, res.PreviousClose, "previous close of the last trading day")
	assert.Equal(t, 0.0, res.Change)
	assert.Equal(t, 0.0, res.ChangePercent)
}

func TestResolve_HolidayUsesPreviousTradingDay(t *testing.T) {
	r := newTestResolver()
	d := models.NewDocument("main")
	d.PutSnapshot(models.Snapshot{Date: "2025-01-27", ClosingPrices: map[string]float64{"A.HK": 8}})
	d.PutSnapshot(models.Snapshot{Date: "2025-01-28", ClosingPrices: map[string]float64{"A.HK": 9}})

	res := r.Resolve(d, Request{Ticker: "A.HK", Date: "2025-01-30", Market: models.MarketHK, CurrentPrice: 9})
	assert.Equal(t, "2025-01-28", res.EffectiveDate)
	assert.Equal(t, 8.0, res.PreviousClose)
	assert.Zero(t, res.Change)
}

func TestResolve_SnapshotSearchSkipsSnapshotsWithoutTicker(t *testing.T) {
	r := newTestResolver()
	d := models.NewDocument("main")
	d.PutSnapshot(models.Snapshot{Date: "2025-03-03", ClosingPrices: map[string]float64{"A.HK": 9.9}})
	d.PutSnapshot(models.Snapshot{Date: "2025-03-04", ClosingPrices: map[string]float64{"B.HK": 1}})
	d.PutSnapshot(models.Snapshot{Date: "2025-03-05", ClosingPrices: map[string]float64{"A.HK": 10.5}})

	res := r.Resolve(d, req("2025-03-05"))
	assert.Equal(t, SourceSnapshot, res.Source)
	assert.Equal(t, 9.9, res.PreviousClose, "same-day snapshot is not a previous close")
}

func TestResolve_HistoricalDateIgnoresLiveSources(t *testing.T) {
	r := newTestResolver()
	d := docWith(0, 9.8, models.Float(9.5), fixedNow)

	q := req("2025-02-27")
	q.Bars = []models.Bar{{Date: "2025-02-25", Close: 7}, {Date: "2025-02-26", Close: 7.5}, {Date: "2025-02-27", Close: 8}}
	res := r.Resolve(d, q)

	assert.Equal(t, SourceHistory, res.Source)
	assert.Equal(t, 7.5, res.PreviousClose)
}

func TestResolve_UnknownYearWarns(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(models.NewDocument("main"), Request{Ticker: "A.HK", Date: "2031-06-03", Market: models.MarketHK, CurrentPrice: 1})
	require.NotEmpty(t, res.Warnings)
	assert.True(t, models.HasWarning(res.Warnings, models.WarningCalendarGap))
}

func TestCloseOn(t *testing.T) {
	bars := []models.Bar{{Date: "2025-03-03", Close: 1}, {Date: "2025-03-05", Close: 3}}
	v, ok := CloseOn(bars, "2025-03-04")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
	_, ok = CloseOn(bars, "2025-03-01")
	assert.False(t, ok)
}
