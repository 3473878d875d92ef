// Package pricing resolves the previous close used for daily change.
package pricing

import (
	"fmt"
	"sort"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/calendar"
)

// Source names where a previous close came from, in priority order.
type Source string

const (
	SourceManual   Source = "manual"
	SourceSnapshot Source = "snapshot"
	SourceHistory  Source = "history"
	SourceQuote    Source = "quote"
	SourceCurrent  Source = "current"
)

// Request asks for the previous close of one ticker as of a calendar day.
type Request struct {
	Ticker       string
	Date         string // market-local calendar day
	Market       models.Market
	CurrentPrice float64
	Bars         []models.Bar // optional daily closes, used for historical dates
}

// Resolution is the resolved previous close and the change it implies.
type Resolution struct {
	Ticker        string           `json:"ticker"`
	Date          string           `json:"date"`
	EffectiveDate string           `json:"effectiveDate"` // last trading day on or before Date
	TradingDay    bool             `json:"tradingDay"`
	Price         float64          `json:"price"`
	PreviousClose float64          `json:"previousClose"`
	Source        Source           `json:"source"`
	Change        float64          `json:"change"`
	ChangePercent float64          `json:"changePercent"`
	Warnings      []models.Warning `json:"warnings,omitempty"`
}

// Resolver applies the priority chain: manual override (while fresh),
// the latest earlier snapshot carrying the ticker, historical bars, the
// quote's previous close, and finally the current price.
type Resolver struct {
	calendar   *calendar.Calendar
	logger     *common.Logger
	defaultTTL time.Duration
	now        func() time.Time // injectable clock for testing
}

// NewResolver creates a resolver backed by cal.
func NewResolver(cal *calendar.Calendar, logger *common.Logger) *Resolver {
	return &Resolver{
		calendar:   cal,
		logger:     logger,
		defaultTTL: common.FreshnessManualOverride,
		now:        time.Now,
	}
}

// SetClock replaces the clock used to decide whether a date is live.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// Resolve returns the previous close for req against doc. On a day the
// market is closed the change is forced to exactly zero.
func (r *Resolver) Resolve(doc *models.Document, req Request) Resolution {
	res := Resolution{
		Ticker: req.Ticker,
		Date:   req.Date,
		Price:  req.CurrentPrice,
	}

	trading, warn, err := r.calendar.IsTradingDate(req.Date, req.Market)
	if err != nil {
		res.Source = SourceCurrent
		res.PreviousClose = req.CurrentPrice
		res.Warnings = append(res.Warnings, models.Warning{
			Kind: models.WarningMissingMarketData, Ticker: req.Ticker, Date: req.Date,
			Message: fmt.Sprintf("invalid date %q", req.Date),
		})
		return res
	}
	if warn != nil {
		res.Warnings = append(res.Warnings, *warn)
	}
	res.TradingDay = trading
	res.EffectiveDate = req.Date
	if !trading {
		eff, ws := r.calendar.LastTradingDayOnOrBefore(req.Date, req.Market)
		res.Warnings = mergeWarnings(res.Warnings, ws)
		if eff != "" {
			res.EffectiveDate = eff
		}
	}

	live := req.Date >= calendar.Today(req.Market, r.now())
	cached, hasCache := doc.PriceCache[req.Ticker]

	switch {
	case live && hasCache && r.manualFresh(doc, cached):
		res.PreviousClose, res.Source = *cached.ManualPreviousClose, SourceManual
	default:
		if v, ok := closeFromSnapshots(doc, req.Ticker, res.EffectiveDate); ok {
			res.PreviousClose, res.Source = v, SourceSnapshot
		} else if v, ok := closeFromBars(req.Bars, res.EffectiveDate); ok {
			res.PreviousClose, res.Source = v, SourceHistory
		} else if live && hasCache && cached.Success && cached.PreviousClose > 0 {
			res.PreviousClose, res.Source = cached.PreviousClose, SourceQuote
		} else {
			res.PreviousClose, res.Source = req.CurrentPrice, SourceCurrent
			res.Warnings = append(res.Warnings, models.Warning{
				Kind:    models.WarningMissingMarketData,
				Ticker:  req.Ticker,
				Date:    res.EffectiveDate,
				Message: "no previous close available; using current price",
			})
		}
	}

	if trading && res.PreviousClose > 0 {
		res.Change = models.Round4(req.CurrentPrice - res.PreviousClose)
		res.ChangePercent = models.Round4((req.CurrentPrice - res.PreviousClose) / res.PreviousClose * 100)
	}

	r.logger.Debug().
		Str("ticker", req.Ticker).
		Str("date", req.Date).
		Str("effective_date", res.EffectiveDate).
		Str("source", string(res.Source)).
		Float64("previous_close", res.PreviousClose).
		Msg("Resolved previous close")
	return res
}

func (r *Resolver) manualFresh(doc *models.Document, e models.PriceCacheEntry) bool {
	if e.ManualPreviousClose == nil || *e.ManualPreviousClose <= 0 || e.ManualSetAt == nil {
		return false
	}
	return common.IsFreshAt(*e.ManualSetAt, doc.Settings.ManualOverrideTTL(r.defaultTTL), r.now())
}

// closeFromSnapshots walks back from the last snapshot before date to the
// most recent one that recorded a close for ticker.
func closeFromSnapshots(doc *models.Document, ticker, date string) (float64, bool) {
	i := sort.Search(len(doc.Snapshots), func(i int) bool { return doc.Snapshots[i].Date >= date })
	for j := i - 1; j >= 0; j-- {
		if v, ok := doc.Snapshots[j].ClosingPrices[ticker]; ok && v > 0 {
			return v, true
		}
	}
	return 0, false
}

// closeFromBars returns the last close dated strictly before date. Bars may
// be in any order.
func closeFromBars(bars []models.Bar, date string) (float64, bool) {
	var best models.Bar
	for _, b := range bars {
		if b.Date < date && b.Close > 0 && b.Date > best.Date {
			best = b
		}
	}
	return best.Close, best.Date != ""
}

// CloseOn returns the close for date from bars, falling back to the latest
// earlier bar (the market was shut or the feed skipped a day).
func CloseOn(bars []models.Bar, date string) (float64, bool) {
	var best models.Bar
	for _, b := range bars {
		if b.Date <= date && b.Close > 0 && b.Date > best.Date {
			best = b
		}
	}
	return best.Close, best.Date != ""
}

func mergeWarnings(dst, src []models.Warning) []models.Warning {
	for _, w := range src {
		if !models.HasWarning(dst, w.Kind) {
			dst = append(dst, w)
		}
	}
	return dst
}
