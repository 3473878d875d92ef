// Package performance aggregates snapshots into calendars, equity curves,
// period rollups and time-weighted returns.
package performance

import (
	"fmt"
	"math"
	"time"

	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/calendar"
)

// Period is a rollup granularity.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod accepts "week" or "month".
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodWeek, PeriodMonth:
		return Period(s), nil
	}
	return "", models.NewValidationError("period", models.ErrInvalidField, "unknown period %q", s)
}

// Day is one calendar cell.
type Day struct {
	Date       string  `json:"date"`
	TradingDay bool    `json:"tradingDay"`
	DailyPnL   float64 `json:"dailyPnL"`
	HasData    bool    `json:"hasData"`
	Estimated  bool    `json:"estimated,omitempty"`
	Conflicted bool    `json:"conflicted,omitempty"`
}

// Point is one equity-curve sample.
type Point struct {
	Date           string  `json:"date"`
	TotalPnL       float64 `json:"totalPnL"`
	PortfolioValue float64 `json:"portfolioValue"`
	DailyPnL       float64 `json:"dailyPnL"`
	Estimated      bool    `json:"estimated,omitempty"`
}

// Bucket sums dailyPnL over one week or month.
type Bucket struct {
	Key       string  `json:"key"` // 2025-W10 or 2025-03
	Start     string  `json:"start"`
	End       string  `json:"end"`
	PnL       float64 `json:"pnl"`
	Days      int     `json:"days"`
	WinDays   int     `json:"winDays"`
	LossDays  int     `json:"lossDays"`
	BestDay   float64 `json:"bestDay"`
	WorstDay  float64 `json:"worstDay"`
	Estimated int     `json:"estimated,omitempty"`
}

// Return is a time-weighted return over the snapshot history.
type Return struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Cumulative float64 `json:"cumulative"`          // percent
	Annualised float64 `json:"annualised,omitempty"` // percent, only when the span is a year or more
	Periods    int     `json:"periods"`
	Days       int     `json:"days"`
}

// Aggregator reads snapshots; it never modifies them.
type Aggregator struct {
	calendar *calendar.Calendar
}

// NewAggregator creates an aggregator.
func NewAggregator(cal *calendar.Calendar) *Aggregator {
	return &Aggregator{calendar: cal}
}

// Calendar returns one cell per day in [from, to]. Closed days carry no P&L.
func (a *Aggregator) Calendar(snapshots []models.Snapshot, from, to string, market models.Market) ([]Day, []models.Warning, error) {
	start, err := models.ParseDate(from)
	if err != nil {
		return nil, nil, models.NewValidationError("from", models.ErrInvalidDate, "%q", from)
	}
	end, err := models.ParseDate(to)
	if err != nil {
		return nil, nil, models.NewValidationError("to", models.ErrInvalidDate, "%q", to)
	}
	if end.Before(start) {
		return nil, nil, models.NewValidationError("to", models.ErrInvalidDate, "%s is before %s", to, from)
	}
	if end.Sub(start) > 366*24*time.Hour {
		return nil, nil, models.NewValidationError("to", models.ErrInvalidDate, "range longer than a year")
	}

	byDate := indexByDate(snapshots)
	var days []Day
	var warnings []models.Warning
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := models.FormatDate(d)
		trading, warn := a.calendar.IsTradingDay(d, market)
		if warn != nil && !models.HasWarning(warnings, warn.Kind) {
			warnings = append(warnings, *warn)
		}
		cell := Day{Date: date, TradingDay: trading}
		if s, ok := byDate[date]; ok && trading && s.DailyPnL != nil {
			cell.HasData = true
			cell.DailyPnL = *s.DailyPnL
			cell.Estimated = s.IsEstimated()
			cell.Conflicted = len(s.Conflicts) > 0
		}
		days = append(days, cell)
	}
	return days, warnings, nil
}

// EquityCurve returns realized plus unrealized P&L per snapshot, in date
// order.
func EquityCurve(snapshots []models.Snapshot) []Point {
	points := make([]Point, 0, len(snapshots))
	for _, s := range snapshots {
		points = append(points, Point{
			Date:           s.Date,
			TotalPnL:       models.Round2(s.TotalPnL()),
			PortfolioValue: s.PortfolioValue,
			DailyPnL:       s.DailyPnLValue(),
			Estimated:      s.IsEstimated(),
		})
	}
	return points
}

// Rollup sums dailyPnL by ISO week or calendar month.
func Rollup(snapshots []models.Snapshot, period Period) ([]Bucket, error) {
	var buckets []Bucket
	for _, s := range snapshots {
		if s.DailyPnL == nil {
			continue
		}
		t, err := models.ParseDate(s.Date)
		if err != nil {
			continue
		}
		key, err := bucketKey(t, period)
		if err != nil {
			return nil, err
		}

		if n := len(buckets); n == 0 || buckets[n-1].Key != key {
			buckets = append(buckets, Bucket{Key: key, Start: s.Date, BestDay: math.Inf(-1), WorstDay: math.Inf(1)})
		}
		b := &buckets[len(buckets)-1]
		v := *s.DailyPnL
		b.End = s.Date
		b.PnL += v
		b.Days++
		switch {
		case v > 0:
			b.WinDays++
		case v < 0:
			b.LossDays++
		}
		b.BestDay = math.Max(b.BestDay, v)
		b.WorstDay = math.Min(b.WorstDay, v)
		if s.IsEstimated() {
			b.Estimated++
		}
	}
	for i := range buckets {
		buckets[i].PnL = models.Round2(buckets[i].PnL)
	}
	return buckets, nil
}

func bucketKey(t time.Time, period Period) (string, error) {
	switch period {
	case PeriodWeek:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", y, w), nil
	case PeriodMonth:
		return t.Format("2006-01"), nil
	}
	return "", models.NewValidationError("period", models.ErrInvalidField, "unknown period %q", period)
}

// TWR links daily returns geometrically: each day returns
// (V_t + proceeds_t) / (V_{t-1} + flows_t) - 1, where flows_t are the
// capital changes dated after the previous snapshot and on or before this
// one, and proceeds_t is the cash received from trades closed in the same
// window. Portfolio value counts open positions only, so sale proceeds leave
// it as an end-of-day outflow. Days whose denominator is not positive are
// skipped. The result is annualised when the history spans a year or more.
func TWR(snapshots []models.Snapshot, transactions []models.Transaction, closed []models.ClosedTrade) Return {
	var r Return
	if len(snapshots) < 2 {
		if len(snapshots) == 1 {
			r.From, r.To = snapshots[0].Date, snapshots[0].Date
		}
		return r
	}
	r.From = snapshots[0].Date
	r.To = snapshots[len(snapshots)-1].Date

	linked := 1.0
	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		var flows float64
		for _, tx := range transactions {
			if tx.Date > prev.Date && tx.Date <= cur.Date {
				flows += tx.CapitalChange()
			}
		}
		var proceeds float64
		for _, ct := range closed {
			if ct.ExitDate > prev.Date && ct.ExitDate <= cur.Date {
				proceeds += ct.Proceeds()
			}
		}
		base := prev.PortfolioValue + flows
		if base <= 0 {
			continue
		}
		linked *= (cur.PortfolioValue + proceeds) / base
		r.Periods++
	}

	cumulative := linked - 1
	start, _ := models.ParseDate(r.From)
	end, _ := models.ParseDate(r.To)
	days := end.Sub(start).Hours() / 24
	r.Days = int(days)
	r.Cumulative = models.Round4(cumulative * 100)
	if days >= 365 {
		r.Annualised = models.Round4(annualise(cumulative, days) * 100)
	}
	return r
}

// annualise converts a cumulative return to an annual rate. Input and
// output are decimal.
func annualise(cumulative, days float64) float64 {
	base := 1 + cumulative
	if base <= 0 {
		return cumulative
	}
	return math.Pow(base, 365/days) - 1
}

func indexByDate(snapshots []models.Snapshot) map[string]models.Snapshot {
	m := make(map[string]models.Snapshot, len(snapshots))
	for _, s := range snapshots {
		m[s.Date] = s
	}
	return m
}
