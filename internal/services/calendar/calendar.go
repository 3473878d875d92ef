// Package calendar answers whether a market is open on a given day.
package calendar

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/bobmcallan/folio/internal/models"
	"gopkg.in/yaml.v3"
)

// closeTime is the local time after which a day's closing prices are final.
var closeTime = map[models.Market][2]int{
	models.MarketHK: {16, 10}, // closing auction ends 16:10
	models.MarketUS: {16, 0},
}

var locations = map[models.Market]*time.Location{
	models.MarketHK: mustLoadLocation("Asia/Hong_Kong", 8),
	models.MarketUS: mustLoadLocation("America/New_York", -5),
}

func mustLoadLocation(name string, fallbackHours int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// tzdata missing (minimal container); fixed offset loses DST
		return time.FixedZone(name, fallbackHours*60*60)
	}
	return loc
}

// Location returns the exchange's time zone.
func Location(market models.Market) *time.Location {
	if loc, ok := locations[market]; ok {
		return loc
	}
	return time.UTC
}

// Calendar holds per-market, per-year holiday tables.
type Calendar struct {
	mu       sync.RWMutex
	holidays map[models.Market]map[int]map[string]bool
}

// New returns a calendar loaded with the built-in tables.
func New() *Calendar {
	c := &Calendar{holidays: make(map[models.Market]map[int]map[string]bool)}
	for market, years := range builtinHolidays {
		for year, dates := range years {
			c.setYear(market, year, dates)
		}
	}
	return c
}

func (c *Calendar) setYear(market models.Market, year int, dates []string) {
	if c.holidays[market] == nil {
		c.holidays[market] = make(map[int]map[string]bool)
	}
	set := make(map[string]bool, len(dates))
	for _, d := range dates {
		set[d] = true
	}
	c.holidays[market][year] = set
}

// holidayFile is the YAML override format:
//
//	markets:
//	  HK:
//	    2027:
//	      - "2027-01-01"
type holidayFile struct {
	Markets map[string]map[int][]string `yaml:"markets"`
}

// LoadFile adds or replaces years from a YAML holiday file.
func (c *Calendar) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read holiday file %s: %w", path, err)
	}
	return c.Load(data)
}

// Load adds or replaces years from YAML holiday data.
func (c *Calendar) Load(data []byte) error {
	var f holidayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse holiday file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for code, years := range f.Markets {
		market, ok := models.ParseMarket(code)
		if !ok {
			return fmt.Errorf("holiday file: unknown market %q", code)
		}
		for year, dates := range years {
			for _, d := range dates {
				t, err := models.ParseDate(d)
				if err != nil {
					return fmt.Errorf("holiday file: %s %d: bad date %q", code, year, d)
				}
				if t.Year() != year {
					return fmt.Errorf("holiday file: %s %d: date %s outside year", code, year, d)
				}
			}
			c.setYear(market, year, dates)
		}
	}
	return nil
}

// HasYear reports whether a holiday table exists for market and year.
func (c *Calendar) HasYear(market models.Market, year int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.holidays[market][year]
	return ok
}

// IsHoliday reports whether date is a listed holiday.
func (c *Calendar) IsHoliday(date time.Time, market models.Market) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.holidays[market][date.Year()][models.FormatDate(date)]
}

// IsTradingDay returns weekday AND not a holiday. When no table exists for
// the year it applies the weekday rule alone and returns a CalendarGap
// warning.
func (c *Calendar) IsTradingDay(date time.Time, market models.Market) (bool, *models.Warning) {
	weekday := date.Weekday() != time.Saturday && date.Weekday() != time.Sunday

	var warn *models.Warning
	if !c.HasYear(market, date.Year()) {
		warn = &models.Warning{
			Kind:    models.WarningCalendarGap,
			Date:    models.FormatDate(date),
			Message: fmt.Sprintf("no %s holiday table for %d; using weekdays only", market, date.Year()),
		}
	}
	if !weekday {
		return false, warn
	}
	return !c.IsHoliday(date, market), warn
}

// IsTradingDate is IsTradingDay for a YYYY-MM-DD key.
func (c *Calendar) IsTradingDate(date string, market models.Market) (bool, *models.Warning, error) {
	t, err := models.ParseDate(date)
	if err != nil {
		return false, nil, models.NewValidationError("date", models.ErrInvalidDate, "%q", date)
	}
	ok, warn := c.IsTradingDay(t, market)
	return ok, warn, nil
}

// maxLookback bounds the search for a previous trading day.
const maxLookback = 31

// PreviousTradingDay returns the last trading day strictly before date.
func (c *Calendar) PreviousTradingDay(date string, market models.Market) (string, []models.Warning) {
	t, err := models.ParseDate(date)
	if err != nil {
		return "", nil
	}
	var warnings []models.Warning
	for i := 1; i <= maxLookback; i++ {
		d := t.AddDate(0, 0, -i)
		ok, warn := c.IsTradingDay(d, market)
		warnings = appendWarning(warnings, warn)
		if ok {
			return models.FormatDate(d), warnings
		}
	}
	return "", warnings
}

// LastTradingDayOnOrBefore returns date itself when it is a trading day,
// otherwise the previous trading day.
func (c *Calendar) LastTradingDayOnOrBefore(date string, market models.Market) (string, []models.Warning) {
	ok, warn, err := c.IsTradingDate(date, market)
	if err != nil {
		return "", nil
	}
	if ok {
		return date, appendWarning(nil, warn)
	}
	prev, warnings := c.PreviousTradingDay(date, market)
	return prev, appendWarning(warnings, warn)
}

// TradingDaysBetween returns the trading days strictly between from and to.
func (c *Calendar) TradingDaysBetween(from, to string, market models.Market) ([]string, []models.Warning) {
	start, err1 := models.ParseDate(from)
	end, err2 := models.ParseDate(to)
	if err1 != nil || err2 != nil || !start.Before(end) {
		return nil, nil
	}
	var days []string
	var warnings []models.Warning
	for d := start.AddDate(0, 0, 1); d.Before(end); d = d.AddDate(0, 0, 1) {
		ok, warn := c.IsTradingDay(d, market)
		warnings = appendWarning(warnings, warn)
		if ok {
			days = append(days, models.FormatDate(d))
		}
	}
	return days, warnings
}

// Today returns the exchange-local calendar date of now.
func Today(market models.Market, now time.Time) string {
	return models.FormatDate(now.In(Location(market)))
}

// AfterClose reports whether now is past the market's close on its local day.
func AfterClose(market models.Market, now time.Time) bool {
	local := now.In(Location(market))
	hm, ok := closeTime[market]
	if !ok {
		return true
	}
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), hm[0], hm[1], 0, 0, local.Location())
	return !local.Before(closeAt)
}

// appendWarning adds w unless an identical gap warning for the same year is
// already present.
func appendWarning(ws []models.Warning, w *models.Warning) []models.Warning {
	if w == nil {
		return ws
	}
	for _, existing := range ws {
		if existing.Kind == w.Kind && yearOf(existing.Date) == yearOf(w.Date) {
			return ws
		}
	}
	return append(ws, *w)
}

func yearOf(date string) string {
	if len(date) < 4 {
		return date
	}
	if _, err := strconv.Atoi(date[:4]); err != nil {
		return date
	}
	return date[:4]
}
