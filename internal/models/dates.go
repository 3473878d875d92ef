package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-day key used for snapshots, lots and trades.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD key as a UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate renders the calendar day of t in t's own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ValidDate reports whether s is a well-formed YYYY-MM-DD key.
func ValidDate(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}

// AddDays shifts a date key by n calendar days.
func AddDays(date string, n int) string {
	t, err := ParseDate(date)
	if err != nil {
		return date
	}
	return FormatDate(t.AddDate(0, 0, n))
}

// Round2 rounds half away from zero to two decimal places, the precision of
// every persisted currency amount.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Round4 rounds to four decimal places (quote change fields).
func Round4(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}
