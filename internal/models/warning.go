package models

import "fmt"

// WarningKind classifies soft failures that are reported alongside results.
type WarningKind string

const (
	WarningMissingMarketData      WarningKind = "missing_market_data"
	WarningCalendarGap            WarningKind = "calendar_gap"
	WarningReconciliationConflict WarningKind = "reconciliation_conflict"
	WarningQuoteFailed            WarningKind = "quote_failed"
)

// Warning is a non-fatal condition surfaced to the user.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Ticker  string      `json:"ticker,omitempty"`
	Date    string      `json:"date,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	switch {
	case w.Ticker != "" && w.Date != "":
		return fmt.Sprintf("%s [%s %s]: %s", w.Kind, w.Ticker, w.Date, w.Message)
	case w.Ticker != "":
		return fmt.Sprintf("%s [%s]: %s", w.Kind, w.Ticker, w.Message)
	case w.Date != "":
		return fmt.Sprintf("%s [%s]: %s", w.Kind, w.Date, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

// HasWarning reports whether ws contains a warning of the given kind.
func HasWarning(ws []Warning, kind WarningKind) bool {
	for _, w := range ws {
		if w.Kind == kind {
			return true
		}
	}
	return false
}
