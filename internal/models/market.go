package models

import "strings"

// Market identifies the exchange whose calendar and fee schedule apply.
type Market string

const (
	MarketHK Market = "HK"
	MarketUS Market = "US"
)

// ParseMarket maps a user-supplied market code to a Market. Unknown codes
// return ok=false.
func ParseMarket(s string) (Market, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HK", "HKEX", "XHKG":
		return MarketHK, true
	case "US", "NYSE", "NASDAQ", "XNYS":
		return MarketUS, true
	}
	return "", false
}

// MarketForTicker infers the market from a Yahoo-style symbol suffix.
func MarketForTicker(ticker string) Market {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if strings.HasSuffix(t, ".HK") {
		return MarketHK
	}
	return MarketUS
}

// NormalizeTicker cleans a ticker as entered by the user into the symbol
// the quote provider expects. HK symbols written as "0700b.HK" lose the
// board marker; US symbols are trimmed, stripped of a stray ".HK" and
// upper-cased.
func NormalizeTicker(ticker string, market Market) string {
	t := strings.TrimSpace(ticker)
	switch market {
	case MarketHK:
		t = strings.ReplaceAll(t, "b.HK", ".HK")
		return strings.ToUpper(t)
	case MarketUS:
		t = strings.ReplaceAll(t, ".HK", "")
		return strings.ToUpper(t)
	}
	return t
}
