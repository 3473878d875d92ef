package models

import "time"

// Quote is a live price with the previous session's close.
type Quote struct {
	Ticker        string    `json:"ticker"`
	Name          string    `json:"name,omitempty"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previousClose"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Currency      string    `json:"currency,omitempty"`
	Source        string    `json:"source"`
	MarketTime    time.Time `json:"marketTime,omitzero"`
	FetchedAt     time.Time `json:"fetchedAt"`
}

// Bar is one daily close.
type Bar struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// CacheEntry converts a quote into the document's price cache form.
func (q *Quote) CacheEntry() PriceCacheEntry {
	return PriceCacheEntry{
		Success:       true,
		Price:         q.Price,
		PreviousClose: q.PreviousClose,
		Change:        Round4(q.Change),
		ChangePercent: Round4(q.ChangePercent),
		Currency:      q.Currency,
		Source:        q.Source,
		LastUpdated:   q.FetchedAt,
	}
}

// RefreshReport summarises a price refresh. Failed lists every ticker that
// could not be priced by name.
type RefreshReport struct {
	Updated  []string          `json:"updated"`
	Failed   map[string]string `json:"failed,omitempty"` // ticker -> reason
	Warnings []Warning         `json:"warnings,omitempty"`
}
