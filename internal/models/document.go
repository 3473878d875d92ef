// Package models defines data structures for Folio
package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Document is the whole persisted state of one portfolio. It is loaded and
// saved as a unit; Version increases by one on every successful save.
type Document struct {
	ID           string                     `json:"id"`
	Version      int64                      `json:"version"`
	Positions    []Position                 `json:"positions"`
	ClosedTrades []ClosedTrade              `json:"closedTrades"`
	Transactions []Transaction              `json:"transactions"`
	Snapshots    []Snapshot                 `json:"snapshots"`
	Wishlist     []WishlistItem             `json:"wishlist"`
	PriceCache   map[string]PriceCacheEntry `json:"priceCache"`
	Settings     Settings                   `json:"settings"`
	Corrections  []Correction               `json:"corrections,omitempty"`
	LastUpdated  time.Time                  `json:"lastUpdated,omitzero"`
}

// NewDocument returns an empty document with initialised collections.
func NewDocument(id string) *Document {
	d := &Document{ID: id}
	d.Normalize()
	return d
}

// Normalize initialises nil collections, upgrades legacy positions and
// restores the snapshot ordering (ascending, one per date; the later entry
// wins for duplicates).
func (d *Document) Normalize() {
	if d.Positions == nil {
		d.Positions = []Position{}
	}
	if d.ClosedTrades == nil {
		d.ClosedTrades = []ClosedTrade{}
	}
	if d.Transactions == nil {
		d.Transactions = []Transaction{}
	}
	if d.Snapshots == nil {
		d.Snapshots = []Snapshot{}
	}
	if d.Wishlist == nil {
		d.Wishlist = []WishlistItem{}
	}
	if d.PriceCache == nil {
		d.PriceCache = map[string]PriceCacheEntry{}
	}
	if d.Settings == nil {
		d.Settings = Settings{}
	}
	for i := range d.Positions {
		d.Positions[i].UpgradeLegacy()
	}

	sort.SliceStable(d.Snapshots, func(i, j int) bool { return d.Snapshots[i].Date < d.Snapshots[j].Date })
	deduped := d.Snapshots[:0]
	for _, s := range d.Snapshots {
		if n := len(deduped); n > 0 && deduped[n-1].Date == s.Date {
			deduped[n-1] = combineDuplicate(deduped[n-1], s)
			continue
		}
		deduped = append(deduped, s)
	}
	d.Snapshots = deduped
}

// combineDuplicate folds two stored snapshots for the same date, as left by
// a writer that appended instead of merging. A finalized dailyPnL is never
// displaced: the first finalized entry keeps it, a disagreeing value from
// the other entry is kept as a conflict, and missing fields are filled from
// either side. Between two unfinalized entries the later one wins.
func combineDuplicate(first, second Snapshot) Snapshot {
	switch {
	case first.IsFinalized():
	case second.IsFinalized():
		first, second = second, first
	default:
		if second.Note == "" {
			second.Note = first.Note
		}
		return second
	}

	out := first
	if len(second.ClosingPrices) > 0 {
		prices := make(map[string]float64, len(first.ClosingPrices)+len(second.ClosingPrices))
		for t, p := range second.ClosingPrices {
			prices[t] = p
		}
		for t, p := range first.ClosingPrices {
			prices[t] = p
		}
		out.ClosingPrices = prices
	}
	if len(out.PositionsAtClose) == 0 {
		out.PositionsAtClose = second.PositionsAtClose
	}
	if out.Note == "" {
		out.Note = second.Note
	}
	out.Conflicts = append(append([]SnapshotConflict(nil), first.Conflicts...), second.Conflicts...)

	if second.IsFinalized() && second.DailyPnL != nil && out.DailyPnL != nil &&
		Round2(*second.DailyPnL) != Round2(*out.DailyPnL) {
		recorded := false
		for _, c := range out.Conflicts {
			if c.Writer == second.Writer && Round2(c.DailyPnL) == Round2(*second.DailyPnL) {
				recorded = true
				break
			}
		}
		if !recorded {
			out.Conflicts = append(out.Conflicts, SnapshotConflict{
				Writer:     second.Writer,
				DailyPnL:   *second.DailyPnL,
				RecordedAt: second.UpdatedAt,
			})
		}
	}
	if len(out.Conflicts) == 0 {
		out.Conflicts = nil
	}
	return out
}

// Clone returns a deep copy. Mutations are applied to a clone and swapped in
// only after a successful save.
func (d *Document) Clone() *Document {
	data, err := json.Marshal(d)
	if err != nil {
		// every field is plain data; marshal cannot fail
		panic("models: clone document: " + err.Error())
	}
	out := &Document{}
	if err := json.Unmarshal(data, out); err != nil {
		panic("models: clone document: " + err.Error())
	}
	out.Normalize()
	return out
}

// PositionIndex returns the index of the open position for ticker, or -1.
func (d *Document) PositionIndex(ticker string) int {
	for i := range d.Positions {
		if strings.EqualFold(d.Positions[i].Ticker, ticker) {
			return i
		}
	}
	return -1
}

// SnapshotIndex returns the index of the snapshot for date, or -1.
func (d *Document) SnapshotIndex(date string) int {
	i := sort.Search(len(d.Snapshots), func(i int) bool { return d.Snapshots[i].Date >= date })
	if i < len(d.Snapshots) && d.Snapshots[i].Date == date {
		return i
	}
	return -1
}

// SnapshotFor returns the snapshot for date, or nil.
func (d *Document) SnapshotFor(date string) *Snapshot {
	if i := d.SnapshotIndex(date); i >= 0 {
		return &d.Snapshots[i]
	}
	return nil
}

// SnapshotBefore returns the latest snapshot dated strictly before date.
func (d *Document) SnapshotBefore(date string) *Snapshot {
	i := sort.Search(len(d.Snapshots), func(i int) bool { return d.Snapshots[i].Date >= date })
	if i == 0 {
		return nil
	}
	return &d.Snapshots[i-1]
}

// PutSnapshot inserts or replaces the snapshot for s.Date keeping order.
func (d *Document) PutSnapshot(s Snapshot) {
	i := sort.Search(len(d.Snapshots), func(i int) bool { return d.Snapshots[i].Date >= s.Date })
	if i < len(d.Snapshots) && d.Snapshots[i].Date == s.Date {
		d.Snapshots[i] = s
		return
	}
	d.Snapshots = append(d.Snapshots, Snapshot{})
	copy(d.Snapshots[i+1:], d.Snapshots[i:])
	d.Snapshots[i] = s
}

// RealizedThrough sums realized P&L of trades closed on or before date.
func (d *Document) RealizedThrough(date string) float64 {
	var total float64
	for _, t := range d.ClosedTrades {
		if t.ExitDate <= date {
			total += t.RealizedPnL
		}
	}
	return total
}

// DividendsThrough sums dividend transactions dated on or before date.
func (d *Document) DividendsThrough(date string) float64 {
	var total float64
	for _, t := range d.Transactions {
		if t.Type == TransactionDividend && t.Date <= date {
			total += t.Amount
		}
	}
	return total
}

// Settings is the user settings object. Only the keys read by the core have
// accessors; everything else is carried through untouched.
type Settings map[string]any

// Market returns the configured market code, or "".
func (s Settings) Market() string {
	v, _ := s["market"].(string)
	return strings.ToUpper(v)
}

// ManualOverrideTTL returns how long a manual previous-close override stays
// authoritative.
func (s Settings) ManualOverrideTTL(fallback time.Duration) time.Duration {
	v, _ := s["manualOverrideTTL"].(string)
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return fallback
}

// LotSize returns the board lot for ticker, or 0 when unset.
func (s Settings) LotSize(ticker string) int64 {
	m, ok := s["lotSizes"].(map[string]any)
	if !ok {
		return 0
	}
	switch v := m[ticker].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// PriceCacheEntry is the last fetched quote for a ticker. Transient; once a
// snapshot records closingPrices those are authoritative for history.
type PriceCacheEntry struct {
	Success             bool       `json:"success"`
	Price               float64    `json:"price"`
	PreviousClose       float64    `json:"previousClose"`
	ManualPreviousClose *float64   `json:"manualPreviousClose,omitempty"`
	ManualSetAt         *time.Time `json:"manualSetAt,omitempty"`
	Change              float64    `json:"change"`
	ChangePercent       float64    `json:"changePercent"`
	Currency            string     `json:"currency,omitempty"`
	Source              string     `json:"source,omitempty"`
	LastUpdated         time.Time  `json:"lastUpdated,omitzero"`
	Error               string     `json:"error,omitempty"`
}
