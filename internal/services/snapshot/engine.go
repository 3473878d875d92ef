// Package snapshot produces one snapshot per trading day and reconciles
// snapshots written by several writers.
//
// A snapshot moves absent -> estimated -> finalized. A finalized dailyPnL is
// never overwritten by a merge; only the correction paths in corrections.go
// rewrite it, and each of those leaves a Correction record.
package snapshot

import (
	"math"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/calendar"
	"github.com/bobmcallan/folio/internal/services/pricing"
)

// conflictTolerance is the largest dailyPnL difference treated as agreement.
const conflictTolerance = 0.005

// Action describes what CreateOrMerge did.
type Action string

const (
	ActionCreated Action = "created"
	ActionMerged  Action = "merged"
	ActionSkipped Action = "skipped" // not a trading day
)

// Result reports the outcome for one date.
type Result struct {
	Date     string           `json:"date"`
	Action   Action           `json:"action"`
	Snapshot *models.Snapshot `json:"snapshot,omitempty"`
	Warnings []models.Warning `json:"warnings,omitempty"`
}

// Engine computes and merges snapshots.
type Engine struct {
	calendar *calendar.Calendar
	resolver *pricing.Resolver
	logger   *common.Logger
	now      func() time.Time // injectable clock for testing
}

// NewEngine creates a snapshot engine.
func NewEngine(cal *calendar.Calendar, resolver *pricing.Resolver, logger *common.Logger) *Engine {
	return &Engine{
		calendar: cal,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the clock used for snapshot and correction timestamps.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Compute values the document's open positions at date's close. Closing
// prices come from bars when given for a ticker, otherwise the position's
// current price. dailyPnL is measured against the latest earlier snapshot:
// lots bought on date gain from their purchase price, older lots from the
// resolved previous close, and realized P&L adds its change since then.
func (e *Engine) Compute(doc *models.Document, date string, market models.Market, bars map[string][]models.Bar) (models.Snapshot, []models.Warning) {
	var warnings []models.Warning
	snap := models.Snapshot{
		Date:           date,
		ClosingPrices:  make(map[string]float64),
		RealizedPnL:    models.Round2(doc.RealizedThrough(date)),
		TotalDividends: models.Round2(doc.DividendsThrough(date)),
	}

	prev := doc.SnapshotBefore(date)
	var capital, value, daily float64

	for i := range doc.Positions {
		held, ok := doc.Positions[i].HeldOn(date)
		if !ok {
			continue
		}

		closePrice := held.CurrentPrice
		if b, ok := pricing.CloseOn(bars[held.Ticker], date); ok {
			closePrice = b
		}
		if closePrice <= 0 {
			closePrice = held.EntryPrice
			warnings = append(warnings, models.Warning{
				Kind: models.WarningMissingMarketData, Ticker: held.Ticker, Date: date,
				Message: "no price; valued at entry price",
			})
		}

		cost := held.CostBasis()
		mv := float64(held.Quantity) * closePrice
		capital += cost
		value += mv

		snap.ClosingPrices[held.Ticker] = closePrice
		snap.PositionsAtClose = append(snap.PositionsAtClose, positionRow(held, closePrice))

		if prev == nil {
			continue
		}
		sameQty, sameCost, priorQty := held.LotsOn(date)
		daily += float64(sameQty)*closePrice - sameCost
		if priorQty > 0 {
			res := e.resolver.Resolve(doc, pricing.Request{
				Ticker:       held.Ticker,
				Date:         date,
				Market:       market,
				CurrentPrice: closePrice,
				Bars:         bars[held.Ticker],
			})
			warnings = appendUnique(warnings, res.Warnings...)
			daily += (closePrice - res.PreviousClose) * float64(priorQty)
		}
	}

	snap.CapitalEngaged = models.Round2(capital)
	snap.PortfolioValue = models.Round2(value)
	snap.UnrealizedPnL = models.Round2(value - capital)
	snap.PositionCount = len(snap.PositionsAtClose)

	if prev == nil {
		daily = value - capital
	} else {
		daily += doc.RealizedThrough(date) - prev.RealizedPnL
	}
	snap.DailyPnL = models.Float(models.Round2(daily))

	return snap, warnings
}

func positionRow(p models.Position, closePrice float64) models.PositionAtClose {
	cost := p.CostBasis()
	mv := float64(p.Quantity) * closePrice
	row := models.PositionAtClose{
		Ticker:       p.Ticker,
		Name:         p.Name,
		Quantity:     p.Quantity,
		EntryPrice:   models.Round4(p.EntryPrice),
		EntryDate:    p.EntryDate,
		ClosingPrice: closePrice,
		MarketValue:  models.Round2(mv),
		PnL:          models.Round2(mv - cost),
	}
	if cost > 0 {
		row.PnLPercent = models.Round2((mv - cost) / cost * 100)
	}
	return row
}

// CreateOrMerge writes the snapshot for date. On a day the market is closed
// it does nothing. An existing snapshot is merged field by field.
func (e *Engine) CreateOrMerge(doc *models.Document, date string, market models.Market, writer models.SnapshotWriter, bars map[string][]models.Bar) (Result, error) {
	trading, warn, err := e.calendar.IsTradingDate(date, market)
	if err != nil {
		return Result{}, err
	}
	res := Result{Date: date}
	if warn != nil {
		res.Warnings = append(res.Warnings, *warn)
	}
	if !trading {
		res.Action = ActionSkipped
		e.logger.Debug().Str("date", date).Str("market", string(market)).Msg("Not a trading day; snapshot skipped")
		return res, nil
	}

	computed, warnings := e.Compute(doc, date, market, bars)
	res.Warnings = appendUnique(res.Warnings, warnings...)

	now := e.now().UTC()
	computed.Status = models.SnapshotFinalized
	computed.Writer = writer
	computed.CreatedAt = now
	computed.UpdatedAt = now

	existing := doc.SnapshotFor(date)
	merged, conflict := Merge(existing, computed, now)
	doc.PutSnapshot(merged)

	if existing == nil {
		res.Action = ActionCreated
	} else {
		res.Action = ActionMerged
	}
	if conflict != nil {
		res.Warnings = append(res.Warnings, models.Warning{
			Kind:    models.WarningReconciliationConflict,
			Date:    date,
			Message: conflict.Error(),
		})
		e.logger.Warn().
			Str("date", date).
			Float64("stored", conflict.Existing).
			Float64("computed", conflict.Incoming).
			Str("writer", string(writer)).
			Msg("Snapshot dailyPnL conflict recorded for manual resolution")
	}

	for i := range doc.Positions {
		doc.Positions[i].Dirty = false
	}

	res.Snapshot = doc.SnapshotFor(date)
	e.logger.Info().
		Str("date", date).
		Str("action", string(res.Action)).
		Str("writer", string(writer)).
		Float64("portfolio_value", res.Snapshot.PortfolioValue).
		Float64("daily_pnl", res.Snapshot.DailyPnLValue()).
		Msg("Snapshot reconciled")
	return res, nil
}

// Merge combines a stored snapshot with a newly computed one.
//
//   - absent stored snapshot: the incoming one is used as is
//   - estimated stored, finalized incoming: the incoming values replace the
//     estimate
//   - finalized stored, estimated incoming: nothing changes
//   - both finalized: missing fields are filled; a stored dailyPnL is kept,
//     and a disagreeing value from another writer is appended to Conflicts
//     and returned as a ConflictError
func Merge(existing *models.Snapshot, incoming models.Snapshot, now time.Time) (models.Snapshot, *models.ConflictError) {
	if existing == nil {
		return incoming, nil
	}
	out := *existing
	out.ClosingPrices = copyPrices(existing.ClosingPrices)
	out.PositionsAtClose = append([]models.PositionAtClose(nil), existing.PositionsAtClose...)
	out.Conflicts = append([]models.SnapshotConflict(nil), existing.Conflicts...)

	if incoming.IsEstimated() {
		if existing.IsEstimated() {
			incoming.Note = existing.Note
			incoming.CreatedAt = existing.CreatedAt
			return incoming, nil
		}
		return out, nil
	}

	if existing.IsEstimated() {
		incoming.Note = existing.Note
		if !existing.CreatedAt.IsZero() {
			incoming.CreatedAt = existing.CreatedAt
		}
		incoming.UpdatedAt = now
		return incoming, nil
	}

	changed := false
	if out.ClosingPrices == nil && len(incoming.ClosingPrices) > 0 {
		out.ClosingPrices = make(map[string]float64)
	}
	for ticker, p := range incoming.ClosingPrices {
		if _, ok := out.ClosingPrices[ticker]; !ok {
			out.ClosingPrices[ticker] = p
			changed = true
		}
	}
	if len(out.PositionsAtClose) == 0 && len(incoming.PositionsAtClose) > 0 {
		out.PositionsAtClose = incoming.PositionsAtClose
		if out.PositionCount == 0 {
			out.PositionCount = incoming.PositionCount
		}
		changed = true
	}
	if out.Writer == "" && out.DailyPnL == nil {
		out.Writer = incoming.Writer
	}

	var conflict *models.ConflictError
	switch {
	case out.DailyPnL == nil && incoming.DailyPnL != nil:
		out.DailyPnL = models.Float(*incoming.DailyPnL)
		out.Writer = incoming.Writer
		changed = true
	case out.DailyPnL != nil && incoming.DailyPnL != nil:
		diff := math.Abs(*out.DailyPnL - *incoming.DailyPnL)
		if diff > conflictTolerance && out.Writer != incoming.Writer && !hasConflict(out.Conflicts, incoming) {
			out.Conflicts = append(out.Conflicts, models.SnapshotConflict{
				Writer:     incoming.Writer,
				DailyPnL:   *incoming.DailyPnL,
				RecordedAt: now,
			})
			conflict = &models.ConflictError{
				Date:     out.Date,
				Field:    "dailyPnL",
				Existing: *out.DailyPnL,
				Incoming: *incoming.DailyPnL,
				Writer:   incoming.Writer,
			}
			changed = true
		}
	}

	if out.Status == "" && out.DailyPnL != nil {
		out.Status = models.SnapshotFinalized
		changed = true
	}
	if changed {
		out.UpdatedAt = now
	}
	return out, conflict
}

func hasConflict(cs []models.SnapshotConflict, incoming models.Snapshot) bool {
	for _, c := range cs {
		if c.Writer == incoming.Writer && math.Abs(c.DailyPnL-*incoming.DailyPnL) <= conflictTolerance {
			return true
		}
	}
	return false
}

func copyPrices(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func appendUnique(dst []models.Warning, src ...models.Warning) []models.Warning {
	for _, w := range src {
		dup := false
		for _, d := range dst {
			if d == w {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, w)
		}
	}
	return dst
}

func (e *Engine) newCorrection(date, field, ticker string, oldValue, newValue float64, reason models.CorrectionReason) models.Correction {
	now := e.now().UTC()
	return models.Correction{
		ID:        common.NewSortableID(now),
		Date:      date,
		Field:     field,
		Ticker:    ticker,
		OldValue:  oldValue,
		NewValue:  newValue,
		Reason:    reason,
		CreatedAt: now,
	}
}
