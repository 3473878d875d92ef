package snapshot

import (
	"fmt"

	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/pricing"
)

// Snapshot fields that may be edited by hand.
const (
	FieldPortfolioValue = "portfolioValue"
	FieldCapitalEngaged = "capitalEngaged"
	FieldNote           = "note"
	FieldDailyPnL       = "dailyPnL"
	FieldClosingPrice   = "closingPrice"
)

// ApplyRetroactive folds a lot bought on a past date into every snapshot
// dated on or after it. Each snapshot gains the lot's cost, market value and
// unrealized gain, and its dailyPnL gains the lot's move for that day: from
// the purchase price on the first snapshot that holds it, from the previous
// snapshot's close afterwards. Closing prices already recorded for the
// ticker are reused; otherwise bars supply them.
//
// This is the only path that rewrites a finalized dailyPnL. Every change to
// a finalized snapshot is returned as a Correction and appended to the
// document's audit trail.
func (e *Engine) ApplyRetroactive(doc *models.Document, ticker, name string, lot models.Lot, bars []models.Bar) ([]models.Correction, []models.Warning) {
	var corrections []models.Correction
	var warnings []models.Warning

	qty := float64(lot.Quantity)
	cost := qty * lot.Price
	lastClose := lot.Price
	now := e.now().UTC()

	for i := range doc.Snapshots {
		s := &doc.Snapshots[i]
		if s.Date < lot.Date {
			continue
		}

		closePrice, ok := s.ClosingPrices[ticker]
		if !ok || closePrice <= 0 {
			if v, found := pricing.CloseOn(bars, s.Date); found {
				closePrice = v
			} else {
				closePrice = lot.Price
				warnings = append(warnings, models.Warning{
					Kind: models.WarningMissingMarketData, Ticker: ticker, Date: s.Date,
					Message: "no historical close; valued at purchase price",
				})
			}
		}

		oldValue := s.PortfolioValue
		oldDaily := s.DailyPnL
		mv := qty * closePrice
		delta := (closePrice - lastClose) * qty
		lastClose = closePrice

		if s.ClosingPrices == nil {
			s.ClosingPrices = make(map[string]float64)
		}
		s.ClosingPrices[ticker] = closePrice
		s.CapitalEngaged = models.Round2(s.CapitalEngaged + cost)
		s.PortfolioValue = models.Round2(s.PortfolioValue + mv)
		s.UnrealizedPnL = models.Round2(s.PortfolioValue - s.CapitalEngaged)
		if addLotRow(s, ticker, name, lot, closePrice) {
			s.PositionCount++
		}
		if s.DailyPnL != nil {
			s.DailyPnL = models.Float(models.Round2(*s.DailyPnL + delta))
		} else if !s.IsEstimated() {
			s.DailyPnL = models.Float(models.Round2(delta))
		}
		s.UpdatedAt = now

		if !s.IsFinalized() {
			continue
		}
		corrections = append(corrections,
			e.newCorrection(s.Date, FieldPortfolioValue, ticker, oldValue, s.PortfolioValue, models.CorrectionRetroactivePosition))
		if oldDaily == nil || *oldDaily != *s.DailyPnL {
			var old float64
			if oldDaily != nil {
				old = *oldDaily
			}
			corrections = append(corrections,
				e.newCorrection(s.Date, FieldDailyPnL, ticker, old, *s.DailyPnL, models.CorrectionRetroactivePosition))
		}
	}

	doc.Corrections = append(doc.Corrections, corrections...)
	if len(corrections) > 0 {
		e.logger.Info().
			Str("ticker", ticker).
			Str("lot_date", lot.Date).
			Int64("quantity", lot.Quantity).
			Int("corrections", len(corrections)).
			Msg("Applied retroactive position to snapshots")
	}
	return corrections, warnings
}

// addLotRow adds the lot to the snapshot's positionsAtClose, merging into an
// existing row for the ticker. It reports whether a new row was created.
func addLotRow(s *models.Snapshot, ticker, name string, lot models.Lot, closePrice float64) bool {
	for i := range s.PositionsAtClose {
		row := &s.PositionsAtClose[i]
		if row.Ticker != ticker {
			continue
		}
		oldCost := float64(row.Quantity) * row.EntryPrice
		row.Quantity += lot.Quantity
		newCost := oldCost + float64(lot.Quantity)*lot.Price
		row.EntryPrice = models.Round4(newCost / float64(row.Quantity))
		if lot.Date < row.EntryDate || row.EntryDate == "" {
			row.EntryDate = lot.Date
		}
		row.ClosingPrice = closePrice
		row.MarketValue = models.Round2(float64(row.Quantity) * closePrice)
		row.PnL = models.Round2(row.MarketValue - newCost)
		if newCost > 0 {
			row.PnLPercent = models.Round2(row.PnL / newCost * 100)
		}
		return false
	}

	p := models.Position{Ticker: ticker, Name: name, Lots: []models.Lot{lot}}
	p.Reproject()
	s.PositionsAtClose = append(s.PositionsAtClose, positionRow(p, closePrice))
	return true
}

// RestoreClosingPrices replaces the closing prices recorded for date, then
// recomputes that day's portfolio value, unrealized P&L and dailyPnL. When no
// later snapshot exists the price cache and open positions take the
// restored prices as their current price.
func (e *Engine) RestoreClosingPrices(doc *models.Document, date string, prices map[string]float64) ([]models.Correction, []models.Warning, error) {
	idx := doc.SnapshotIndex(date)
	if idx < 0 {
		return nil, nil, fmt.Errorf("restore closing prices for %s: %w", date, models.ErrNoSnapshot)
	}
	for ticker, p := range prices {
		if p <= 0 {
			return nil, nil, models.NewValidationError("prices", models.ErrInvalidPrice, "%s close %.4f must be positive", ticker, p)
		}
	}

	s := &doc.Snapshots[idx]
	var corrections []models.Correction
	var warnings []models.Warning

	if s.ClosingPrices == nil {
		s.ClosingPrices = make(map[string]float64)
	}
	for ticker, p := range prices {
		old := s.ClosingPrices[ticker]
		if old == p {
			continue
		}
		s.ClosingPrices[ticker] = p
		corrections = append(corrections, e.newCorrection(date, FieldClosingPrice, ticker, old, p, models.CorrectionRestoreClosePrices))
	}

	if len(s.PositionsAtClose) == 0 {
		for i := range doc.Positions {
			held, ok := doc.Positions[i].HeldOn(date)
			if !ok {
				continue
			}
			closePrice, ok := s.ClosingPrices[held.Ticker]
			if !ok {
				closePrice = held.CurrentPrice
			}
			s.PositionsAtClose = append(s.PositionsAtClose, positionRow(held, closePrice))
		}
		s.PositionCount = len(s.PositionsAtClose)
	}

	prev := doc.SnapshotBefore(date)
	var value, daily float64
	for i := range s.PositionsAtClose {
		row := &s.PositionsAtClose[i]
		if p, ok := s.ClosingPrices[row.Ticker]; ok {
			row.ClosingPrice = p
		}
		cost := float64(row.Quantity) * row.EntryPrice
		row.MarketValue = models.Round2(float64(row.Quantity) * row.ClosingPrice)
		row.PnL = models.Round2(row.MarketValue - cost)
		if cost > 0 {
			row.PnLPercent = models.Round2(row.PnL / cost * 100)
		}
		value += row.MarketValue

		if prev == nil {
			continue
		}
		sameQty, sameCost, priorQty := row.Quantity, cost, int64(0)
		if pi := doc.PositionIndex(row.Ticker); pi >= 0 {
			if held, ok := doc.Positions[pi].HeldOn(date); ok && held.Quantity == row.Quantity {
				sameQty, sameCost, priorQty = held.LotsOn(date)
			}
		} else if row.EntryDate != date {
			sameQty, sameCost, priorQty = 0, 0, row.Quantity
		}
		daily += float64(sameQty)*row.ClosingPrice - sameCost
		if priorQty > 0 {
			prevClose, ok := prev.ClosingPrices[row.Ticker]
			if !ok {
				prevClose = row.ClosingPrice
				warnings = append(warnings, models.Warning{
					Kind: models.WarningMissingMarketData, Ticker: row.Ticker, Date: prev.Date,
					Message: "previous snapshot has no close; day's move counted as zero",
				})
			}
			daily += (row.ClosingPrice - prevClose) * float64(priorQty)
		}
	}

	oldValue, oldDaily := s.PortfolioValue, s.DailyPnLValue()
	s.PortfolioValue = models.Round2(value)
	s.UnrealizedPnL = models.Round2(s.PortfolioValue - s.CapitalEngaged)
	if prev == nil {
		daily = s.UnrealizedPnL
	} else {
		daily += s.RealizedPnL - prev.RealizedPnL
	}
	s.DailyPnL = models.Float(models.Round2(daily))
	if s.Status == "" || s.IsEstimated() {
		s.Status = models.SnapshotFinalized
	}
	s.UpdatedAt = e.now().UTC()

	if oldValue != s.PortfolioValue {
		corrections = append(corrections, e.newCorrection(date, FieldPortfolioValue, "", oldValue, s.PortfolioValue, models.CorrectionRestoreClosePrices))
	}
	if oldDaily != *s.DailyPnL {
		corrections = append(corrections, e.newCorrection(date, FieldDailyPnL, "", oldDaily, *s.DailyPnL, models.CorrectionRestoreClosePrices))
	}

	if idx == len(doc.Snapshots)-1 {
		now := e.now().UTC()
		for ticker, p := range prices {
			entry := doc.PriceCache[ticker]
			entry.Price = p
			entry.Success = true
			entry.Source = "restore"
			entry.LastUpdated = now
			doc.PriceCache[ticker] = entry
			if pi := doc.PositionIndex(ticker); pi >= 0 {
				doc.Positions[pi].CurrentPrice = p
			}
		}
	}

	doc.Corrections = append(doc.Corrections, corrections...)
	e.logger.Info().
		Str("date", date).
		Int("prices", len(prices)).
		Float64("portfolio_value", s.PortfolioValue).
		Float64("daily_pnl", *s.DailyPnL).
		Msg("Restored closing prices")
	return corrections, warnings, nil
}

// ResolveConflict sets the authoritative dailyPnL for date and clears the
// recorded conflicts.
func (e *Engine) ResolveConflict(doc *models.Document, date string, value float64) (models.Correction, error) {
	s := doc.SnapshotFor(date)
	if s == nil {
		return models.Correction{}, fmt.Errorf("resolve conflict for %s: %w", date, models.ErrNoSnapshot)
	}
	c := e.newCorrection(date, FieldDailyPnL, "", s.DailyPnLValue(), models.Round2(value), models.CorrectionConflictResolution)
	s.DailyPnL = models.Float(models.Round2(value))
	s.Status = models.SnapshotFinalized
	s.Conflicts = nil
	s.UpdatedAt = c.CreatedAt
	doc.Corrections = append(doc.Corrections, c)

	e.logger.Info().Str("date", date).Float64("daily_pnl", value).Msg("Snapshot conflict resolved")
	return c, nil
}

// EditAuditField edits one hand-editable field of the snapshot for date.
// Numeric fields take a float64, note takes a string. dailyPnL is not
// editable here; use ResolveConflict.
func (e *Engine) EditAuditField(doc *models.Document, date, field string, value any) ([]models.Correction, error) {
	s := doc.SnapshotFor(date)
	if s == nil {
		return nil, fmt.Errorf("edit snapshot %s: %w", date, models.ErrNoSnapshot)
	}

	var corrections []models.Correction
	switch field {
	case FieldPortfolioValue, FieldCapitalEngaged:
		v, ok := value.(float64)
		if !ok || v < 0 {
			return nil, models.NewValidationError(field, models.ErrInvalidAmount, "must be a non-negative number")
		}
		v = models.Round2(v)
		target := &s.PortfolioValue
		if field == FieldCapitalEngaged {
			target = &s.CapitalEngaged
		}
		corrections = append(corrections, e.newCorrection(date, field, "", *target, v, models.CorrectionManualEdit))
		*target = v
		s.UnrealizedPnL = models.Round2(s.PortfolioValue - s.CapitalEngaged)
	case FieldNote:
		v, ok := value.(string)
		if !ok {
			return nil, models.NewValidationError(field, models.ErrInvalidField, "must be a string")
		}
		s.Note = v
	case FieldDailyPnL:
		return nil, models.NewValidationError(field, models.ErrInvalidField, "dailyPnL is not editable; resolve conflicts instead")
	default:
		return nil, models.NewValidationError(field, models.ErrInvalidField, "unknown snapshot field %q", field)
	}

	s.UpdatedAt = e.now().UTC()
	doc.Corrections = append(doc.Corrections, corrections...)
	e.logger.Info().Str("date", date).Str("field", field).Msg("Snapshot field edited")
	return corrections, nil
}
