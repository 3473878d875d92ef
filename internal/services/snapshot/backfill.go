package snapshot

import (
	"github.com/bobmcallan/folio/internal/models"
)

// BackfillResult lists the estimated snapshots written.
type BackfillResult struct {
	Estimated []string         `json:"estimated"`
	Warnings  []models.Warning `json:"warnings,omitempty"`
}

// Backfill fills trading days that have no snapshot between two
// non-estimated snapshots. Each gap day gets an estimated dailyPnL equal to
// the change in realized+unrealized P&L across the gap divided evenly by
// the number of gap days; totals are interpolated linearly. A gap without a
// snapshot on both sides is left alone. Existing estimates are recomputed;
// non-estimated snapshots are never touched. from and to bound the days
// written; empty means unbounded.
func (e *Engine) Backfill(doc *models.Document, from, to string, market models.Market) BackfillResult {
	var result BackfillResult

	var anchors []models.Snapshot
	for _, s := range doc.Snapshots {
		if !s.IsEstimated() {
			anchors = append(anchors, s)
		}
	}

	now := e.now().UTC()
	for i := 1; i < len(anchors); i++ {
		left, right := anchors[i-1], anchors[i]
		days, warnings := e.calendar.TradingDaysBetween(left.Date, right.Date, market)
		result.Warnings = appendUnique(result.Warnings, warnings...)
		if len(days) == 0 {
			continue
		}

		n := float64(len(days))
		steps := n + 1
		perDay := models.Round2((right.TotalPnL() - left.TotalPnL()) / n)

		for k, day := range days {
			if (from != "" && day < from) || (to != "" && day > to) {
				continue
			}
			frac := float64(k+1) / steps
			est := models.Snapshot{
				Date:           day,
				CapitalEngaged: lerp(left.CapitalEngaged, right.CapitalEngaged, frac),
				PortfolioValue: lerp(left.PortfolioValue, right.PortfolioValue, frac),
				UnrealizedPnL:  lerp(left.UnrealizedPnL, right.UnrealizedPnL, frac),
				RealizedPnL:    lerp(left.RealizedPnL, right.RealizedPnL, frac),
				TotalDividends: lerp(left.TotalDividends, right.TotalDividends, frac),
				PositionCount:  left.PositionCount,
				DailyPnL:       models.Float(perDay),
				Status:         models.SnapshotEstimated,
				Writer:         models.WriterBackfill,
				CreatedAt:      now,
				UpdatedAt:      now,
			}

			merged, _ := Merge(doc.SnapshotFor(day), est, now)
			doc.PutSnapshot(merged)
			if merged.IsEstimated() {
				result.Estimated = append(result.Estimated, day)
			}
		}

		e.logger.Info().
			Str("from", left.Date).
			Str("to", right.Date).
			Int("gap_days", len(days)).
			Float64("daily_estimate", perDay).
			Msg("Backfilled snapshot gap")
	}
	return result
}

func lerp(a, b, frac float64) float64 {
	return models.Round2(a + (b-a)*frac)
}
