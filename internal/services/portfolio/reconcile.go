package portfolio

import (
	"context"
	"sort"
	"strings"

	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/calendar"
	"github.com/bobmcallan/folio/internal/services/snapshot"
)

// trackedTickers lists the open positions and wishlist entries of doc.
func (s *Service) trackedTickers(doc *models.Document) []string {
	market := s.Market(doc)
	seen := map[string]bool{}
	var tickers []string
	add := func(t string) {
		t = models.NormalizeTicker(strings.TrimSpace(t), market)
		if t != "" && !seen[t] {
			seen[t] = true
			tickers = append(tickers, t)
		}
	}
	for _, p := range doc.Positions {
		add(p.Ticker)
	}
	for _, w := range doc.Wishlist {
		add(w.Ticker)
	}
	sort.Strings(tickers)
	return tickers
}

// RefreshPrices fetches quotes for every tracked ticker and stores them in
// the price cache. Tickers that could not be priced keep their last price
// and are named in the report.
func (s *Service) RefreshPrices(ctx context.Context, id string) (models.RefreshReport, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return models.RefreshReport{}, err
	}
	tickers := s.trackedTickers(current)
	if len(tickers) == 0 {
		return models.RefreshReport{Updated: []string{}}, nil
	}

	quotes, report := s.quotes.Refresh(ctx, tickers, s.Market(current))

	_, err = s.commit(ctx, id, nil, func(doc *models.Document) error {
		applyQuotes(doc, quotes, report)
		return nil
	})
	if err != nil {
		return report, err
	}

	s.logger.Info().
		Str("portfolio", id).
		Int("updated", len(report.Updated)).
		Int("failed", len(report.Failed)).
		Msg("Prices refreshed")
	return report, nil
}

// applyQuotes writes fetched quotes into the price cache and the positions'
// current prices. Manual overrides survive a refresh.
func applyQuotes(doc *models.Document, quotes map[string]*models.Quote, report models.RefreshReport) {
	for ticker, q := range quotes {
		entry := q.CacheEntry()
		if old, ok := doc.PriceCache[ticker]; ok {
			entry.ManualPreviousClose = old.ManualPreviousClose
			entry.ManualSetAt = old.ManualSetAt
		}
		doc.PriceCache[ticker] = entry
		if i := doc.PositionIndex(ticker); i >= 0 {
			doc.Positions[i].CurrentPrice = q.Price
		}
	}
	for ticker, reason := range report.Failed {
		entry := doc.PriceCache[ticker]
		entry.Success = false
		entry.Error = reason
		doc.PriceCache[ticker] = entry
	}
}

// ReconcileOptions controls Reconcile.
type ReconcileOptions struct {
	Writer        models.SnapshotWriter
	RefreshPrices bool // fetch quotes before valuing today's close
	Force         bool // write today's snapshot even before the close
}

// ReconcileResult reports what Reconcile wrote.
type ReconcileResult struct {
	Date     string                  `json:"date"`
	Backfill snapshot.BackfillResult `json:"backfill"`
	Today    *snapshot.Result        `json:"today,omitempty"`
	Refresh  *models.RefreshReport   `json:"refresh,omitempty"`
	Warnings []models.Warning        `json:"warnings,omitempty"`
}

// Reconcile fills gaps between recorded snapshots with estimates and, once
// the market has closed, creates or merges today's snapshot. A reload of the
// portfolio while quotes are being fetched abandons the reconciliation with
// ErrReconciliationAbandoned; starting a new reconciliation supersedes one
// still in flight.
func (s *Service) Reconcile(ctx context.Context, id string, opts ReconcileOptions) (*ReconcileResult, error) {
	if opts.Writer == "" {
		opts.Writer = models.WriterClient
	}

	sess, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess.mu.Lock()
	if sess.cancel != nil {
		sess.cancel()
	}
	sess.cancel = cancel
	sess.reconcile++
	token := sess.reconcile
	gen := sess.generation
	current := sess.doc.Clone()
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		if sess.reconcile == token {
			sess.cancel = nil
		}
		sess.mu.Unlock()
	}()

	market := s.Market(current)
	now := s.now()
	today := calendar.Today(market, now)
	result := &ReconcileResult{Date: today}

	var quotes map[string]*models.Quote
	if opts.RefreshPrices {
		if tickers := s.trackedTickers(current); len(tickers) > 0 {
			q, report := s.quotes.Refresh(rctx, tickers, market)
			quotes = q
			result.Refresh = &report
			result.Warnings = appendWarnings(result.Warnings, report.Warnings...)
		}
	}

	if rctx.Err() != nil {
		s.logger.Info().Str("portfolio", id).Msg("Reconciliation cancelled by reload")
		return nil, models.ErrReconciliationAbandoned
	}

	writeToday := opts.Force || calendar.AfterClose(market, now)

	_, err = s.commit(ctx, id, &gen, func(doc *models.Document) error {
		if quotes != nil {
			applyQuotes(doc, quotes, *result.Refresh)
		}

		result.Today = nil
		if writeToday {
			res, err := s.engine.CreateOrMerge(doc, today, market, opts.Writer, nil)
			if err != nil {
				return err
			}
			result.Today = &res
		}

		result.Backfill = s.engine.Backfill(doc, "", today, market)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Today != nil {
		result.Warnings = appendWarnings(result.Warnings, result.Today.Warnings...)
	}
	result.Warnings = appendWarnings(result.Warnings, result.Backfill.Warnings...)
	for _, w := range result.Warnings {
		s.logger.Warn().Str("portfolio", id).Str("warning", w.String()).Msg("Reconciliation warning")
	}

	s.logger.Info().
		Str("portfolio", id).
		Str("date", today).
		Bool("today_written", result.Today != nil).
		Int("estimated", len(result.Backfill.Estimated)).
		Msg("Portfolio reconciled")
	return result, nil
}

// EditSnapshot changes an audit field of a stored snapshot.
func (s *Service) EditSnapshot(ctx context.Context, id, date, field string, value any) ([]models.Correction, error) {
	var out []models.Correction
	_, err := s.commit(ctx, id, nil, func(doc *models.Document) error {
		cs, err := s.engine.EditAuditField(doc, date, field, value)
		out = cs
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveConflict sets the dailyPnL of a conflicted snapshot.
func (s *Service) ResolveConflict(ctx context.Context, id, date string, value float64) (*models.Correction, error) {
	var out models.Correction
	_, err := s.commit(ctx, id, nil, func(doc *models.Document) error {
		c, err := s.engine.ResolveConflict(doc, date, value)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RestoreResult reports a closing-price restore.
type RestoreResult struct {
	Date        string              `json:"date"`
	Corrections []models.Correction `json:"corrections"`
	Warnings    []models.Warning    `json:"warnings,omitempty"`
}

// RestoreClosingPrices overwrites the closing prices of a stored snapshot
// and recomputes its values.
func (s *Service) RestoreClosingPrices(ctx context.Context, id, date string, prices map[string]float64) (*RestoreResult, error) {
	result := &RestoreResult{Date: date}
	_, err := s.commit(ctx, id, nil, func(doc *models.Document) error {
		normalized := make(map[string]float64, len(prices))
		for t, p := range prices {
			normalized[models.NormalizeTicker(t, s.Market(doc))] = p
		}
		cs, ws, err := s.engine.RestoreClosingPrices(doc, date, normalized)
		result.Corrections = cs
		result.Warnings = ws
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
