package app

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/calendar"
	"github.com/bobmcallan/folio/internal/services/portfolio"
)

// scheduler refreshes prices during the trading day and writes each
// portfolio's snapshot once the market has closed.
type scheduler struct {
	portfolios *portfolio.Service
	ids        []string
	market     models.Market
	calendar   *calendar.Calendar
	logger     *common.Logger
	now        func() time.Time

	reconciled map[string]string // portfolio -> market day last reconciled
}

func newScheduler(svc *portfolio.Service, ids []string, market models.Market, cal *calendar.Calendar, logger *common.Logger) *scheduler {
	return &scheduler{
		portfolios: svc,
		ids:        ids,
		market:     market,
		calendar:   cal,
		logger:     logger,
		now:        time.Now,
		reconciled: make(map[string]string),
	}
}

// run ticks on a fixed interval until ctx is cancelled.
func (s *scheduler) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().
		Str("market", string(s.market)).
		Dur("interval", interval).
		Int("portfolios", len(s.ids)).
		Msg("Scheduler: started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler: stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick does nothing on days the market is closed. After the close the first
// tick of the day reconciles with fresh quotes; earlier ticks only refresh.
func (s *scheduler) tick(ctx context.Context) {
	now := s.now()
	today := calendar.Today(s.market, now)
	trading, _, err := s.calendar.IsTradingDate(today, s.market)
	if err != nil || !trading {
		return
	}
	closed := calendar.AfterClose(s.market, now)

	for _, id := range s.ids {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()

		if !closed {
			report, err := s.portfolios.RefreshPrices(ctx, id)
			if err != nil {
				s.logger.Warn().Err(err).Str("portfolio", id).Msg("Scheduler: price refresh failed")
				continue
			}
			s.logger.Info().
				Str("portfolio", id).
				Int("updated", len(report.Updated)).
				Int("failed", len(report.Failed)).
				Dur("elapsed", time.Since(start)).
				Msg("Scheduler: prices refreshed")
			continue
		}

		if s.reconciled[id] == today {
			continue
		}
		res, err := s.portfolios.Reconcile(ctx, id, portfolio.ReconcileOptions{
			Writer:        models.WriterCron,
			RefreshPrices: true,
		})
		if errors.Is(err, models.ErrReconciliationAbandoned) {
			s.logger.Info().Str("portfolio", id).Msg("Scheduler: reconciliation abandoned; retrying next tick")
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("portfolio", id).Msg("Scheduler: reconciliation failed")
			continue
		}
		s.reconciled[id] = today
		s.logger.Info().
			Str("portfolio", id).
			Str("date", res.Date).
			Int("estimated", len(res.Backfill.Estimated)).
			Dur("elapsed", time.Since(start)).
			Msg("Scheduler: snapshot written")
	}
}
