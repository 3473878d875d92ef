// Package quote provides a quote service with automatic provider fallback
package quote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
)

// maxConcurrent bounds parallel provider calls during a refresh.
const maxConcurrent = 5

// Service implements QuoteService with a primary provider and an optional
// fallback.
type Service struct {
	primary  interfaces.QuoteClient
	fallback interfaces.QuoteClient
	logger   *common.Logger
	now      func() time.Time // injectable clock for testing
}

// NewService creates a new quote service.
// fallback may be nil; failures of the primary are then returned as is.
func NewService(primary, fallback interfaces.QuoteClient, logger *common.Logger) *Service {
	return &Service{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// GetQuote retrieves a live quote, falling back when the primary fails.
func (s *Service) GetQuote(ctx context.Context, ticker string, market models.Market) (*models.Quote, error) {
	q, err := s.primary.GetQuote(ctx, ticker, market)
	if err == nil {
		return s.stamp(q), nil
	}
	if s.fallback == nil || ctx.Err() != nil {
		return nil, fmt.Errorf("quote %s: %w", ticker, err)
	}

	s.logger.Info().
		Str("ticker", ticker).
		Str("primary", s.primary.Name()).
		Str("fallback", s.fallback.Name()).
		Err(err).
		Msg("Attempting fallback quote provider")

	fq, ferr := s.fallback.GetQuote(ctx, ticker, market)
	if ferr != nil {
		s.logger.Warn().Err(ferr).Str("ticker", ticker).Msg("Fallback quote provider failed")
		return nil, fmt.Errorf("quote %s: %w", ticker, errors.Join(err, ferr))
	}
	return s.stamp(fq), nil
}

func (s *Service) stamp(q *models.Quote) *models.Quote {
	if q.FetchedAt.IsZero() {
		q.FetchedAt = s.now().UTC()
	}
	return q
}

// GetHistory retrieves daily closes, falling back when the primary fails or
// returns nothing.
func (s *Service) GetHistory(ctx context.Context, ticker string, market models.Market, from, to time.Time) ([]models.Bar, error) {
	bars, err := s.primary.GetHistory(ctx, ticker, market, from, to)
	if err == nil && len(bars) > 0 {
		return bars, nil
	}
	if s.fallback == nil || ctx.Err() != nil {
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", ticker, err)
		}
		return bars, nil
	}

	fbars, ferr := s.fallback.GetHistory(ctx, ticker, market, from, to)
	if ferr != nil {
		s.logger.Warn().Err(ferr).Str("ticker", ticker).Msg("Fallback history provider failed")
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", ticker, errors.Join(err, ferr))
		}
		return bars, nil
	}
	return fbars, nil
}

// Refresh fetches quotes for every ticker concurrently. Every ticker that
// could not be priced is named in the report's Failed map with its reason.
func (s *Service) Refresh(ctx context.Context, tickers []string, market models.Market) (map[string]*models.Quote, models.RefreshReport) {
	quotes := make(map[string]*models.Quote, len(tickers))
	report := models.RefreshReport{Failed: map[string]string{}}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, ticker := range tickers {
		acquired := false
		select {
		case sem <- struct{}{}:
			acquired = true
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			if acquired {
				<-sem
			}
			mu.Lock()
			report.Failed[ticker] = ctx.Err().Error()
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()
			defer func() { <-sem }()

			q, err := s.GetQuote(ctx, ticker, tickerMarket(ticker, market))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[ticker] = err.Error()
				report.Warnings = append(report.Warnings, models.Warning{
					Kind: models.WarningQuoteFailed, Ticker: ticker, Message: err.Error(),
				})
				return
			}
			quotes[ticker] = q
			report.Updated = append(report.Updated, ticker)
		}(ticker)
	}
	wg.Wait()

	sort.Strings(report.Updated)
	sort.Slice(report.Warnings, func(i, j int) bool { return report.Warnings[i].Ticker < report.Warnings[j].Ticker })
	if len(report.Failed) > 0 {
		s.logger.Warn().
			Int("failed", len(report.Failed)).
			Int("updated", len(report.Updated)).
			Msg("Price refresh completed with failures")
	}
	return quotes, report
}

// tickerMarket prices each symbol on its own exchange: a ".HK" suffix or a
// bare numeric code in an HK portfolio is HK, anything else is US.
func tickerMarket(ticker string, portfolio models.Market) models.Market {
	if models.MarketForTicker(ticker) == models.MarketHK {
		return models.MarketHK
	}
	if portfolio == models.MarketHK && isNumeric(ticker) {
		return models.MarketHK
	}
	return models.MarketUS
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Ensure Service implements QuoteService
var _ interfaces.QuoteService = (*Service)(nil)
