package portfolio

import (
	"context"
	"strings"

	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/fees"
	"github.com/bobmcallan/folio/internal/services/ledger"
	"github.com/bobmcallan/folio/internal/services/performance"
	"github.com/bobmcallan/folio/internal/services/pricing"
)

// Snapshots returns the stored snapshots dated within [from, to]; empty
// bounds are open.
func (s *Service) Snapshots(ctx context.Context, id, from, to string) ([]models.Snapshot, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]models.Snapshot, 0, len(doc.Snapshots))
	for _, snap := range doc.Snapshots {
		if (from != "" && snap.Date < from) || (to != "" && snap.Date > to) {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Calendar returns one entry per calendar day in [from, to].
func (s *Service) Calendar(ctx context.Context, id, from, to string) ([]performance.Day, []models.Warning, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return s.aggregator.Calendar(doc.Snapshots, from, to, s.Market(doc))
}

// EquityCurve returns cumulative P&L per snapshot.
func (s *Service) EquityCurve(ctx context.Context, id string) ([]performance.Point, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return performance.EquityCurve(doc.Snapshots), nil
}

// Rollup sums daily P&L by week or month.
func (s *Service) Rollup(ctx context.Context, id string, period performance.Period) ([]performance.Bucket, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return performance.Rollup(doc.Snapshots, period)
}

// TWR returns the time-weighted return across all snapshots.
func (s *Service) TWR(ctx context.Context, id string) (performance.Return, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return performance.Return{}, err
	}
	return performance.TWR(doc.Snapshots, doc.Transactions, doc.ClosedTrades), nil
}

// ResolvePrice resolves the previous close of ticker as of date (today when
// empty). Historical dates are priced at that day's close from daily bars.
func (s *Service) ResolvePrice(ctx context.Context, id, ticker, date string) (*pricing.Resolution, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	market := s.Market(doc)
	today := s.today(market)
	if date == "" {
		date = today
	}
	if !models.ValidDate(date) {
		return nil, models.NewValidationError("date", models.ErrInvalidDate, "%q is not YYYY-MM-DD", date)
	}
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, models.NewValidationError("ticker", models.ErrInvalidField, "ticker is required")
	}
	ticker = models.NormalizeTicker(ticker, ledger.MarketOf(doc, ticker))

	current := 0.0
	if i := doc.PositionIndex(ticker); i >= 0 {
		current = doc.Positions[i].CurrentPrice
	} else if e, ok := doc.PriceCache[ticker]; ok {
		current = e.Price
	}

	var bars []models.Bar
	if date < today {
		bars, err = s.history(ctx, ticker, models.AddDays(date, -14), date)
		if err != nil {
			s.logger.Warn().Err(err).Str("ticker", ticker).Str("date", date).Msg("History unavailable for price resolution")
		}
		if c, ok := pricing.CloseOn(bars, date); ok {
			current = c
		}
	}

	res := s.resolver.Resolve(doc, pricing.Request{
		Ticker:       ticker,
		Date:         date,
		Market:       models.MarketForTicker(ticker),
		CurrentPrice: current,
		Bars:         bars,
	})
	return &res, nil
}

// FeeQuote computes the charges for a hypothetical trade using the board lot
// configured for the portfolio.
func (s *Service) FeeQuote(ctx context.Context, id string, ticker string, side fees.Side, quantity int64, price float64) (models.FeeBreakdown, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return models.FeeBreakdown{}, err
	}
	t := models.NormalizeTicker(strings.TrimSpace(ticker), ledger.MarketOf(doc, ticker))
	return fees.Calculate(fees.Input{
		Market:   ledger.MarketOf(doc, t),
		Side:     side,
		Quantity: quantity,
		Price:    price,
		LotSize:  doc.Settings.LotSize(t),
	})
}
