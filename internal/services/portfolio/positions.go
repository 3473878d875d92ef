package portfolio

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/ledger"
)

// AddResult is the outcome of AddPosition. A backdated purchase rewrites
// the snapshots on and after its date; the rewrites are listed as
// corrections.
type AddResult struct {
	Position    models.Position     `json:"position"`
	Corrections []models.Correction `json:"corrections,omitempty"`
	Warnings    []models.Warning    `json:"warnings,omitempty"`
}

// AddPosition records a purchase. When the purchase predates today the
// ticker's daily closes are fetched and every later snapshot is revalued.
func (s *Service) AddPosition(ctx context.Context, id string, in ledger.AddInput) (*AddResult, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	market := s.Market(current)
	today := s.today(market)
	ticker := models.NormalizeTicker(strings.TrimSpace(in.Ticker), ledger.MarketOf(current, in.Ticker))

	result := &AddResult{}
	var bars []models.Bar
	backdated := in.Date != "" && models.ValidDate(in.Date) && in.Date < today
	if backdated && ticker != "" && s.hasSnapshotsFrom(current, in.Date) {
		bars, err = s.history(ctx, ticker, in.Date, today)
		if err != nil {
			result.Warnings = append(result.Warnings, models.Warning{
				Kind:    models.WarningMissingMarketData,
				Ticker:  ticker,
				Date:    in.Date,
				Message: fmt.Sprintf("history unavailable: %v", err),
			})
		}
	}

	_, err = s.commit(ctx, id, nil, func(doc *models.Document) error {
		pos, err := s.ledger.Add(doc, in, today)
		if err != nil {
			return err
		}
		result.Position = copyPosition(*pos)
		result.Corrections = nil
		if backdated {
			lot := models.Lot{Quantity: in.Quantity, Price: in.Price, Date: in.Date}
			corrections, warnings := s.engine.ApplyRetroactive(doc, pos.Ticker, pos.Name, lot, bars)
			result.Corrections = corrections
			result.Warnings = appendWarnings(result.Warnings, warnings...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) hasSnapshotsFrom(doc *models.Document, date string) bool {
	n := len(doc.Snapshots)
	return n > 0 && doc.Snapshots[n-1].Date >= date
}

// history fetches daily closes for ticker covering [from, to].
func (s *Service) history(ctx context.Context, ticker, from, to string) ([]models.Bar, error) {
	start, err := models.ParseDate(from)
	if err != nil {
		return nil, err
	}
	end, err := models.ParseDate(to)
	if err != nil {
		return nil, err
	}
	return s.quotes.GetHistory(ctx, ticker, models.MarketForTicker(ticker), start, end)
}

// ClosePosition sells some or all of a position.
func (s *Service) ClosePosition(ctx context.Context, id string, in ledger.CloseInput) (*models.ClosedTrade, error) {
	var trade models.ClosedTrade
	_, err := s.commit(ctx, id, nil, func(doc *models.Document) error {
		t, err := s.ledger.Close(doc, in, s.today(s.Market(doc)))
		if err != nil {
			return err
		}
		trade = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

// EditPosition corrects one field of an open position.
func (s *Service) EditPosition(ctx context.Context, id, ticker, field, value string) (*models.Position, error) {
	var out models.Position
	_, err := s.commit(ctx, id, nil, func(doc *models.Document) error {
		p, err := s.ledger.EditField(doc, ticker, field, value)
		if err != nil {
			return err
		}
		out = copyPosition(*p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddTransaction records a deposit, withdrawal or dividend.
func (s *Service) AddTransaction(ctx context.Context, id string, tx models.Transaction) (*models.Transaction, error) {
	var out models.Transaction
	_, err := s.commit(ctx, id, nil, func(doc *models.Document) error {
		t, err := s.ledger.AddTransaction(doc, tx, s.today(s.Market(doc)))
		if err != nil {
			return err
		}
		out = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddWishlistItem adds or replaces a wishlist entry.
func (s *Service) AddWishlistItem(ctx context.Context, id string, item models.WishlistItem) error {
	_, err := s.commit(ctx, id, nil, func(doc *models.Document) error {
		return s.ledger.AddWishlistItem(doc, item, s.today(s.Market(doc)))
	})
	return err
}

// RemoveWishlistItem deletes a wishlist entry.
func (s *Service) RemoveWishlistItem(ctx context.Context, id, ticker string) error {
	_, err := s.commit(ctx, id, nil, func(doc *models.Document) error {
		return s.ledger.RemoveWishlistItem(doc, ticker)
	})
	return err
}

// UpdateSettings merges values into the document settings. A nil value
// removes the key.
func (s *Service) UpdateSettings(ctx context.Context, id string, values map[string]any) (models.Settings, error) {
	if m, ok := values["market"]; ok && m != nil {
		str, _ := m.(string)
		if _, valid := models.ParseMarket(str); !valid {
			return nil, models.NewValidationError("market", models.ErrInvalidField, "unknown market %v", m)
		}
	}
	doc, err := s.commit(ctx, id, nil, func(doc *models.Document) error {
		for k, v := range values {
			if v == nil {
				delete(doc.Settings, k)
				continue
			}
			doc.Settings[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc.Settings, nil
}

// SetManualPreviousClose stores a user-entered previous close for ticker.
// It takes priority over every other source until it goes stale. A value
// of zero clears it.
func (s *Service) SetManualPreviousClose(ctx context.Context, id, ticker string, value float64) error {
	if value < 0 {
		return models.NewValidationError("previousClose", models.ErrInvalidPrice, "must not be negative")
	}
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return models.NewValidationError("ticker", models.ErrInvalidField, "ticker is required")
	}
	_, err := s.commit(ctx, id, nil, func(doc *models.Document) error {
		t := models.NormalizeTicker(ticker, ledger.MarketOf(doc, ticker))
		entry := doc.PriceCache[t]
		if value == 0 {
			entry.ManualPreviousClose = nil
			entry.ManualSetAt = nil
		} else {
			at := s.now().UTC()
			entry.ManualPreviousClose = models.Float(value)
			entry.ManualSetAt = &at
		}
		doc.PriceCache[t] = entry
		return nil
	})
	return err
}

func copyPosition(p models.Position) models.Position {
	p.Lots = append([]models.Lot(nil), p.Lots...)
	return p
}

func appendWarnings(dst []models.Warning, src ...models.Warning) []models.Warning {
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
