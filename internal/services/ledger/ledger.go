// Package ledger maintains open positions and closed trades.
//
// Every operation validates its input before touching the document, so a
// returned error always leaves the document unchanged.
package ledger

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/fees"
	"github.com/google/uuid"
)

// Service applies ledger mutations to a document.
type Service struct {
	logger *common.Logger
	now    func() time.Time // injectable clock for testing
}

// NewService creates a new ledger service.
func NewService(logger *common.Logger) *Service {
	return &Service{
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the clock used for position IDs and timestamps.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// AddInput describes a purchase.
type AddInput struct {
	Ticker   string  `json:"ticker"`
	Name     string  `json:"name"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
	Date     string  `json:"date"` // defaults to today
}

// CloseInput describes a sale.
type CloseInput struct {
	Ticker   string   `json:"ticker"`
	Quantity int64    `json:"quantity"`
	Price    float64  `json:"price"`
	Date     string   `json:"date"`           // defaults to today
	Fees     *float64 `json:"fees,omitempty"` // actual charges; computed from the schedule when nil
}

// Editable position fields.
const (
	FieldEntryPrice   = "entryPrice"
	FieldCurrentPrice = "currentPrice"
	FieldEntryDate    = "entryDate"
	FieldName         = "name"
)

// MarketOf returns the market used for a ticker's calendar and fees: the
// document setting when present, otherwise the ticker suffix.
func MarketOf(doc *models.Document, ticker string) models.Market {
	if m, ok := models.ParseMarket(doc.Settings.Market()); ok {
		return m
	}
	return models.MarketForTicker(ticker)
}

// Add opens a position or merges a new lot into the existing one. The entry
// price becomes the quantity-weighted average of all lots.
func (s *Service) Add(doc *models.Document, in AddInput, today string) (*models.Position, error) {
	ticker := strings.TrimSpace(in.Ticker)
	if ticker == "" {
		return nil, models.NewValidationError("ticker", models.ErrInvalidField, "ticker is required")
	}
	if in.Quantity <= 0 {
		return nil, models.NewValidationError("quantity", models.ErrInvalidQuantity, "must be positive, got %d", in.Quantity)
	}
	if in.Price <= 0 {
		return nil, models.NewValidationError("price", models.ErrInvalidPrice, "must be positive, got %v", in.Price)
	}
	date := in.Date
	if date == "" {
		date = today
	}
	if !models.ValidDate(date) {
		return nil, models.NewValidationError("date", models.ErrInvalidDate, "%q is not YYYY-MM-DD", date)
	}
	if date > today {
		return nil, models.NewValidationError("date", models.ErrInvalidDate, "%s is in the future", date)
	}

	ticker = models.NormalizeTicker(ticker, MarketOf(doc, ticker))
	lot := models.Lot{Quantity: in.Quantity, Price: in.Price, Date: date}

	if i := doc.PositionIndex(ticker); i >= 0 {
		p := &doc.Positions[i]
		p.Lots = append(p.Lots, lot)
		if in.Name != "" {
			p.Name = in.Name
		}
		p.Reproject()
		s.logger.Info().
			Str("ticker", ticker).
			Int64("added", in.Quantity).
			Int64("quantity", p.Quantity).
			Float64("entry_price", p.EntryPrice).
			Msg("Merged lot into position")
		return p, nil
	}

	name := in.Name
	if name == "" {
		name = ticker
	}
	p := models.Position{
		ID:           strconv.FormatInt(s.now().UnixMilli(), 10),
		Ticker:       ticker,
		Name:         name,
		CurrentPrice: in.Price,
		Lots:         []models.Lot{lot},
	}
	if cached, ok := doc.PriceCache[ticker]; ok && cached.Success && cached.Price > 0 {
		p.CurrentPrice = cached.Price
	}
	p.Reproject()
	doc.Positions = append(doc.Positions, p)

	s.logger.Info().
		Str("ticker", ticker).
		Int64("quantity", p.Quantity).
		Float64("entry_price", p.EntryPrice).
		Str("date", date).
		Msg("Opened position")
	return &doc.Positions[len(doc.Positions)-1], nil
}

// Close sells shares from a position and records the closed trade. A partial
// close keeps total cost basis consistent by moving the realized gross
// profit into the remaining shares' entry price: e' = e - (p-e)*q/(Q-q).
// A partial close that would push e' to zero or below is rejected.
func (s *Service) Close(doc *models.Document, in CloseInput, today string) (*models.ClosedTrade, error) {
	i := positionIndex(doc, in.Ticker)
	if i < 0 {
		return nil, models.NewValidationError("ticker", models.ErrUnknownPosition, "no open position for %q", in.Ticker)
	}
	pos := &doc.Positions[i]

	if in.Quantity <= 0 {
		return nil, models.NewValidationError("quantity", models.ErrInvalidQuantity, "must be positive, got %d", in.Quantity)
	}
	if in.Quantity > pos.Quantity {
		return nil, models.NewValidationError("quantity", models.ErrInvalidQuantity, "cannot close %d of %d held", in.Quantity, pos.Quantity)
	}
	if in.Price <= 0 {
		return nil, models.NewValidationError("price", models.ErrInvalidPrice, "must be positive, got %v", in.Price)
	}
	date := in.Date
	if date == "" {
		date = today
	}
	if !models.ValidDate(date) {
		return nil, models.NewValidationError("date", models.ErrInvalidDate, "%q is not YYYY-MM-DD", date)
	}
	if date < pos.EntryDate {
		return nil, models.NewValidationError("date", models.ErrInvalidDate, "exit %s precedes entry %s", date, pos.EntryDate)
	}

	var breakdown *models.FeeBreakdown
	var totalFees float64
	if in.Fees != nil {
		if *in.Fees < 0 {
			return nil, models.NewValidationError("fees", models.ErrInvalidAmount, "must not be negative")
		}
		totalFees = *in.Fees
	} else {
		b, err := fees.Calculate(fees.Input{
			Market:   MarketOf(doc, pos.Ticker),
			Side:     fees.Sell,
			Quantity: in.Quantity,
			Price:    in.Price,
			LotSize:  doc.Settings.LotSize(pos.Ticker),
		})
		if err != nil {
			return nil, err
		}
		breakdown = &b
		totalFees = b.Total
	}

	entry := pos.EntryPrice
	remaining := pos.Quantity - in.Quantity
	var newEntry float64
	if remaining > 0 {
		newEntry = entry - (in.Price-entry)*float64(in.Quantity)/float64(remaining)
		if newEntry <= 0 {
			return nil, models.NewValidationError("quantity", models.ErrInvalidQuantity,
				"closing %d of %d at %v would leave an entry price of %.2f; close the whole position instead",
				in.Quantity, pos.Quantity, in.Price, newEntry)
		}
	}

	trade := models.ClosedTrade{
		ID:           uuid.New().String(),
		Ticker:       pos.Ticker,
		Name:         pos.Name,
		Quantity:     in.Quantity,
		EntryPrice:   models.Round2(entry),
		ExitPrice:    in.Price,
		EntryDate:    pos.EntryDate,
		ExitDate:     date,
		Fees:         models.Round2(totalFees),
		FeeBreakdown: breakdown,
		RealizedPnL:  models.Round2((in.Price-entry)*float64(in.Quantity) - totalFees),
	}

	// validation is complete; mutate
	if remaining == 0 {
		doc.Positions = append(doc.Positions[:i], doc.Positions[i+1:]...)
	} else {
		pos.Lots = removeFIFO(pos.Lots, in.Quantity)
		pos.CostAdjustment = 0
		pos.CostAdjustment = newEntry*float64(remaining) - pos.CostBasis()
		pos.Reproject()
	}
	doc.ClosedTrades = append(doc.ClosedTrades, trade)

	s.logger.Info().
		Str("ticker", trade.Ticker).
		Int64("quantity", trade.Quantity).
		Float64("exit_price", trade.ExitPrice).
		Float64("fees", trade.Fees).
		Float64("realized_pnl", trade.RealizedPnL).
		Msg("Closed position")
	return &trade, nil
}

func positionIndex(doc *models.Document, ticker string) int {
	t := strings.TrimSpace(ticker)
	if i := doc.PositionIndex(t); i >= 0 {
		return i
	}
	return doc.PositionIndex(models.NormalizeTicker(t, MarketOf(doc, t)))
}

// removeFIFO takes qty shares from the oldest lots first.
func removeFIFO(lots []models.Lot, qty int64) []models.Lot {
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].Date < lots[j].Date })
	out := make([]models.Lot, 0, len(lots))
	for _, l := range lots {
		if qty == 0 {
			out = append(out, l)
			continue
		}
		if l.Quantity <= qty {
			qty -= l.Quantity
			continue
		}
		l.Quantity -= qty
		qty = 0
		out = append(out, l)
	}
	return out
}

// EditField applies a direct correction to a position and marks it dirty.
// No recalculation cascades from the edit.
func (s *Service) EditField(doc *models.Document, ticker, field string, value string) (*models.Position, error) {
	i := positionIndex(doc, ticker)
	if i < 0 {
		return nil, models.NewValidationError("ticker", models.ErrUnknownPosition, "no open position for %q", ticker)
	}
	p := doc.Positions[i]
	p.Lots = append([]models.Lot(nil), p.Lots...)

	switch field {
	case FieldEntryPrice:
		v, err := parsePositive(value)
		if err != nil {
			return nil, models.NewValidationError(field, models.ErrInvalidPrice, "%v", err)
		}
		// rebase every lot to the corrected average
		for j := range p.Lots {
			p.Lots[j].Price = v
		}
		p.CostAdjustment = 0
	case FieldCurrentPrice:
		v, err := parsePositive(value)
		if err != nil {
			return nil, models.NewValidationError(field, models.ErrInvalidPrice, "%v", err)
		}
		p.CurrentPrice = v
	case FieldEntryDate:
		if !models.ValidDate(value) {
			return nil, models.NewValidationError(field, models.ErrInvalidDate, "%q is not YYYY-MM-DD", value)
		}
		if len(p.Lots) > 1 && value > p.Lots[1].Date {
			return nil, models.NewValidationError(field, models.ErrInvalidDate, "%s is after a later purchase on %s", value, p.Lots[1].Date)
		}
		if len(p.Lots) > 0 {
			p.Lots[0].Date = value
		}
	case FieldName:
		if strings.TrimSpace(value) == "" {
			return nil, models.NewValidationError(field, models.ErrInvalidField, "name must not be empty")
		}
		p.Name = strings.TrimSpace(value)
	default:
		return nil, models.NewValidationError("field", models.ErrInvalidField, "%q is not editable", field)
	}

	p.Dirty = true
	p.Reproject()
	doc.Positions[i] = p

	s.logger.Info().Str("ticker", p.Ticker).Str("field", field).Str("value", value).Msg("Edited position")
	return &doc.Positions[i], nil
}

func parsePositive(value string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, strconv.ErrRange
	}
	return v, nil
}

// AddTransaction appends a cash-flow event.
func (s *Service) AddTransaction(doc *models.Document, tx models.Transaction, today string) (*models.Transaction, error) {
	if !tx.Type.Valid() {
		return nil, models.NewValidationError("type", models.ErrInvalidField, "unknown transaction type %q", tx.Type)
	}
	if tx.Amount <= 0 {
		return nil, models.NewValidationError("amount", models.ErrInvalidAmount, "must be positive, got %v", tx.Amount)
	}
	if tx.Date == "" {
		tx.Date = today
	}
	if !models.ValidDate(tx.Date) {
		return nil, models.NewValidationError("date", models.ErrInvalidDate, "%q is not YYYY-MM-DD", tx.Date)
	}
	if tx.Type != models.TransactionDividend {
		tx.Ticker = ""
	}
	tx.ID = uuid.New().String()
	tx.CreatedAt = s.now().UTC()
	doc.Transactions = append(doc.Transactions, tx)

	s.logger.Info().Str("type", string(tx.Type)).Float64("amount", tx.Amount).Str("date", tx.Date).Msg("Recorded transaction")
	return &doc.Transactions[len(doc.Transactions)-1], nil
}

// AddWishlistItem adds or replaces a wishlist entry.
func (s *Service) AddWishlistItem(doc *models.Document, item models.WishlistItem, today string) error {
	item.Ticker = strings.TrimSpace(item.Ticker)
	if item.Ticker == "" {
		return models.NewValidationError("ticker", models.ErrInvalidField, "ticker is required")
	}
	if item.TargetPrice < 0 {
		return models.NewValidationError("targetPrice", models.ErrInvalidPrice, "must not be negative")
	}
	if item.DateAdded == "" {
		item.DateAdded = today
	}
	for i := range doc.Wishlist {
		if strings.EqualFold(doc.Wishlist[i].Ticker, item.Ticker) {
			doc.Wishlist[i] = item
			return nil
		}
	}
	doc.Wishlist = append(doc.Wishlist, item)
	return nil
}

// RemoveWishlistItem deletes a wishlist entry.
func (s *Service) RemoveWishlistItem(doc *models.Document, ticker string) error {
	for i := range doc.Wishlist {
		if strings.EqualFold(doc.Wishlist[i].Ticker, ticker) {
			doc.Wishlist = append(doc.Wishlist[:i], doc.Wishlist[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}
