package models

import (
	"sort"
	"time"
)

// Lot is a single purchase: shares bought at one price on one day. A
// position is the ordered list of its lots; the weighted-average entry price
// is derived from them.
type Lot struct {
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
	Date     string  `json:"date"`
}

// Position is an open holding. Quantity, EntryPrice and EntryDate are a
// projection of Lots and CostAdjustment, rewritten by Reproject after every
// mutation so readers that only understand the flat fields keep working.
type Position struct {
	ID             string  `json:"id"`
	Ticker         string  `json:"ticker"`
	Name           string  `json:"name"`
	Quantity       int64   `json:"quantity"`
	EntryPrice     float64 `json:"entryPrice"`
	CurrentPrice   float64 `json:"currentPrice"`
	EntryDate      string  `json:"entryDate"`
	Lots           []Lot   `json:"lots,omitempty"`
	CostAdjustment float64 `json:"costAdjustment,omitempty"` // cost removed (or added) by partial closes
	Dirty          bool    `json:"dirty,omitempty"`          // edited since the last snapshot

	// Same-day addition fields written by older clients. Read once by
	// UpgradeLegacy and never written back.
	QtyBeforeToday  *int64   `json:"qtyBeforeToday,omitempty"`
	AddedTodayQty   *int64   `json:"addedTodayQty,omitempty"`
	AddedTodayPrice *float64 `json:"addedTodayPrice,omitempty"`
	AddedTodayDate  string   `json:"addedTodayDate,omitempty"`
}

// LotQuantity returns the sum of lot quantities.
func (p *Position) LotQuantity() int64 {
	var q int64
	for _, l := range p.Lots {
		q += l.Quantity
	}
	return q
}

// CostBasis returns the total cost of the open shares including adjustments.
func (p *Position) CostBasis() float64 {
	var c float64
	for _, l := range p.Lots {
		c += float64(l.Quantity) * l.Price
	}
	return c + p.CostAdjustment
}

// Reproject rewrites the flat fields from the lots.
func (p *Position) Reproject() {
	sort.SliceStable(p.Lots, func(i, j int) bool { return p.Lots[i].Date < p.Lots[j].Date })
	p.Quantity = p.LotQuantity()
	if p.Quantity > 0 {
		p.EntryPrice = p.CostBasis() / float64(p.Quantity)
	} else {
		p.EntryPrice = 0
	}
	if len(p.Lots) > 0 {
		p.EntryDate = p.Lots[0].Date
	}
}

// MarketValue is quantity times the current price.
func (p *Position) MarketValue() float64 {
	return float64(p.Quantity) * p.CurrentPrice
}

// UnrealizedPnL is the gain of the open shares at the current price.
func (p *Position) UnrealizedPnL() float64 {
	return p.MarketValue() - p.CostBasis()
}

// LotsOn returns the quantity and cost of lots bought on date, and the
// quantity of every other lot.
func (p *Position) LotsOn(date string) (sameDayQty int64, sameDayCost float64, priorQty int64) {
	for _, l := range p.Lots {
		if l.Date == date {
			sameDayQty += l.Quantity
			sameDayCost += float64(l.Quantity) * l.Price
		} else if l.Date < date {
			priorQty += l.Quantity
		}
	}
	return sameDayQty, sameDayCost, priorQty
}

// HeldOn returns a copy of the position restricted to lots bought on or
// before date. ok is false when nothing was held that day.
func (p *Position) HeldOn(date string) (Position, bool) {
	out := *p
	out.Lots = nil
	for _, l := range p.Lots {
		if l.Date <= date {
			out.Lots = append(out.Lots, l)
		}
	}
	if len(out.Lots) == 0 {
		return Position{}, false
	}
	if len(out.Lots) != len(p.Lots) {
		// the adjustment belongs to closes that happened after the later lots
		// were bought; a partial history carries none of it
		out.CostAdjustment = 0
	}
	out.Reproject()
	return out, true
}

// UpgradeLegacy converts a position written without lots. When the legacy
// same-day fields are present the position is split into the shares held
// before that day and the shares added on it.
func (p *Position) UpgradeLegacy() {
	defer func() {
		p.QtyBeforeToday = nil
		p.AddedTodayQty = nil
		p.AddedTodayPrice = nil
		p.AddedTodayDate = ""
	}()
	if len(p.Lots) > 0 || p.Quantity <= 0 {
		return
	}

	if p.AddedTodayQty != nil && p.AddedTodayPrice != nil && p.AddedTodayDate != "" && *p.AddedTodayQty > 0 {
		added := *p.AddedTodayQty
		before := p.Quantity - added
		if p.QtyBeforeToday != nil {
			before = *p.QtyBeforeToday
		}
		if before > 0 && before+added == p.Quantity {
			total := p.EntryPrice * float64(p.Quantity)
			beforePrice := (total - float64(added)*(*p.AddedTodayPrice)) / float64(before)
			if beforePrice > 0 {
				beforeDate := p.EntryDate
				if beforeDate == "" || beforeDate >= p.AddedTodayDate {
					beforeDate = AddDays(p.AddedTodayDate, -1)
				}
				p.Lots = []Lot{
					{Quantity: before, Price: beforePrice, Date: beforeDate},
					{Quantity: added, Price: *p.AddedTodayPrice, Date: p.AddedTodayDate},
				}
				p.Reproject()
				return
			}
		}
	}

	p.Lots = []Lot{{Quantity: p.Quantity, Price: p.EntryPrice, Date: p.EntryDate}}
	p.Reproject()
}

// ClosedTrade records a full or partial close. Append-only.
type ClosedTrade struct {
	ID           string        `json:"id"`
	Ticker       string        `json:"ticker"`
	Name         string        `json:"name"`
	Quantity     int64         `json:"quantity"`
	EntryPrice   float64       `json:"entryPrice"`
	ExitPrice    float64       `json:"exitPrice"`
	EntryDate    string        `json:"entryDate"`
	ExitDate     string        `json:"exitDate"`
	Fees         float64       `json:"fees"`
	FeeBreakdown *FeeBreakdown `json:"feeBreakdown,omitempty"`
	RealizedPnL  float64       `json:"realizedPnL"`
}

// Proceeds is the cash received for the trade after fees.
func (t ClosedTrade) Proceeds() float64 {
	return float64(t.Quantity)*t.ExitPrice - t.Fees
}

// TransactionType enumerates cash-flow events.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionDividend   TransactionType = "dividend"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionDeposit, TransactionWithdrawal, TransactionDividend:
		return true
	}
	return false
}

// Transaction is a cash-flow event. Append-only.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TransactionType `json:"type"`
	Amount    float64         `json:"amount"`
	Date      string          `json:"date"`
	Note      string          `json:"note,omitempty"`
	Ticker    string          `json:"ticker,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// CapitalChange is the signed flow a transaction contributes to TWR.
func (t Transaction) CapitalChange() float64 {
	switch t.Type {
	case TransactionDeposit, TransactionDividend:
		return t.Amount
	case TransactionWithdrawal:
		return -t.Amount
	}
	return 0
}

// WishlistItem is a ticker the user is watching. Opaque to valuation.
type WishlistItem struct {
	Ticker      string  `json:"ticker"`
	Name        string  `json:"name,omitempty"`
	TargetPrice float64 `json:"targetPrice,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	DateAdded   string  `json:"dateAdded"`
}

// FeeBreakdown itemises the charges on one trade.
type FeeBreakdown struct {
	Brokerage     float64 `json:"brokerage"`
	DepositCharge float64 `json:"depositCharge,omitempty"`
	StampDuty     float64 `json:"stampDuty,omitempty"`
	SFCLevy       float64 `json:"sfcLevy,omitempty"`
	AFRCLevy      float64 `json:"afrcLevy,omitempty"`
	ExchangeFee   float64 `json:"exchangeFee,omitempty"`
	SettlementFee float64 `json:"settlementFee,omitempty"`
	SECFee        float64 `json:"secFee,omitempty"`
	TAF           float64 `json:"taf,omitempty"`
	Total         float64 `json:"total"`
}
