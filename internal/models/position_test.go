package models

import (
	"math"
	"testing"
)

func TestPosition_ReprojectWeightedAverage(t *testing.T) {
	p := Position{
		Ticker: "0700.HK",
		Lots: []Lot{
			{Quantity: 500, Price: 12, Date: "2025-03-04"},
			{Quantity: 1000, Price: 10, Date: "2025-03-03"},
		},
	}
	p.Reproject()

	if p.Quantity != 1500 {
		t.Errorf("Quantity = %d, want 1500", p.Quantity)
	}
	want := (1000*10.0 + 500*12.0) / 1500
	if math.Abs(p.EntryPrice-want) > 1e-9 {
		t.Errorf("EntryPrice = %v, want %v", p.EntryPrice, want)
	}
	if p.EntryDate != "2025-03-03" {
		t.Errorf("EntryDate = %s, want earliest lot date", p.EntryDate)
	}
	if p.Lots[0].Date != "2025-03-03" {
		t.Error("lots should be sorted by date")
	}
}

func TestPosition_CostAdjustmentInProjection(t *testing.T) {
	p := Position{
		Lots:           []Lot{{Quantity: 500, Price: 10, Date: "2025-03-03"}},
		CostAdjustment: -1000,
	}
	p.Reproject()
	if math.Abs(p.EntryPrice-8) > 1e-9 {
		t.Errorf("EntryPrice = %v, want 8", p.EntryPrice)
	}
	p.CurrentPrice = 9
	if math.Abs(p.UnrealizedPnL()-500) > 1e-9 {
		t.Errorf("UnrealizedPnL = %v, want 500", p.UnrealizedPnL())
	}
}

func TestPosition_UpgradeLegacySingleLot(t *testing.T) {
	p := Position{Ticker: "9988.HK", Quantity: 200, EntryPrice: 80, EntryDate: "2025-01-10"}
	p.UpgradeLegacy()

	if len(p.Lots) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(p.Lots))
	}
	if p.Lots[0] != (Lot{Quantity: 200, Price: 80, Date: "2025-01-10"}) {
		t.Errorf("unexpected lot %+v", p.Lots[0])
	}
}

func TestPosition_UpgradeLegacySplitsSameDayAddition(t *testing.T) {
	before := int64(1000)
	added := int64(1000)
	price := 12.0
	// 1000 @ 10 held, 1000 @ 12 added today -> merged entry 11
	p := Position{
		Ticker:          "0005.HK",
		Quantity:        2000,
		EntryPrice:      11,
		EntryDate:       "2025-02-01",
		QtyBeforeToday:  &before,
		AddedTodayQty:   &added,
		AddedTodayPrice: &price,
		AddedTodayDate:  "2025-02-27",
	}
	p.UpgradeLegacy()

	if len(p.Lots) != 2 {
		t.Fatalf("expected 2 lots, got %d", len(p.Lots))
	}
	if p.Lots[0].Quantity != 1000 || math.Abs(p.Lots[0].Price-10) > 1e-9 || p.Lots[0].Date != "2025-02-01" {
		t.Errorf("unexpected prior lot %+v", p.Lots[0])
	}
	if p.Lots[1] != (Lot{Quantity: 1000, Price: 12, Date: "2025-02-27"}) {
		t.Errorf("unexpected same-day lot %+v", p.Lots[1])
	}
	if p.AddedTodayQty != nil || p.QtyBeforeToday != nil || p.AddedTodayPrice != nil || p.AddedTodayDate != "" {
		t.Error("legacy fields should be cleared")
	}
	if math.Abs(p.EntryPrice-11) > 1e-9 || p.Quantity != 2000 {
		t.Errorf("projection changed: %d @ %v", p.Quantity, p.EntryPrice)
	}
}

func TestPosition_LotsOn(t *testing.T) {
	p := Position{Lots: []Lot{
		{Quantity: 1000, Price: 3.08, Date: "2025-03-04"},
		{Quantity: 9000, Price: 2.90, Date: "2025-03-05"},
	}}
	same, cost, prior := p.LotsOn("2025-03-05")
	if same != 9000 || prior != 1000 {
		t.Errorf("LotsOn = %d/%d, want 9000/1000", same, prior)
	}
	if math.Abs(cost-26100) > 1e-9 {
		t.Errorf("same-day cost = %v, want 26100", cost)
	}
}

func TestPosition_HeldOn(t *testing.T) {
	p := Position{Ticker: "X", Lots: []Lot{
		{Quantity: 100, Price: 5, Date: "2025-03-03"},
		{Quantity: 100, Price: 7, Date: "2025-03-10"},
	}}
	p.Reproject()

	if _, ok := p.HeldOn("2025-03-01"); ok {
		t.Error("nothing held before the first lot")
	}
	h, ok := p.HeldOn("2025-03-05")
	if !ok || h.Quantity != 100 || h.EntryPrice != 5 {
		t.Errorf("HeldOn(2025-03-05) = %+v, %v", h, ok)
	}
	if p.Quantity != 200 {
		t.Error("HeldOn must not mutate the receiver")
	}
}

func TestTransaction_CapitalChange(t *testing.T) {
	tests := []struct {
		tx   Transaction
		want float64
	}{
		{Transaction{Type: TransactionDeposit, Amount: 100}, 100},
		{Transaction{Type: TransactionWithdrawal, Amount: 40}, -40},
		{Transaction{Type: TransactionDividend, Amount: 5}, 5},
		{Transaction{Type: "bogus", Amount: 5}, 0},
	}
	for _, tt := range tests {
		if got := tt.tx.CapitalChange(); got != tt.want {
			t.Errorf("CapitalChange(%s) = %v, want %v", tt.tx.Type, got, tt.want)
		}
	}
}
