package main

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/bobmcallan/folio/internal/models"
)

func currencyFor(market models.Market) string {
	if market == models.MarketUS {
		return money.USD
	}
	return money.HKD
}

// formatMoney renders amount in the market's currency, rounded to its minor
// unit.
func formatMoney(amount float64, market models.Market) string {
	code := currencyFor(market)
	cur := money.GetCurrency(code)
	minor := decimal.NewFromFloat(amount).Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, code).Display()
}
