// Package fees computes itemised trading charges for a single trade.
package fees

import (
	"fmt"

	"github.com/bobmcallan/folio/internal/models"
	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Input describes one trade.
type Input struct {
	Market   models.Market
	Side     Side
	Quantity int64
	Price    float64
	LotSize  int64 // board lot; zero uses DefaultLotSize
}

// DefaultLotSize is used when no board lot is configured for the ticker.
const DefaultLotSize = 100

var (
	hundred = decimal.NewFromInt(100)

	// HK schedule
	hkBrokerageRate     = decimal.RequireFromString("0.0025")
	hkBrokerageMin      = decimal.NewFromInt(100)
	hkDepositPerLot     = decimal.RequireFromString("1.50")
	hkStampDutyRate     = decimal.RequireFromString("0.001")
	hkSFCLevyRate       = decimal.RequireFromString("0.000027")
	hkAFRCLevyRate      = decimal.RequireFromString("0.0000015")
	hkExchangeFeeRate   = decimal.RequireFromString("0.0000565")
	hkSettlementRate    = decimal.RequireFromString("0.00002")
	hkSettlementMin     = decimal.NewFromInt(2)
	hkSettlementMax     = decimal.NewFromInt(100)

	// US schedule
	usCommissionPerShr  = decimal.RequireFromString("0.005")
	usCommissionMin     = decimal.RequireFromString("1.00")
	usCommissionCapRate = decimal.RequireFromString("0.01")
	usSECFeeRate        = decimal.RequireFromString("0.0000278")
	usTAFPerShare       = decimal.RequireFromString("0.000166")
	usTAFMax            = decimal.RequireFromString("8.30")
)

// Calculate returns the itemised charges for in. Components are rounded to
// cents half-up except stamp duty, which rounds up to a whole unit. The
// total is the sum of the rounded components.
func Calculate(in Input) (models.FeeBreakdown, error) {
	if in.Quantity <= 0 {
		return models.FeeBreakdown{}, models.NewValidationError("quantity", models.ErrInvalidQuantity, "must be positive, got %d", in.Quantity)
	}
	if in.Price <= 0 {
		return models.FeeBreakdown{}, models.NewValidationError("price", models.ErrInvalidPrice, "must be positive, got %v", in.Price)
	}
	if in.Side != Buy && in.Side != Sell {
		return models.FeeBreakdown{}, models.NewValidationError("side", models.ErrInvalidField, "unknown side %q", in.Side)
	}

	qty := decimal.NewFromInt(in.Quantity)
	notional := qty.Mul(decimal.NewFromFloat(in.Price))

	switch in.Market {
	case models.MarketHK, "":
		return hkFees(in, qty, notional), nil
	case models.MarketUS:
		return usFees(in, qty, notional), nil
	}
	return models.FeeBreakdown{}, fmt.Errorf("no fee schedule for market %q", in.Market)
}

// Total is a convenience wrapper returning only the sum.
func Total(in Input) (float64, error) {
	b, err := Calculate(in)
	if err != nil {
		return 0, err
	}
	return b.Total, nil
}

func hkFees(in Input, qty, notional decimal.Decimal) models.FeeBreakdown {
	brokerage := decimal.Max(notional.Mul(hkBrokerageRate), hkBrokerageMin).Round(2)

	deposit := decimal.Zero
	if in.Side == Buy {
		lot := in.LotSize
		if lot <= 0 {
			lot = DefaultLotSize
		}
		lots := qty.Div(decimal.NewFromInt(lot)).Ceil()
		deposit = lots.Mul(hkDepositPerLot).Round(2)
	}

	stamp := notional.Mul(hkStampDutyRate).Ceil()
	sfc := notional.Mul(hkSFCLevyRate).Round(2)
	afrc := notional.Mul(hkAFRCLevyRate).Round(2)
	exchange := notional.Mul(hkExchangeFeeRate).Round(2)
	settlement := clamp(notional.Mul(hkSettlementRate), hkSettlementMin, hkSettlementMax).Round(2)

	total := brokerage.Add(deposit).Add(stamp).Add(sfc).Add(afrc).Add(exchange).Add(settlement)

	return models.FeeBreakdown{
		Brokerage:     brokerage.InexactFloat64(),
		DepositCharge: deposit.InexactFloat64(),
		StampDuty:     stamp.InexactFloat64(),
		SFCLevy:       sfc.InexactFloat64(),
		AFRCLevy:      afrc.InexactFloat64(),
		ExchangeFee:   exchange.InexactFloat64(),
		SettlementFee: settlement.InexactFloat64(),
		Total:         total.InexactFloat64(),
	}
}

func usFees(in Input, qty, notional decimal.Decimal) models.FeeBreakdown {
	commission := decimal.Max(qty.Mul(usCommissionPerShr), usCommissionMin)
	commission = decimal.Min(commission, decimal.Max(notional.Mul(usCommissionCapRate), usCommissionMin)).Round(2)

	sec, taf := decimal.Zero, decimal.Zero
	if in.Side == Sell {
		sec = notional.Mul(usSECFeeRate).Round(2)
		taf = decimal.Min(qty.Mul(usTAFPerShare), usTAFMax).Round(2)
	}

	total := commission.Add(sec).Add(taf)
	return models.FeeBreakdown{
		Brokerage: commission.InexactFloat64(),
		SECFee:    sec.InexactFloat64(),
		TAF:       taf.InexactFloat64(),
		Total:     total.InexactFloat64(),
	}
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// EffectiveRate is the total as a percentage of notional.
func EffectiveRate(b models.FeeBreakdown, quantity int64, price float64) float64 {
	notional := decimal.NewFromInt(quantity).Mul(decimal.NewFromFloat(price))
	if notional.IsZero() {
		return 0
	}
	return decimal.NewFromFloat(b.Total).Div(notional).Mul(hundred).Round(4).InexactFloat64()
}
