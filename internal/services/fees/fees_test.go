package fees

import (
	"testing"

	"github.com/bobmcallan/folio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate_HKBuyNotional100k(t *testing.T) {
	b, err := Calculate(Input{Market: models.MarketHK, Side: Buy, Quantity: 10000, Price: 10})
	require.NoError(t, err)

	assert.Equal(t, 250.0, b.Brokerage)
	assert.Equal(t, 100.0, b.StampDuty)
	assert.Equal(t, 150.0, b.DepositCharge, "100 board lots at 1.50")
	assert.Equal(t, 2.70, b.SFCLevy)
	assert.Equal(t, 0.15, b.AFRCLevy)
	assert.Equal(t, 5.65, b.ExchangeFee)
	assert.Equal(t, 2.0, b.SettlementFee)
	assert.InDelta(t, 510.50, b.Total, 1e-9)
}

func TestCalculate_HKMinimums(t *testing.T) {
	buy, err := Calculate(Input{Market: models.MarketHK, Side: Buy, Quantity: 100, Price: 50})
	require.NoError(t, err)

	assert.Equal(t, 100.0, buy.Brokerage, "brokerage floor")
	assert.Equal(t, 1.50, buy.DepositCharge)
	assert.Equal(t, 5.0, buy.StampDuty)
	assert.Equal(t, 2.0, buy.SettlementFee, "settlement floor")
	assert.InDelta(t, 108.93, buy.Total, 1e-9)

	sell, err := Calculate(Input{Market: models.MarketHK, Side: Sell, Quantity: 100, Price: 50})
	require.NoError(t, err)
	assert.Zero(t, sell.DepositCharge, "deposit charge applies to buys only")
	assert.InDelta(t, 107.43, sell.Total, 1e-9)
}

func TestCalculate_HKStampDutyRoundsUp(t *testing.T) {
	b, err := Calculate(Input{Market: models.MarketHK, Side: Sell, Quantity: 333, Price: 10.01})
	require.NoError(t, err)
	// 3333.33 * 0.1% = 3.33333 -> 4
	assert.Equal(t, 4.0, b.StampDuty)
}

func TestCalculate_HKSettlementCap(t *testing.T) {
	b, err := Calculate(Input{Market: models.MarketHK, Side: Sell, Quantity: 100000, Price: 100})
	require.NoError(t, err)
	assert.Equal(t, 100.0, b.SettlementFee)
}

func TestCalculate_HKPartialBoardLot(t *testing.T) {
	b, err := Calculate(Input{Market: models.MarketHK, Side: Buy, Quantity: 450, Price: 10, LotSize: 200})
	require.NoError(t, err)
	// ceil(450/200) = 3 lots
	assert.Equal(t, 4.50, b.DepositCharge)
}

func TestCalculate_US(t *testing.T) {
	buy, err := Calculate(Input{Market: models.MarketUS, Side: Buy, Quantity: 100, Price: 50})
	require.NoError(t, err)
	assert.Equal(t, 1.0, buy.Brokerage)
	assert.Zero(t, buy.SECFee)
	assert.Equal(t, 1.0, buy.Total)

	sell, err := Calculate(Input{Market: models.MarketUS, Side: Sell, Quantity: 1000, Price: 10})
	require.NoError(t, err)
	assert.Equal(t, 5.0, sell.Brokerage)
	assert.Equal(t, 0.28, sell.SECFee)
	assert.Equal(t, 0.17, sell.TAF)
	assert.InDelta(t, 5.45, sell.Total, 1e-9)
}

func TestCalculate_Deterministic(t *testing.T) {
	in := Input{Market: models.MarketHK, Side: Buy, Quantity: 1234, Price: 17.37}
	first, err := Calculate(in)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Calculate(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCalculate_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want error
	}{
		{"zero quantity", Input{Side: Buy, Quantity: 0, Price: 1}, models.ErrInvalidQuantity},
		{"negative price", Input{Side: Buy, Quantity: 1, Price: -1}, models.ErrInvalidPrice},
		{"bad side", Input{Side: "short", Quantity: 1, Price: 1}, models.ErrInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Calculate(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Calculate(Input{Market: "LSE", Side: Buy, Quantity: 1, Price: 1})
	assert.Error(t, err)
}

func TestEffectiveRate(t *testing.T) {
	b := models.FeeBreakdown{Total: 510.5}
	assert.Equal(t, 0.5105, EffectiveRate(b, 10000, 10))
	assert.Zero(t, EffectiveRate(b, 0, 10))
}
