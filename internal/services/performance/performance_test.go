package performance

import (
	"testing"

	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(date string, value, unrealized float64, daily *float64) models.Snapshot {
	return models.Snapshot{Date: date, PortfolioValue: value, UnrealizedPnL: unrealized, DailyPnL: daily, Status: models.SnapshotFinalized}
}

func TestCalendar_MarksClosedDays(t *testing.T) {
	a := NewAggregator(calendar.New())
	snaps := []models.Snapshot{
		snap("2025-01-28", 100, 0, models.Float(12)),
		snap("2025-01-31", 100, 0, models.Float(99)), // holiday; ignored
		{Date: "2025-02-03", DailyPnL: models.Float(-4), Status: models.SnapshotEstimated},
	}

	days, warnings, err := a.Calendar(snaps, "2025-01-28", "2025-02-03", models.MarketHK)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, days, 7)

	assert.True(t, days[0].HasData)
	assert.Equal(t, 12.0, days[0].DailyPnL)
	for _, d := range days[1:6] {
		assert.False(t, d.TradingDay, d.Date)
		assert.Zero(t, d.DailyPnL, d.Date)
	}
	assert.True(t, days[6].Estimated)
	assert.Equal(t, -4.0, days[6].DailyPnL)
}

func TestCalendar_InvalidRange(t *testing.T) {
	a := NewAggregator(calendar.New())
	_, _, err := a.Calendar(nil, "2025-03-05", "2025-03-01", models.MarketHK)
	assert.ErrorIs(t, err, models.ErrInvalidDate)
	_, _, err = a.Calendar(nil, "bad", "2025-03-01", models.MarketHK)
	assert.True(t, models.IsValidationError(err))
}

func TestCalendar_UnknownYearWarns(t *testing.T) {
	a := NewAggregator(calendar.New())
	_, warnings, err := a.Calendar(nil, "2031-01-05", "2031-01-09", models.MarketUS)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, models.WarningCalendarGap, warnings[0].Kind)
}

func TestEquityCurve(t *testing.T) {
	s := snap("2025-03-03", 1100, 100, models.Float(5))
	s.RealizedPnL = 50
	points := EquityCurve([]models.Snapshot{s})
	require.Len(t, points, 1)
	assert.Equal(t, 150.0, points[0].TotalPnL)
	assert.Equal(t, 5.0, points[0].DailyPnL)
}

func TestRollup(t *testing.T) {
	snaps := []models.Snapshot{
		snap("2025-03-03", 0, 0, models.Float(10)),
		snap("2025-03-04", 0, 0, models.Float(-3)),
		snap("2025-03-05", 0, 0, nil),
		snap("2025-03-10", 0, 0, models.Float(7.5)),
		snap("2025-04-01", 0, 0, models.Float(1)),
	}

	weeks, err := Rollup(snaps, PeriodWeek)
	require.NoError(t, err)
	require.Len(t, weeks, 3)
	assert.Equal(t, "2025-W10", weeks[0].Key)
	assert.Equal(t, 7.0, weeks[0].PnL)
	assert.Equal(t, 2, weeks[0].Days)
	assert.Equal(t, 1, weeks[0].WinDays)
	assert.Equal(t, 1, weeks[0].LossDays)
	assert.Equal(t, 10.0, weeks[0].BestDay)
	assert.Equal(t, -3.0, weeks[0].WorstDay)

	months, err := Rollup(snaps, PeriodMonth)
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, "2025-03", months[0].Key)
	assert.Equal(t, 14.5, months[0].PnL)

	_, err = ParsePeriod("year")
	assert.Error(t, err)
}

func TestTWR_NeutralisesCapitalFlows(t *testing.T) {
	snaps := []models.Snapshot{
		snap("2025-03-03", 1000, 0, nil),
		snap("2025-03-04", 2100, 0, nil), // 1000 deposited, 10% gain on the original
		snap("2025-03-05", 2100, 0, nil),
	}
	txs := []models.Transaction{{Type: models.TransactionDeposit, Amount: 1000, Date: "2025-03-04"}}

	r := TWR(snaps, txs, nil)
	assert.Equal(t, 2, r.Periods)
	assert.InDelta(t, 5.0, r.Cumulative, 0.0001)
	assert.Zero(t, r.Annualised)
}

func TestTWR_AnnualisesLongSpans(t *testing.T) {
	snaps := []models.Snapshot{
		snap("2023-01-02", 1000, 0, nil),
		snap("2025-01-01", 1210, 0, nil),
	}
	r := TWR(snaps, nil, nil)
	assert.InDelta(t, 21.0, r.Cumulative, 0.0001)
	assert.InDelta(t, 10.0, r.Annualised, 0.05)
	assert.Equal(t, 730, r.Days)
}

func TestTWR_FullCloseThenReentry(t *testing.T) {
	snaps := []models.Snapshot{
		snap("2025-03-03", 10000, 0, nil),
		snap("2025-03-04", 11000, 1000, nil),
		snap("2025-03-05", 0, 0, nil),    // sold everything at 110
		snap("2025-03-06", 5000, 0, nil), // bought back in
		snap("2025-03-07", 5500, 500, nil),
	}
	closed := []models.ClosedTrade{{Ticker: "0700.HK", Quantity: 100, EntryPrice: 100, ExitPrice: 110, ExitDate: "2025-03-05", RealizedPnL: 1000}}

	r := TWR(snaps, nil, closed)
	assert.Equal(t, 3, r.Periods, "the day starting from zero value is skipped")
	assert.InDelta(t, 21.0, r.Cumulative, 0.0001)
}

func TestTWR_ProceedsNetOfFees(t *testing.T) {
	snaps := []models.Snapshot{
		snap("2025-03-03", 10000, 0, nil),
		snap("2025-03-04", 0, 0, nil),
	}
	closed := []models.ClosedTrade{{Quantity: 100, ExitPrice: 100, Fees: 50, ExitDate: "2025-03-04"}}

	r := TWR(snaps, nil, closed)
	assert.InDelta(t, -0.5, r.Cumulative, 0.0001)
}

func TestTWR_TooFewSnapshots(t *testing.T) {
	assert.Zero(t, TWR(nil, nil, nil).Periods)
	r := TWR([]models.Snapshot{snap("2025-03-03", 1, 0, nil)}, nil, nil)
	assert.Equal(t, "2025-03-03", r.From)
}
