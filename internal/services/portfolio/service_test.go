package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/calendar"
	"github.com/bobmcallan/folio/internal/services/ledger"
	"github.com/bobmcallan/folio/internal/services/performance"
	"github.com/bobmcallan/folio/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 17:00 in Hong Kong on Monday 2025-03-10, after the close.
var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// --- Mocks ---

type mockQuotes struct {
	mu      sync.Mutex
	prices  map[string]float64
	bars    map[string][]models.Bar
	failing map[string]bool

	// entered and release let a test hold Refresh mid-flight.
	entered chan struct{}
	release chan struct{}
}

func (m *mockQuotes) GetQuote(_ context.Context, ticker string, _ models.Market) (*models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[ticker] {
		return nil, errors.New("symbol not found")
	}
	p, ok := m.prices[ticker]
	if !ok {
		return nil, errors.New("symbol not found")
	}
	return &models.Quote{Ticker: ticker, Price: p, PreviousClose: p - 1, Change: 1, Source: "mock", FetchedAt: testNow}, nil
}

func (m *mockQuotes) GetHistory(_ context.Context, ticker string, _ models.Market, _, _ time.Time) ([]models.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bars, ok := m.bars[ticker]
	if !ok {
		return nil, errors.New("no history")
	}
	return bars, nil
}

func (m *mockQuotes) Refresh(ctx context.Context, tickers []string, market models.Market) (map[string]*models.Quote, models.RefreshReport) {
	if m.entered != nil {
		close(m.entered)
		select {
		case <-m.release:
		case <-ctx.Done():
		}
	}
	quotes := map[string]*models.Quote{}
	report := models.RefreshReport{Failed: map[string]string{}}
	for _, t := range tickers {
		q, err := m.GetQuote(ctx, t, market)
		if err != nil {
			report.Failed[t] = err.Error()
			report.Warnings = append(report.Warnings, models.Warning{Kind: models.WarningQuoteFailed, Ticker: t, Message: err.Error()})
			continue
		}
		quotes[t] = q
		report.Updated = append(report.Updated, t)
	}
	return quotes, report
}

// --- Helpers ---

func newTestService(t *testing.T, quotes *mockQuotes) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore(common.NewSilentLogger())
	if quotes == nil {
		quotes = &mockQuotes{}
	}
	svc := NewService(store, quotes, calendar.New(), models.MarketHK, common.NewSilentLogger())
	svc.SetClock(func() time.Time { return testNow })
	return svc, store
}

// seed writes a portfolio holding 100 0700.HK bought at 400, with a
// finalized snapshot on 2025-03-05 closing at 410.
func seed(t *testing.T, store *memory.Store) *models.Document {
	t.Helper()
	doc := models.NewDocument("main")
	doc.Settings["market"] = "HK"
	p := models.Position{
		ID:           "p1",
		Ticker:       "0700.HK",
		Name:         "TENCENT",
		CurrentPrice: 420,
		Lots:         []models.Lot{{Quantity: 100, Price: 400, Date: "2025-03-03"}},
	}
	p.Reproject()
	doc.Positions = append(doc.Positions, p)
	doc.Snapshots = append(doc.Snapshots, models.Snapshot{
		Date:           "2025-03-05",
		CapitalEngaged: 40000,
		PortfolioValue: 41000,
		UnrealizedPnL:  1000,
		PositionCount:  1,
		ClosingPrices:  map[string]float64{"0700.HK": 410},
		DailyPnL:       models.Float(100),
		Status:         models.SnapshotFinalized,
		Writer:         models.WriterCron,
	})
	require.NoError(t, store.Save(context.Background(), doc))
	return doc
}

// --- Tests ---

func TestGet_NewPortfolioIsEmpty(t *testing.T) {
	svc, _ := newTestService(t, nil)
	doc, err := svc.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", doc.ID)
	assert.Zero(t, doc.Version)
	assert.Empty(t, doc.Positions)
}

func TestGet_ReturnsCopy(t *testing.T) {
	svc, store := newTestService(t, nil)
	seed(t, store)
	ctx := context.Background()

	doc, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	doc.Positions[0].Ticker = "MUTATED"

	again, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "0700.HK", again.Positions[0].Ticker)
}

func TestAddPosition_PersistsAndBumpsVersion(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	res, err := svc.AddPosition(ctx, "main", ledger.AddInput{Ticker: "0005.HK", Quantity: 400, Price: 60})
	require.NoError(t, err)
	assert.Equal(t, "0005.HK", res.Position.Ticker)
	assert.Equal(t, "2025-03-10", res.Position.EntryDate)
	assert.Empty(t, res.Corrections)

	stored, err := store.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	require.Len(t, stored.Positions, 1)
}

func TestAddPosition_InvalidLeavesStateUntouched(t *testing.T) {
	svc, store := newTestService(t, nil)
	seed(t, store)
	ctx := context.Background()

	_, err := svc.AddPosition(ctx, "main", ledger.AddInput{Ticker: "0005.HK", Quantity: 0, Price: 60})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	doc, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, doc.Positions, 1)
	assert.Equal(t, int64(1), doc.Version)
}

func TestAddPosition_BackdatedRewritesSnapshots(t *testing.T) {
	quotes := &mockQuotes{bars: map[string][]models.Bar{
		"0005.HK": {{Date: "2025-03-05", Close: 61}, {Date: "2025-03-06", Close: 62}},
	}}
	svc, store := newTestService(t, quotes)
	doc := seed(t, store)
	ctx := context.Background()

	doc.Snapshots = append(doc.Snapshots, models.Snapshot{
		Date: "2025-03-06", CapitalEngaged: 40000, PortfolioValue: 41500, UnrealizedPnL: 1500,
		PositionCount: 1, ClosingPrices: map[string]float64{"0700.HK": 415},
		DailyPnL: models.Float(500), Status: models.SnapshotFinalized, Writer: models.WriterCron,
	})
	require.NoError(t, store.Save(ctx, doc))

	res, err := svc.AddPosition(ctx, "main", ledger.AddInput{Ticker: "0005.HK", Quantity: 100, Price: 60, Date: "2025-03-05"})
	require.NoError(t, err)
	assert.Len(t, res.Corrections, 4)
	assert.Empty(t, res.Warnings)

	got, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	d1 := got.SnapshotFor("2025-03-05")
	require.NotNil(t, d1)
	assert.Equal(t, 47100.0, d1.PortfolioValue)
	assert.Equal(t, 46000.0, d1.CapitalEngaged)
	assert.Equal(t, 200.0, *d1.DailyPnL)
	assert.Equal(t, 2, d1.PositionCount)

	d2 := got.SnapshotFor("2025-03-06")
	assert.Equal(t, 600.0, *d2.DailyPnL)
	assert.Len(t, got.Corrections, 4)
}

func TestAddPosition_BackdatedWithoutHistoryWarns(t *testing.T) {
	svc, store := newTestService(t, &mockQuotes{})
	seed(t, store)

	res, err := svc.AddPosition(context.Background(), "main", ledger.AddInput{Ticker: "0005.HK", Quantity: 100, Price: 60, Date: "2025-03-05"})
	require.NoError(t, err)
	assert.True(t, models.HasWarning(res.Warnings, models.WarningMissingMarketData))
}

func TestClosePosition(t *testing.T) {
	svc, store := newTestService(t, nil)
	seed(t, store)
	ctx := context.Background()

	fees := 0.0
	trade, err := svc.ClosePosition(ctx, "main", ledger.CloseInput{Ticker: "0700.HK", Quantity: 100, Price: 450, Fees: &fees})
	require.NoError(t, err)
	assert.Equal(t, 5000.0, trade.RealizedPnL)

	doc, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, doc.Positions)
	assert.Len(t, doc.ClosedTrades, 1)
}

func TestEditPositionAndTransactions(t *testing.T) {
	svc, store := newTestService(t, nil)
	seed(t, store)
	ctx := context.Background()

	p, err := svc.EditPosition(ctx, "main", "0700.HK", ledger.FieldCurrentPrice, "430")
	require.NoError(t, err)
	assert.Equal(t, 430.0, p.CurrentPrice)
	assert.True(t, p.Dirty)

	tx, err := svc.AddTransaction(ctx, "main", models.Transaction{Type: models.TransactionDeposit, Amount: 5000})
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "2025-03-10", tx.Date)

	require.NoError(t, svc.AddWishlistItem(ctx, "main", models.WishlistItem{Ticker: "9988.HK", TargetPrice: 80}))
	require.NoError(t, svc.RemoveWishlistItem(ctx, "main", "9988.HK"))
	assert.ErrorIs(t, svc.RemoveWishlistItem(ctx, "main", "9988.HK"), models.ErrNotFound)
}

func TestSave_RetriesAfterExternalWrite(t *testing.T) {
	svc, store := newTestService(t, nil)
	seed(t, store)
	ctx := context.Background()

	_, err := svc.Get(ctx, "main")
	require.NoError(t, err)

	// Another writer saves behind the service's back.
	external, err := store.Load(ctx, "main")
	require.NoError(t, err)
	external.Wishlist = append(external.Wishlist, models.WishlistItem{Ticker: "AAPL", DateAdded: "2025-03-07"})
	require.NoError(t, store.Save(ctx, external))

	_, err = svc.AddTransaction(ctx, "main", models.Transaction{Type: models.TransactionDeposit, Amount: 100})
	require.NoError(t, err)

	doc, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc.Version)
	assert.Len(t, doc.Wishlist, 1)
	assert.Len(t, doc.Transactions, 1)
}

func TestRefreshPrices_ReportsFailuresAndKeepsManualOverride(t *testing.T) {
	quotes := &mockQuotes{prices: map[string]float64{"0700.HK": 425}}
	svc, store := newTestService(t, quotes)
	seed(t, store)
	ctx := context.Background()

	require.NoError(t, svc.AddWishlistItem(ctx, "main", models.WishlistItem{Ticker: "9988.HK"}))
	require.NoError(t, svc.SetManualPreviousClose(ctx, "main", "0700.HK", 418))

	report, err := svc.RefreshPrices(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"0700.HK"}, report.Updated)
	assert.Contains(t, report.Failed, "9988.HK")

	doc, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 425.0, doc.Positions[0].CurrentPrice)
	entry := doc.PriceCache["0700.HK"]
	assert.True(t, entry.Success)
	require.NotNil(t, entry.ManualPreviousClose)
	assert.Equal(t, 418.0, *entry.ManualPreviousClose)
	assert.False(t, doc.PriceCache["9988.HK"].Success)
	assert.NotEmpty(t, doc.PriceCache["9988.HK"].Error)
}

func TestReconcile_WritesTodayAndBackfillsGap(t *testing.T) {
	svc, store := newTestService(t, nil)
	seed(t, store)
	ctx := context.Background()

	res, err := svc.Reconcile(ctx, "main", ReconcileOptions{Writer: models.WriterClient})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", res.Date)
	require.NotNil(t, res.Today)
	assert.Equal(t, 42000.0, res.Today.Snapshot.PortfolioValue)
	assert.Equal(t, []string{"2025-03-06", "2025-03-07"}, res.Backfill.Estimated)

	doc, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	require.Len(t, doc.Snapshots, 4)
	est := doc.SnapshotFor("2025-03-06")
	assert.True(t, est.IsEstimated())
	assert.Equal(t, 500.0, *est.DailyPnL)
	assert.True(t, doc.SnapshotFor("2025-03-10").IsFinalized())

	// Running again changes nothing but the version.
	_, err = svc.Reconcile(ctx, "main", ReconcileOptions{Writer: models.WriterClient})
	require.NoError(t, err)
	again, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, doc.Snapshots[3].DailyPnL, again.Snapshots[3].DailyPnL)
	assert.Empty(t, again.Snapshots[3].Conflicts)
}

func TestReconcile_BeforeCloseSkipsToday(t *testing.T) {
	svc, store := newTestService(t, nil)
	seed(t, store)
	svc.SetClock(func() time.Time { return time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC) })

	res, err := svc.Reconcile(context.Background(), "main", ReconcileOptions{})
	require.NoError(t, err)
	assert.Nil(t, res.Today)
	assert.Empty(t, res.Backfill.Estimated)
}

func TestReconcile_AbandonedOnReload(t *testing.T) {
	quotes := &mockQuotes{
		prices:  map[string]float64{"0700.HK": 425},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc, store := newTestService(t, quotes)
	seed(t, store)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Reconcile(ctx, "main", ReconcileOptions{RefreshPrices: true})
		errc <- err
	}()

	<-quotes.entered
	_, err := svc.Load(ctx, "main")
	require.NoError(t, err)
	close(quotes.release)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, models.ErrReconciliationAbandoned)
	case <-time.After(5 * time.Second):
		t.Fatal("reconcile did not return")
	}

	doc, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, doc.Snapshots, 1)
	assert.Equal(t, 420.0, doc.Positions[0].CurrentPrice)
}

func TestWatch_ReloadsOnExternalChange(t *testing.T) {
	svc, store := newTestService(t, nil)
	seed(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	go svc.Watch(ctx, "main")
	time.Sleep(20 * time.Millisecond)

	external, err := store.Load(ctx, "main")
	require.NoError(t, err)
	external.Wishlist = append(external.Wishlist, models.WishlistItem{Ticker: "AAPL", DateAdded: "2025-03-07"})
	require.NoError(t, store.Save(ctx, external))

	require.Eventually(t, func() bool {
		doc, err := svc.Get(ctx, "main")
		return err == nil && len(doc.Wishlist) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCorrectionsThroughService(t *testing.T) {
	svc, store := newTestService(t, nil)
	seed(t, store)
	ctx := context.Background()

	restored, err := svc.RestoreClosingPrices(ctx, "main", "2025-03-05", map[string]float64{"0700.HK": 412})
	require.NoError(t, err)
	assert.NotEmpty(t, restored.Corrections)

	cs, err := svc.EditSnapshot(ctx, "main", "2025-03-05", "capitalEngaged", 40100.0)
	require.NoError(t, err)
	assert.Len(t, cs, 1)

	_, err = svc.EditSnapshot(ctx, "main", "2025-03-05", "note", "restored from broker statement")
	require.NoError(t, err)

	_, err = svc.EditSnapshot(ctx, "main", "2025-03-05", "dailyPnL", 1.0)
	assert.True(t, models.IsValidationError(err))

	_, err = svc.RestoreClosingPrices(ctx, "main", "2025-03-04", map[string]float64{"0700.HK": 412})
	assert.ErrorIs(t, err, models.ErrNoSnapshot)

	doc, err := svc.Get(ctx, "main")
	require.NoError(t, err)
	d := doc.SnapshotFor("2025-03-05")
	assert.Equal(t, 41200.0, d.PortfolioValue)
	assert.Equal(t, 1100.0, d.UnrealizedPnL)
	assert.Equal(t, "restored from broker statement", d.Note)
}

func TestAnalytics(t *testing.T) {
	svc, store := newTestService(t, nil)
	seed(t, store)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, "main", ReconcileOptions{})
	require.NoError(t, err)

	days, _, err := svc.Calendar(ctx, "main", "2025-03-03", "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, days, 8)

	curve, err := svc.EquityCurve(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, curve, 4)

	buckets, err := svc.Rollup(ctx, "main", performance.PeriodWeek)
	require.NoError(t, err)
	assert.Len(t, buckets, 2)

	snaps, err := svc.Snapshots(ctx, "main", "2025-03-06", "")
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
}

func TestResolvePrice_TodayUsesLatestSnapshot(t *testing.T) {
	svc, store := newTestService(t, nil)
	seed(t, store)

	res, err := svc.ResolvePrice(context.Background(), "main", "0700b.HK", "")
	require.NoError(t, err)
	assert.Equal(t, "0700.HK", res.Ticker)
	assert.Equal(t, 410.0, res.PreviousClose)
	assert.Equal(t, 10.0, res.Change)
}
