package models

import "time"

// SnapshotStatus is the lifecycle state of a day's snapshot:
// absent -> estimated -> finalized.
type SnapshotStatus string

const (
	SnapshotEstimated SnapshotStatus = "estimated"
	SnapshotFinalized SnapshotStatus = "finalized"
)

// SnapshotWriter identifies who produced a snapshot value.
type SnapshotWriter string

const (
	WriterClient   SnapshotWriter = "client"
	WriterCron     SnapshotWriter = "cron"
	WriterBackfill SnapshotWriter = "backfill"
)

// PositionAtClose is the audit row for one holding at a day's close.
type PositionAtClose struct {
	Ticker       string  `json:"ticker"`
	Name         string  `json:"name"`
	Quantity     int64   `json:"quantity"`
	EntryPrice   float64 `json:"entryPrice"`
	EntryDate    string  `json:"entryDate"`
	ClosingPrice float64 `json:"closingPrice"`
	MarketValue  float64 `json:"marketValue"`
	PnL          float64 `json:"pnl"`
	PnLPercent   float64 `json:"pnlPercent"`
}

// SnapshotConflict records a finalized dailyPnL from another writer that
// disagreed with the stored value.
type SnapshotConflict struct {
	Writer     SnapshotWriter `json:"writer"`
	DailyPnL   float64        `json:"dailyPnL"`
	RecordedAt time.Time      `json:"recordedAt"`
}

// Snapshot is the valuation of the portfolio at one trading day's close.
// Once finalized its dailyPnL is only rewritten through a correction.
type Snapshot struct {
	Date             string             `json:"date"`
	CapitalEngaged   float64            `json:"capitalEngaged"`
	PortfolioValue   float64            `json:"portfolioValue"`
	UnrealizedPnL    float64            `json:"unrealizedPnL"`
	RealizedPnL      float64            `json:"realizedPnL"`
	TotalDividends   float64            `json:"totalDividends"`
	PositionCount    int                `json:"positionCount"`
	ClosingPrices    map[string]float64 `json:"closingPrices,omitempty"`
	DailyPnL         *float64           `json:"dailyPnL,omitempty"`
	PositionsAtClose []PositionAtClose  `json:"positionsAtClose,omitempty"`
	Status           SnapshotStatus     `json:"status,omitempty"`
	Writer           SnapshotWriter     `json:"writer,omitempty"`
	Conflicts        []SnapshotConflict `json:"conflicts,omitempty"`
	Note             string             `json:"note,omitempty"`
	CreatedAt        time.Time          `json:"createdAt,omitzero"`
	UpdatedAt        time.Time          `json:"updatedAt,omitzero"`
}

// IsEstimated reports whether the snapshot's values were interpolated.
func (s *Snapshot) IsEstimated() bool {
	return s.Status == SnapshotEstimated
}

// IsFinalized reports whether the snapshot carries an authoritative dailyPnL.
// Snapshots written before statuses existed count as finalized once they
// hold a dailyPnL.
func (s *Snapshot) IsFinalized() bool {
	if s.Status == SnapshotFinalized {
		return true
	}
	return s.Status == "" && s.DailyPnL != nil
}

// TotalPnL is realized plus unrealized P&L, the equity-curve value.
func (s *Snapshot) TotalPnL() float64 {
	return s.RealizedPnL + s.UnrealizedPnL
}

// DailyPnLValue returns dailyPnL or zero when absent.
func (s *Snapshot) DailyPnLValue() float64 {
	if s.DailyPnL == nil {
		return 0
	}
	return *s.DailyPnL
}

// Float returns a pointer to v, for optional fields.
func Float(v float64) *float64 { return &v }

// CorrectionReason names the path that rewrote a snapshot value.
type CorrectionReason string

const (
	CorrectionRetroactivePosition CorrectionReason = "retroactive-position"
	CorrectionRestoreClosePrices  CorrectionReason = "restore-closing-prices"
	CorrectionConflictResolution  CorrectionReason = "conflict-resolution"
	CorrectionManualEdit          CorrectionReason = "manual-edit"
)

// Correction is the audit record of a change to an existing snapshot.
type Correction struct {
	ID        string           `json:"id"`
	Date      string           `json:"date"`
	Field     string           `json:"field"`
	Ticker    string           `json:"ticker,omitempty"`
	OldValue  float64          `json:"oldValue"`
	NewValue  float64          `json:"newValue"`
	Reason    CorrectionReason `json:"reason"`
	CreatedAt time.Time        `json:"createdAt"`
}
