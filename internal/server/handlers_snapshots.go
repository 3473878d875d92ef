package server

import (
	"net/http"

	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/fees"
	"github.com/bobmcallan/folio/internal/services/performance"
	"github.com/bobmcallan/folio/internal/services/portfolio"
)

// handleReconcile backfills gaps and writes today's snapshot.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Refresh bool `json:"refresh"`
		Force   bool `json:"force"`
	}
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	res, err := s.app.Portfolios.Reconcile(r.Context(), id, portfolio.ReconcileOptions{
		Writer:        models.WriterClient,
		RefreshPrices: req.Refresh,
		Force:         req.Force,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleSnapshotList(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	snaps, err := s.app.Portfolios.Snapshots(r.Context(), id, q.Get("from"), q.Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snaps)
}

// handleSnapshotEdit changes one audit field of a snapshot.
func (s *Server) handleSnapshotEdit(w http.ResponseWriter, r *http.Request, id, date string) {
	if !RequireMethod(w, r, http.MethodPatch) {
		return
	}
	var req fieldEdit
	if !DecodeJSON(w, r, &req) {
		return
	}
	corrections, err := s.app.Portfolios.EditSnapshot(r.Context(), id, date, req.Field, req.Value)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if corrections == nil {
		corrections = []models.Correction{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"corrections": corrections})
}

// handleSnapshotResolve sets the authoritative dailyPnL of a conflicted day.
func (s *Server) handleSnapshotResolve(w http.ResponseWriter, r *http.Request, id, date string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		DailyPnL *float64 `json:"dailyPnL"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.DailyPnL == nil {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "dailyPnL is required", Code: "validation", Field: "dailyPnL"})
		return
	}
	c, err := s.app.Portfolios.ResolveConflict(r.Context(), id, date, *req.DailyPnL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// handleSnapshotRestore overwrites a day's closing prices.
func (s *Server) handleSnapshotRestore(w http.ResponseWriter, r *http.Request, id, date string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Prices map[string]float64 `json:"prices"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Prices) == 0 {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "prices are required", Code: "validation", Field: "prices"})
		return
	}
	res, err := s.app.Portfolios.RestoreClosingPrices(r.Context(), id, date, req.Prices)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	days, warnings, err := s.app.Portfolios.Calendar(r.Context(), id, q.Get("from"), q.Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"days":     days,
		"warnings": warnings,
	})
}

func (s *Server) handleEquityCurve(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	points, err := s.app.Portfolios.EquityCurve(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, points)
}

func (s *Server) handleRollups(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	raw := r.URL.Query().Get("period")
	if raw == "" {
		raw = string(performance.PeriodMonth)
	}
	period, err := performance.ParsePeriod(raw)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	buckets, err := s.app.Portfolios.Rollup(r.Context(), id, period)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleTWR(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ret, err := s.app.Portfolios.TWR(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ret)
}

// handlePriceResolve resolves a ticker's previous close, today or on ?date=.
func (s *Server) handlePriceResolve(w http.ResponseWriter, r *http.Request, id, ticker string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	res, err := s.app.Portfolios.ResolvePrice(r.Context(), id, ticker, r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// handleFeeQuote prices the charges of a hypothetical trade:
// ?ticker=0700.HK&side=buy&quantity=100&price=400.
func (s *Server) handleFeeQuote(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	qty, err := queryInt(r, "quantity")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	price, err := queryFloat(r, "price")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	side := fees.Side(q.Get("side"))
	if side == "" {
		side = fees.Buy
	}
	breakdown, err := s.app.Portfolios.FeeQuote(r.Context(), id, q.Get("ticker"), side, qty, price)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, breakdown)
}
