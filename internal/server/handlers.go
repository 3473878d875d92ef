package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/ledger"
)

// handleHealth responds to GET/HEAD /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"storage": s.app.Store.Backend(),
	})
}

// handleVersion responds to GET/HEAD /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, struct {
		common.BuildInfo
		Uptime string `json:"uptime"`
	}{
		BuildInfo: common.GetBuildInfo(),
		Uptime:    time.Since(s.app.StartupTime).Round(time.Second).String(),
	})
}

// handlePortfolioList returns the stored and configured portfolio IDs the
// caller may see.
func (s *Server) handlePortfolioList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ids, err := s.app.Portfolios.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	seen := make(map[string]bool)
	visible := []string{}
	for _, id := range append(ids, s.app.Config.Portfolios...) {
		if seen[id] || !common.CanAccessPortfolio(r.Context(), id) {
			continue
		}
		seen[id] = true
		visible = append(visible, id)
	}
	sort.Strings(visible)

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"portfolios": visible,
		"default":    s.app.Config.DefaultPortfolio(),
	})
}

// handlePortfolioGet returns the whole portfolio document.
func (s *Server) handlePortfolioGet(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	doc, err := s.app.Portfolios.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

// handlePortfolioReload rereads the document from the store.
func (s *Server) handlePortfolioReload(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	doc, err := s.app.Portfolios.Load(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePositionAdd(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var in ledger.AddInput
	if !DecodeJSON(w, r, &in) {
		return
	}
	res, err := s.app.Portfolios.AddPosition(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

func (s *Server) handlePositionClose(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var in ledger.CloseInput
	if !DecodeJSON(w, r, &in) {
		return
	}
	trade, err := s.app.Portfolios.ClosePosition(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, trade)
}

type fieldEdit struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

func (s *Server) handlePositionEdit(w http.ResponseWriter, r *http.Request, id, ticker string) {
	if !RequireMethod(w, r, http.MethodPatch) {
		return
	}
	var req fieldEdit
	if !DecodeJSON(w, r, &req) {
		return
	}
	value, ok := req.Value.(string)
	if !ok {
		WriteError(w, http.StatusBadRequest, "value must be a string")
		return
	}
	p, err := s.app.Portfolios.EditPosition(r.Context(), id, ticker, req.Field, value)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleTransactionAdd(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var tx models.Transaction
	if !DecodeJSON(w, r, &tx) {
		return
	}
	out, err := s.app.Portfolios.AddTransaction(r.Context(), id, tx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, out)
}

func (s *Server) handleWishlistAdd(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var item models.WishlistItem
	if !DecodeJSON(w, r, &item) {
		return
	}
	if err := s.app.Portfolios.AddWishlistItem(r.Context(), id, item); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWishlistRemove(w http.ResponseWriter, r *http.Request, id, ticker string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	if err := s.app.Portfolios.RemoveWishlistItem(r.Context(), id, ticker); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSettings reads (GET) or merges into (PATCH) the document settings.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPatch) {
		return
	}
	if r.Method == http.MethodGet {
		doc, err := s.app.Portfolios.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc.Settings)
		return
	}

	var values map[string]interface{}
	if !DecodeJSON(w, r, &values) {
		return
	}
	settings, err := s.app.Portfolios.UpdateSettings(r.Context(), id, values)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, settings)
}

func (s *Server) handleManualPreviousClose(w http.ResponseWriter, r *http.Request, id, ticker string) {
	if !RequireMethod(w, r, http.MethodPut, http.MethodDelete) {
		return
	}
	var req struct {
		Value float64 `json:"value"`
	}
	if r.Method == http.MethodPut && !DecodeJSON(w, r, &req) {
		return
	}
	if err := s.app.Portfolios.SetManualPreviousClose(r.Context(), id, ticker, req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	report, err := s.app.Portfolios.RefreshPrices(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
