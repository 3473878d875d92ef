package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/folio/internal/common"
)

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}
	if common.IsReadOnly(r.Context()) {
		WriteError(w, http.StatusForbidden, "Read-only token")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// Portfolios
	mux.HandleFunc("/api/portfolios/", s.routePortfolios)
	mux.HandleFunc("/api/portfolios", s.handlePortfolioList)
}

// routePortfolios dispatches /api/portfolios/{id}/... requests.
func (s *Server) routePortfolios(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/portfolios/"), "/")
	if path == "" {
		s.handlePortfolioList(w, r)
		return
	}

	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	subpath := ""
	if len(parts) > 1 {
		subpath = parts[1]
	}

	if !common.CanAccessPortfolio(r.Context(), id) {
		WriteError(w, http.StatusForbidden, "Token does not grant access to portfolio "+id)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead && common.IsReadOnly(r.Context()) {
		WriteError(w, http.StatusForbidden, "Read-only token cannot modify portfolios")
		return
	}

	switch subpath {
	case "":
		s.handlePortfolioGet(w, r, id)
	case "reload":
		s.handlePortfolioReload(w, r, id)
	case "positions":
		s.handlePositionAdd(w, r, id)
	case "positions/close":
		s.handlePositionClose(w, r, id)
	case "transactions":
		s.handleTransactionAdd(w, r, id)
	case "wishlist":
		s.handleWishlistAdd(w, r, id)
	case "settings":
		s.handleSettings(w, r, id)
	case "refresh":
		s.handleRefresh(w, r, id)
	case "reconcile":
		s.handleReconcile(w, r, id)
	case "snapshots":
		s.handleSnapshotList(w, r, id)
	case "calendar":
		s.handleCalendar(w, r, id)
	case "equity":
		s.handleEquityCurve(w, r, id)
	case "rollups":
		s.handleRollups(w, r, id)
	case "twr":
		s.handleTWR(w, r, id)
	case "fees":
		s.handleFeeQuote(w, r, id)
	default:
		s.routePortfolioItems(w, r, id, subpath)
	}
}

// routePortfolioItems handles the nested paths that carry an item key:
// positions/{ticker}, wishlist/{ticker}, prices/{ticker}[/previous-close],
// snapshots/{date}[/resolve|/restore].
func (s *Server) routePortfolioItems(w http.ResponseWriter, r *http.Request, id, subpath string) {
	parts := strings.Split(subpath, "/")
	switch {
	case len(parts) == 2 && parts[0] == "positions":
		s.handlePositionEdit(w, r, id, parts[1])
	case len(parts) == 2 && parts[0] == "wishlist":
		s.handleWishlistRemove(w, r, id, parts[1])
	case len(parts) == 2 && parts[0] == "prices":
		s.handlePriceResolve(w, r, id, parts[1])
	case len(parts) == 3 && parts[0] == "prices" && parts[2] == "previous-close":
		s.handleManualPreviousClose(w, r, id, parts[1])
	case len(parts) == 2 && parts[0] == "snapshots":
		s.handleSnapshotEdit(w, r, id, parts[1])
	case len(parts) == 3 && parts[0] == "snapshots" && parts[2] == "resolve":
		s.handleSnapshotResolve(w, r, id, parts[1])
	case len(parts) == 3 && parts[0] == "snapshots" && parts[2] == "restore":
		s.handleSnapshotRestore(w, r, id, parts[1])
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}
