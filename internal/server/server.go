package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/bobmcallan/folio/internal/app"
	"github.com/bobmcallan/folio/internal/common"
)

// maxHeaderBytes bounds request headers; bearer tokens listing many
// portfolios are the largest expected header.
const maxHeaderBytes = 64 << 10

// Server wraps the HTTP server and application reference.
type Server struct {
	app          *app.App
	server       *http.Server
	logger       *common.Logger
	shutdownChan chan struct{}
}

// SetShutdownChannel sets the channel that will be signaled when HTTP shutdown is requested.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// NewServer creates a new HTTP REST API server.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:    a,
		logger: a.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := applyMiddleware(mux, a.Logger, a.Config)

	cfg := &a.Config.Server
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.GetReadTimeout(),
		ReadHeaderTimeout: cfg.GetReadTimeout(),
		WriteTimeout:      cfg.GetWriteTimeout(),
		IdleTimeout:       cfg.GetIdleTimeout(),
		MaxHeaderBytes:    maxHeaderBytes,
		ErrorLog:          log.New(&serverErrorWriter{logger: a.Logger}, "", 0),
	}

	return s
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Dur("write_timeout", s.server.WriteTimeout).
		Msg("Starting REST API server")
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, waiting at most the configured
// shutdown timeout or until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.app.Config.Server.GetShutdownTimeout())
	defer cancel()
	return s.server.Shutdown(ctx)
}

// serverErrorWriter routes net/http's internal errors (TLS handshakes,
// malformed requests) to the structured log.
type serverErrorWriter struct {
	logger *common.Logger
}

func (w *serverErrorWriter) Write(p []byte) (int, error) {
	w.logger.Warn().Str("source", "net/http").Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}
