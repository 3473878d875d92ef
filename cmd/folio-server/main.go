package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobmcallan/folio/internal/app"
	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/server"
)

func main() {
	a, err := app.NewApp(context.Background(), os.Getenv("FOLIO_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(a.Config, a.Logger)

	// Background work: follow external writes, refresh and reconcile.
	a.StartWatchers()
	a.StartScheduler()

	srv := server.NewServer(a)
	shutdown := make(chan struct{}, 1)
	srv.SetShutdownChannel(shutdown)

	go func() {
		if err := srv.Start(); err != nil {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	a.Logger.Info().
		Str("url", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)).
		Msg("Server ready")

	// Wait for interrupt signal or HTTP shutdown request
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		a.Logger.Info().Msg("Shutdown signal received")
	case <-shutdown:
		a.Logger.Info().Msg("Shutdown requested via HTTP")
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	a.Close()
	common.PrintShutdownBanner(a.Logger)
	a.Logger.Info().Msg("Server stopped")
}
