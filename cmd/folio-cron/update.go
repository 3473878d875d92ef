package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/folio/internal/app"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/portfolio"
)

type updateOptions struct {
	market     string
	portfolios []string
	force      bool
}

func newUpdateCmd(root *rootOptions) *cobra.Command {
	opts := updateOptions{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Refresh quotes and write today's snapshot for portfolios valued in --market",
		Long: `update is meant to run from cron shortly after the market close. It refreshes
quotes for every tracked ticker, creates or merges the day's snapshot with the
cron writer, and fills estimated snapshots for any missed trading days.
Portfolios valued in another market are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			market, ok := models.ParseMarket(opts.market)
			if !ok {
				return fmt.Errorf("unknown --market %q (HK or US)", opts.market)
			}
			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()
			return runUpdate(cmd.Context(), a, market, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.market, "market", "", "market whose close triggers the update (HK or US)")
	cmd.Flags().StringSliceVar(&opts.portfolios, "portfolio", nil, "portfolio IDs (default: all configured)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "write the snapshot even before the market close")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}

func runUpdate(ctx context.Context, a *app.App, market models.Market, opts updateOptions, out io.Writer) error {
	ids := opts.portfolios
	if len(ids) == 0 {
		ids = a.Config.Portfolios
	}

	failed := 0
	for _, id := range ids {
		doc, err := a.Portfolios.Get(ctx, id)
		if err != nil {
			a.Logger.Error().Err(err).Str("portfolio", id).Msg("Update: load failed")
			failed++
			continue
		}
		if m := a.Portfolios.Market(doc); m != market {
			fmt.Fprintf(out, "%s: skipped, valued in %s\n", id, m)
			continue
		}

		res, err := a.Portfolios.Reconcile(ctx, id, portfolio.ReconcileOptions{
			Writer:        models.WriterCron,
			RefreshPrices: true,
			Force:         opts.force,
		})
		if err != nil {
			if errors.Is(err, models.ErrReconciliationAbandoned) {
				a.Logger.Warn().Str("portfolio", id).Msg("Update: document changed during update")
			} else {
				a.Logger.Error().Err(err).Str("portfolio", id).Msg("Update: reconcile failed")
			}
			failed++
			continue
		}
		printUpdate(out, id, market, res)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d portfolios failed", failed, len(ids))
	}
	return nil
}

func printUpdate(out io.Writer, id string, market models.Market, res *portfolio.ReconcileResult) {
	if res.Today == nil {
		fmt.Fprintf(out, "%s %s: market not closed; nothing written\n", id, res.Date)
	} else if res.Today.Snapshot == nil {
		fmt.Fprintf(out, "%s %s: %s\n", id, res.Date, res.Today.Action)
	} else {
		snap := res.Today.Snapshot
		fmt.Fprintf(out, "%s %s: %s value %s daily %s\n",
			id, res.Date, res.Today.Action,
			formatMoney(snap.PortfolioValue, market),
			formatMoney(snap.DailyPnLValue(), market))
	}

	if res.Refresh != nil {
		fmt.Fprintf(out, "  quotes: %d updated, %d failed\n", len(res.Refresh.Updated), len(res.Refresh.Failed))
		for ticker, reason := range res.Refresh.Failed {
			fmt.Fprintf(out, "    %s: %s\n", ticker, reason)
		}
	}
	if n := len(res.Backfill.Estimated); n > 0 {
		fmt.Fprintf(out, "  estimated: %d days (%s .. %s)\n", n, res.Backfill.Estimated[0], res.Backfill.Estimated[n-1])
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w.String())
	}
}
