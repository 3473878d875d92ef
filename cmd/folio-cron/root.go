package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/folio/internal/app"
	"github.com/bobmcallan/folio/internal/common"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "folio-cron",
		Short: "Scheduled writer for folio portfolio documents",
		Long: `folio-cron runs the jobs that keep portfolio documents current when no
browser session is open:

  update   refresh quotes and write the day's snapshot after the market close
  patch    restore the closing prices of a past snapshot from a YAML file
  token    issue a bearer token for the HTTP API`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default FOLIO_CONFIG or config/folio.toml)")

	cmd.AddCommand(
		newUpdateCmd(opts),
		newPatchCmd(opts),
		newTokenCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// openApp initializes the shared core without the background loops.
func openApp(ctx context.Context, opts *rootOptions) (*app.App, error) {
	a, err := app.NewApp(ctx, opts.configPath)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("version", common.GetVersion()).Msg("folio-cron started")
	return a, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), common.GetBuildInfo().String())
		},
	}
}
