package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bobmcallan/folio/internal/models"
)

func newPatchCmd(root *rootOptions) *cobra.Command {
	var (
		portfolioID string
		date        string
		pricesPath  string
	)
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Restore the closing prices of a stored snapshot",
		Long: `patch overwrites the closing prices recorded for --date with the values in
--prices and recomputes that day's value and dailyPnL. Every changed value is
recorded as a correction. The prices file is a YAML mapping:

  0700.HK: 412.4
  9988.HK: 131.2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !models.ValidDate(date) {
				return fmt.Errorf("bad --date %q: want YYYY-MM-DD", date)
			}
			prices, err := readPriceFile(pricesPath)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			if portfolioID == "" {
				portfolioID = a.Config.DefaultPortfolio()
			}
			res, err := a.Portfolios.RestoreClosingPrices(cmd.Context(), portfolioID, date, prices)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s: %d corrections\n", portfolioID, date, len(res.Corrections))
			for _, c := range res.Corrections {
				subject := c.Field
				if c.Ticker != "" {
					subject += " " + c.Ticker
				}
				fmt.Fprintf(out, "  %s: %.2f -> %.2f\n", subject, c.OldValue, c.NewValue)
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "  warning: %s\n", w.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&portfolioID, "portfolio", "", "portfolio ID (default: first configured)")
	cmd.Flags().StringVar(&date, "date", "", "snapshot date, YYYY-MM-DD")
	cmd.Flags().StringVar(&pricesPath, "prices", "", "YAML file of ticker: close")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("prices")
	return cmd
}

// readPriceFile reads a YAML mapping of ticker to closing price.
func readPriceFile(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prices: %w", err)
	}
	var prices map[string]float64
	if err := yaml.Unmarshal(data, &prices); err != nil {
		return nil, fmt.Errorf("parse prices %s: %w", path, err)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("prices file %s has no entries", path)
	}
	for ticker, p := range prices {
		if p <= 0 {
			return nil, fmt.Errorf("prices file %s: %s close %v must be positive", path, ticker, p)
		}
	}
	return prices, nil
}
