package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/folio/internal/app"
	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/server"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		subject    string
		portfolios []string
		readOnly   bool
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Long: `token signs a token with auth.jwt_secret. Use --read-only with --portfolio to
share a portfolio without allowing changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := common.LoadConfig(app.ResolveConfigPath(root.configPath))
			if err != nil {
				return err
			}
			tok, err := server.IssueToken([]byte(config.Auth.JWTSecret), subject, portfolios, readOnly, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (user ID)")
	cmd.Flags().StringSliceVar(&portfolios, "portfolio", nil, "limit the token to these portfolios")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "deny all changes")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime; 0 never expires")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
