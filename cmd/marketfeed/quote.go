package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/atmx/market-feed/internal/pricing"
)

func newQuoteCmd(a *app) *cobra.Command {
	var provider, apiKey string
	cmd := &cobra.Command{
		Use:   "quote ID [ID...]",
		Short: "Fetch end-of-day reference prices",
		Example: `  marketfeed quote MSFT.O TOTF.PA --provider marketstack
  ALPHAVANTAGE_API_KEY=... marketfeed quote MSFT.O --provider alphavantage`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := a.cfg.Pricing
			if cmd.Flags().Changed("provider") {
				pc.Provider = provider
			}
			if cmd.Flags().Changed("api-key") {
				pc.APIKey = apiKey
			}
			fetcher, err := pricing.NewFetcher(pc.Provider, pc.APIKey, &http.Client{Timeout: pc.Timeout})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			var errs []error
			for _, id := range args {
				rec, err := fetcher.Fetch(ctx, id)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "marketstack or alphavantage")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "provider API key")
	return cmd
}
