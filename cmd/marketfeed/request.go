package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmx/market-feed/internal/exchange"
)

func newRequestCmd(a *app) *cobra.Command {
	var (
		addr     string
		maxLines int
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "request [payload]",
		Short: "Send one request to an exchange server and print the reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := "PING"
			if len(args) == 1 {
				payload = args[0]
			}
			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.Exchange.Addr
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			lines, err := exchange.Request(ctx, addr, []byte(payload), maxLines)
			for _, l := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			if err != nil {
				return fmt.Errorf("request %s: %w", addr, err)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&addr, "addr", "", "exchange address (defaults to exchange.addr)")
	fl.IntVar(&maxLines, "max-lines", 0, "stop after this many lines (0 reads until the server closes)")
	fl.DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}
