package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmx/market-feed/internal/exchange"
	"github.com/atmx/market-feed/internal/workerpool"
)

func newExchangeCmd(a *app) *cobra.Command {
	var (
		addr      string
		poolSize  int
		lines     int
		lineDelay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "exchange",
		Short: "Serve the TCP exchange on its own",
		Long: `exchange accepts TCP connections and hands each one to a fixed-size
worker pool. A worker reads one request and answers with numbered lines
"<request>-> line::<n><p>", then closes the connection in both directions.`,
		Example: `  marketfeed exchange --addr 127.0.0.1:7878 --pool-size 4
  marketfeed request PING`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fl := cmd.Flags()
			ec := &a.cfg.Exchange
			ec.Enabled = true
			if fl.Changed("addr") {
				ec.Addr = addr
			}
			if fl.Changed("pool-size") {
				ec.PoolSize = poolSize
			}
			if fl.Changed("lines") {
				ec.Lines = lines
			}
			if fl.Changed("line-delay") {
				ec.LineDelay = lineDelay
			}
			if err := a.validate(); err != nil {
				return err
			}
			return a.serveExchange(cmd.Context())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&addr, "addr", "", "listen address")
	fl.IntVar(&poolSize, "pool-size", 0, "number of workers")
	fl.IntVar(&lines, "lines", 0, "response lines per connection")
	fl.DurationVar(&lineDelay, "line-delay", 0, "pause between response lines")
	return cmd
}

func (a *app) serveExchange(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := workerpool.New(a.cfg.Exchange.PoolSize, a.logger)
	if err != nil {
		return err
	}
	// Close waits for in-flight connections to finish.
	defer pool.Close()

	server := exchange.New(exchangeConfig(a.cfg.Exchange), pool, a.logger)
	return server.ListenAndServe(ctx)
}
