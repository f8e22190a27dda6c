package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/market-feed/internal/api"
	"github.com/atmx/market-feed/internal/config"
	"github.com/atmx/market-feed/internal/exchange"
	"github.com/atmx/market-feed/internal/feed"
	"github.com/atmx/market-feed/internal/notify"
	"github.com/atmx/market-feed/internal/workerpool"
)

type runFlags struct {
	feedName    string
	rate        float64
	loops       int
	concurrency int
	subscribe   []string
	outType     config.OutType
	outPath     string
	useAPI      bool
	dictionary  string
	source      string
	httpAddr    string
	exchange    bool
	linger      bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the feed simulation",
		Long: `Run builds the registry from the instrument dictionary, subscribes the
requested identifiers, then ticks every instrument concurrently until each has
completed its loop count. Images and updates go to the configured outputs, the
WebSocket hub, the snapshot journal and, when configured, RabbitMQ.`,
		Example: `  marketfeed run -f reuters -s TOTF.PA -s EUR= -t -
  marketfeed run --loops 50 --rate 10 --exchange --linger`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.apply(cmd, a.cfg)
			if err := a.validate(); err != nil {
				return err
			}
			return a.run(cmd.Context(), f.linger)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.feedName, "feed", "f", "", "datafeed name")
	fl.Float64VarP(&f.rate, "rate", "r", 0, "average updates/sec per instrument (0 uses feed.max_delay)")
	fl.IntVarP(&f.loops, "loops", "l", 0, "ticks per instrument")
	fl.IntVar(&f.concurrency, "concurrency", 0, "max instrument loops running at once (0 = all)")
	fl.StringSliceVarP(&f.subscribe, "subscribe", "s", nil, "instruments to subscribe")
	fl.VarP(&f.outType, "out-type", "t", "type of output: '-' (stdout) or 'f' (file)")
	fl.StringVar(&f.outPath, "out-path", "", "notification file when --out-type=f")
	fl.BoolVar(&f.useAPI, "use-api", false, "fetch a reference quote before subscribing")
	fl.StringVar(&f.dictionary, "dictionary", "", "instrument dictionary file (YAML or JSON)")
	fl.StringVar(&f.source, "source", "", "price source: uniform or walk")
	fl.StringVar(&f.httpAddr, "http", "", "HTTP API listen address ('off' disables)")
	fl.BoolVar(&f.exchange, "exchange", false, "also serve the TCP exchange")
	fl.BoolVar(&f.linger, "linger", false, "keep serving after the simulation finished, until interrupted")
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("feed") {
		cfg.Feed.Name = f.feedName
	}
	if fl.Changed("rate") {
		cfg.Feed.Rate = f.rate
	}
	if fl.Changed("loops") {
		cfg.Feed.Loops = f.loops
	}
	if fl.Changed("concurrency") {
		cfg.Feed.Concurrency = f.concurrency
	}
	if fl.Changed("subscribe") {
		cfg.Feed.Subscribe = f.subscribe
	}
	if fl.Changed("out-type") {
		cfg.Output.Type = f.outType
	}
	if fl.Changed("out-path") {
		cfg.Output.Path = f.outPath
	}
	if fl.Changed("use-api") {
		cfg.Pricing.Enabled = f.useAPI
	}
	if fl.Changed("dictionary") {
		cfg.Feed.Dictionary = f.dictionary
	}
	if fl.Changed("source") {
		cfg.Feed.Source = f.source
	}
	if fl.Changed("http") {
		cfg.HTTP.Addr = f.httpAddr
	}
	if fl.Changed("exchange") {
		cfg.Exchange.Enabled = f.exchange
	}
}

func (a *app) run(parent context.Context, linger bool) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stopSignals := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	cfg, logger := a.cfg, a.logger

	// --- Initialize store and dictionary ---
	st, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	defs, err := loadDictionary(ctx, cfg.Feed.Dictionary, st)
	if err != nil {
		return err
	}

	// --- Outputs ---
	hub := notify.NewHub(256, logger)
	journal := notify.NewJournalSink(st, cfg.Store.JournalSize, logger)
	sinks, closeSinks, err := buildSinks(cfg, hub, journal, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	// --- Registry ---
	reg, err := buildRegistry(cfg.Feed.Name, defs, sinks, logger)
	if err != nil {
		return err
	}

	fetcher, err := buildFetcher(cfg.Pricing)
	if err != nil {
		return err
	}
	subscribeAll(ctx, reg, cfg.Feed.Subscribe, fetcher, cfg.Pricing.Timeout, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		journal.Run(gctx)
		return nil
	})

	// --- HTTP API ---
	if !cfg.HTTP.Disabled() {
		svc := api.NewService(reg, st, fetcher, hub, logger)
		srv := &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      svc.Router(cfg.HTTP.Timeout),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: cfg.HTTP.Timeout + 5*time.Second,
			IdleTimeout:  60 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http api listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// --- Exchange server ---
	if cfg.Exchange.Enabled {
		pool, err := workerpool.New(cfg.Exchange.PoolSize, logger)
		if err != nil {
			return err
		}
		server := exchange.New(exchangeConfig(cfg.Exchange), pool, logger)
		g.Go(func() error {
			defer pool.Close()
			return server.ListenAndServe(gctx)
		})
	}

	// --- Simulation ---
	g.Go(func() error {
		report, err := reg.Start(gctx, feed.Options{
			Loops:       cfg.Feed.Loops,
			MaxDelay:    cfg.Feed.TickDelay(),
			Concurrency: cfg.Feed.Concurrency,
			Source:      priceSource(cfg.Feed.Source, defs),
		})
		logReport(logger, report, err)
		if !linger {
			cancel()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("market-feed stopped")
	return nil
}

func exchangeConfig(c config.ExchangeConfig) exchange.Config {
	return exchange.Config{
		Addr:       c.Addr,
		Lines:      c.Lines,
		LineDelay:  c.LineDelay,
		BufferSize: c.BufferSize,
	}
}
