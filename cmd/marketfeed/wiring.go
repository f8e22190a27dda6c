package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/market-feed/internal/config"
	"github.com/atmx/market-feed/internal/feed"
	"github.com/atmx/market-feed/internal/instrument"
	"github.com/atmx/market-feed/internal/model"
	"github.com/atmx/market-feed/internal/notify"
	"github.com/atmx/market-feed/internal/pricing"
	"github.com/atmx/market-feed/internal/store"
)

// openStore picks PostgreSQL (optionally behind Redis) when a database URL is
// set, and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store (journal will not persist)")
		return store.NewMemoryStore(cfg.JournalSize), func() {}, nil
	}

	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
	}
	logger.Info("connected to PostgreSQL")
	var st store.Store = pg

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		logger.Info("Redis cache enabled")
	}
	return st, closeAll, nil
}

// loadDictionary reads the dictionary file when given. Otherwise it uses the
// store's entries, falling back to the built-in set. The result is upserted
// into the store either way.
func loadDictionary(ctx context.Context, path string, st store.Store) ([]model.InstrumentDef, error) {
	var defs []model.InstrumentDef
	switch {
	case path != "":
		d, err := store.LoadDictionary(path)
		if err != nil {
			return nil, err
		}
		defs = d
	default:
		d, err := st.ListInstruments(ctx)
		if err != nil {
			return nil, fmt.Errorf("list instruments: %w", err)
		}
		defs = d
	}
	if len(defs) == 0 {
		defs = store.DefaultDictionary()
	}
	if err := store.Seed(ctx, st, defs); err != nil {
		return nil, fmt.Errorf("seed dictionary: %w", err)
	}
	return defs, nil
}

// buildSinks assembles the notification fan-out. The returned func closes
// file and broker outputs.
func buildSinks(cfg *config.Config, hub *notify.Hub, journal *notify.JournalSink, logger *slog.Logger) (notify.Fanout, func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("closing output failed", "err", err)
			}
		}
	}

	sinks := notify.Fanout{notify.LogSink{Logger: logger}}

	switch cfg.Output.Type {
	case config.OutFile:
		fs, err := notify.NewFileSink(notify.FileOptions{
			Path:       cfg.Output.Path,
			MaxSizeMB:  cfg.Output.MaxSizeMB,
			MaxBackups: cfg.Output.MaxBackups,
			MaxAgeDays: cfg.Output.MaxAgeDays,
			Compress:   cfg.Output.Compress,
		})
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, fs.Close)
		sinks = append(sinks, fs)
	default:
		sinks = append(sinks, notify.NewWriterSink(os.Stdout))
	}

	sinks = append(sinks, hub, journal)

	if cfg.AMQP.URL != "" {
		pub, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, pub.Close)
		sinks = append(sinks, pub)
		logger.Info("publishing to rabbitmq", "exchange", cfg.AMQP.Exchange)
	}
	return sinks, closeAll, nil
}

// buildRegistry registers one instrument per dictionary entry. Duplicate
// identifiers abort startup.
func buildRegistry(name string, defs []model.InstrumentDef, sink feed.Notifier, logger *slog.Logger) (*feed.Registry, error) {
	reg := feed.New(name, sink, logger)
	for _, d := range defs {
		if err := reg.Register(instrument.New(d.Kind, d.ID)); err != nil {
			return nil, err
		}
	}
	logger.Info("registry built", "feed", name, "instruments", reg.Len())
	return reg, nil
}

func buildFetcher(cfg config.PricingConfig) (pricing.Fetcher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return pricing.NewFetcher(cfg.Provider, cfg.APIKey, &http.Client{Timeout: cfg.Timeout})
}

// subscribeAll subscribes each identifier independently. Unknown identifiers
// are reported and skipped. When a fetcher is set, a reference quote is
// logged first; it never changes instrument state.
func subscribeAll(ctx context.Context, reg *feed.Registry, ids []string, fetcher pricing.Fetcher, timeout time.Duration, logger *slog.Logger) {
	for _, id := range ids {
		if fetcher != nil {
			fctx, cancel := context.WithTimeout(ctx, timeout)
			rec, err := fetcher.Fetch(fctx, id)
			cancel()
			if err != nil {
				logger.Warn("reference quote unavailable", "instrument", id, "err", err)
			} else {
				logger.Info("reference quote", "instrument", id, "source", rec.Source,
					"date", rec.Date.Format(time.DateOnly), "close", rec.Close.String())
			}
		}
		if _, err := reg.Subscribe(id); err != nil {
			logger.Error("subscribe failed", "instrument", id, "err", err)
		}
	}
}

func priceSource(name string, defs []model.InstrumentDef) feed.PriceSource {
	if name == "walk" {
		return feed.NewRandomWalk(defs)
	}
	return feed.UniformSource{Max: 1000}
}

func logReport(logger *slog.Logger, report feed.Report, err error) {
	ids := make([]string, 0, len(report.Ticks))
	for id := range report.Ticks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		logger.Info("instrument finished",
			"instrument", id,
			"state", report.States[id].String(),
			"ticks", report.Ticks[id],
			"updates", report.Updates[id],
		)
	}
	if err != nil {
		logger.Warn("simulation ended with faults", "faults", report.FaultCount(), "err", err)
		return
	}
	logger.Info("simulation complete", "elapsed", report.Elapsed, "loops", report.Loops)
}
