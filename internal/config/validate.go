package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	if c.Verbosity < 0 {
		return errors.New("verbosity must be >= 0")
	}

	if strings.TrimSpace(c.Feed.Name) == "" {
		return errors.New("feed.name is required")
	}
	if c.Feed.Loops < 1 {
		return errors.New("feed.loops must be >= 1")
	}
	if c.Feed.Rate < 0 {
		return errors.New("feed.rate must be >= 0")
	}
	if c.Feed.Concurrency < 0 {
		return errors.New("feed.concurrency must be >= 0")
	}
	switch c.Feed.Source {
	case "uniform", "walk":
	default:
		return fmt.Errorf("feed.source must be uniform or walk, got %q", c.Feed.Source)
	}

	if c.Output.Type == OutFile && c.Output.Path == "" {
		return errors.New("output.path is required when output.type is file")
	}

	if c.Exchange.Enabled {
		if c.Exchange.Addr == "" {
			return errors.New("exchange.addr is required")
		}
		if c.Exchange.PoolSize < 1 {
			return errors.New("exchange.pool_size must be >= 1")
		}
		if c.Exchange.Lines < 1 {
			return errors.New("exchange.lines must be >= 1")
		}
		if c.Exchange.BufferSize < 1 {
			return errors.New("exchange.buffer_size must be >= 1")
		}
	}

	if c.Store.RedisURL != "" && c.Store.DatabaseURL == "" {
		return errors.New("store.redis_url requires store.database_url")
	}

	if c.Pricing.Enabled {
		switch strings.ToLower(c.Pricing.Provider) {
		case "marketstack", "alphavantage":
		default:
			return fmt.Errorf("pricing.provider must be marketstack or alphavantage, got %q", c.Pricing.Provider)
		}
		if c.Pricing.APIKey == "" {
			return errors.New("pricing.api_key is required when pricing is enabled")
		}
	}

	return nil
}
