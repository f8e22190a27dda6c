package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultFeedName          = "reuters"
	DefaultLoops             = 15
	DefaultMaxDelay          = 1 * time.Second
	DefaultSource            = "uniform"
	DefaultOutputPath        = "feed.jsonl"
	DefaultMaxSizeMB         = 10
	DefaultMaxBackups        = 3
	DefaultMaxAgeDays        = 28
	DefaultHTTPAddr          = ":8080"
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultExchangeAddr      = "127.0.0.1:7878"
	DefaultExchangePoolSize  = 4
	DefaultExchangeLines     = 3
	DefaultExchangeLineDelay = 1 * time.Second
	DefaultExchangeBuffer    = 1024
	DefaultCacheTTL          = 30 * time.Second
	DefaultJournalSize       = 1000
	DefaultAMQPExchange      = "market.feed"
	DefaultPriceProvider     = "marketstack"
	DefaultPriceTimeout      = 10 * time.Second
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	// Feed defaults
	if c.Feed.Name == "" {
		c.Feed.Name = DefaultFeedName
	}
	if c.Feed.Loops == 0 {
		c.Feed.Loops = DefaultLoops
	}
	if c.Feed.MaxDelay == 0 {
		c.Feed.MaxDelay = DefaultMaxDelay
	}
	if c.Feed.Source == "" {
		c.Feed.Source = DefaultSource
	}

	// Output defaults
	if c.Output.Path == "" {
		c.Output.Path = DefaultOutputPath
	}
	if c.Output.MaxSizeMB == 0 {
		c.Output.MaxSizeMB = DefaultMaxSizeMB
	}
	if c.Output.MaxBackups == 0 {
		c.Output.MaxBackups = DefaultMaxBackups
	}
	if c.Output.MaxAgeDays == 0 {
		c.Output.MaxAgeDays = DefaultMaxAgeDays
	}

	// HTTP defaults
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = DefaultHTTPTimeout
	}

	// Exchange defaults
	if c.Exchange.Addr == "" {
		c.Exchange.Addr = DefaultExchangeAddr
	}
	if c.Exchange.PoolSize == 0 {
		c.Exchange.PoolSize = DefaultExchangePoolSize
	}
	if c.Exchange.Lines == 0 {
		c.Exchange.Lines = DefaultExchangeLines
	}
	if c.Exchange.LineDelay == 0 {
		c.Exchange.LineDelay = DefaultExchangeLineDelay
	}
	if c.Exchange.BufferSize == 0 {
		c.Exchange.BufferSize = DefaultExchangeBuffer
	}

	// Store defaults
	if c.Store.CacheTTL == 0 {
		c.Store.CacheTTL = DefaultCacheTTL
	}
	if c.Store.JournalSize == 0 {
		c.Store.JournalSize = DefaultJournalSize
	}

	// AMQP defaults
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = DefaultAMQPExchange
	}

	// Pricing defaults
	if c.Pricing.Provider == "" {
		c.Pricing.Provider = DefaultPriceProvider
	}
	if c.Pricing.Timeout == 0 {
		c.Pricing.Timeout = DefaultPriceTimeout
	}
}
