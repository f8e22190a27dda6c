// Package config holds the market feed configuration: defaults, an optional
// YAML file with ${VAR} expansion, and environment overrides. CLI flags are
// applied on top by cmd/marketfeed.
package config

import (
	"fmt"
	"strings"
	"time"
)

// OutType selects where notifications are written.
type OutType int

const (
	OutStdout OutType = iota
	OutFile
)

// ParseOutType accepts "-" or "stdout" and "f" or "file".
func ParseOutType(s string) (OutType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "-", "stdout":
		return OutStdout, nil
	case "f", "file":
		return OutFile, nil
	default:
		return OutStdout, fmt.Errorf("output type should be '-' or 'f', but is '%s'", s)
	}
}

func (o OutType) String() string {
	if o == OutFile {
		return "file"
	}
	return "stdout"
}

// Set and Type make OutType usable as a command-line flag value.
func (o *OutType) Set(s string) error {
	v, err := ParseOutType(s)
	if err != nil {
		return err
	}
	*o = v
	return nil
}

func (o *OutType) Type() string { return "outtype" }

func (o OutType) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *OutType) UnmarshalText(b []byte) error { return o.Set(string(b)) }

// Config is the full service configuration.
type Config struct {
	Debug     bool `yaml:"debug"`
	Verbosity int  `yaml:"verbosity"`

	Feed     FeedConfig     `yaml:"feed"`
	Output   OutputConfig   `yaml:"output"`
	HTTP     HTTPConfig     `yaml:"http"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Store    StoreConfig    `yaml:"store"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Pricing  PricingConfig  `yaml:"pricing"`
}

// FeedConfig controls the registry and the tick simulation.
type FeedConfig struct {
	Name        string        `yaml:"name"`
	Loops       int           `yaml:"loops"`
	Rate        float64       `yaml:"rate"`      // average updates/sec per instrument; 0 uses MaxDelay
	MaxDelay    time.Duration `yaml:"max_delay"` // upper bound of the random pause before each tick
	Concurrency int           `yaml:"concurrency"`
	Subscribe   []string      `yaml:"subscribe"`
	Dictionary  string        `yaml:"dictionary"` // YAML/JSON dictionary file; empty uses the built-in set
	Source      string        `yaml:"source"`     // "uniform" or "walk"
}

// TickDelay returns the upper bound of the pause before each tick. A positive
// rate r gives an average pause of 1/r seconds.
func (f FeedConfig) TickDelay() time.Duration {
	if f.Rate > 0 {
		return time.Duration(2 * float64(time.Second) / f.Rate)
	}
	return f.MaxDelay
}

// OutputConfig controls the notification and log outputs.
type OutputConfig struct {
	Type       OutType `yaml:"type"`
	Path       string  `yaml:"path"`     // notifications file when Type is file
	LogFile    string  `yaml:"log_file"` // optional rotated log file
	MaxSizeMB  int     `yaml:"max_size_mb"`
	MaxBackups int     `yaml:"max_backups"`
	MaxAgeDays int     `yaml:"max_age_days"`
	Compress   bool    `yaml:"compress"`
}

// HTTPConfig controls the HTTP API. Addr "off" disables it.
type HTTPConfig struct {
	Addr    string        `yaml:"addr"`
	Timeout time.Duration `yaml:"timeout"`
}

// Disabled reports whether the HTTP API is turned off.
func (h HTTPConfig) Disabled() bool { return h.Addr == "off" }

// ExchangeConfig controls the TCP exchange server.
type ExchangeConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr"`
	PoolSize   int           `yaml:"pool_size"`
	Lines      int           `yaml:"lines"`
	LineDelay  time.Duration `yaml:"line_delay"`
	BufferSize int           `yaml:"buffer_size"`
}

// StoreConfig selects the persistence backend. Without a database URL the
// in-memory store is used.
type StoreConfig struct {
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	JournalSize int           `yaml:"journal_size"` // in-memory entries kept per instrument
	Migrate     bool          `yaml:"migrate"`
}

// AMQPConfig enables publishing to RabbitMQ when URL is set.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// PricingConfig enables the external price API lookup before subscribing.
type PricingConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}
