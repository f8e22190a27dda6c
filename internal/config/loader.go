package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds a configuration from defaults, the YAML file at path (skipped
// when path is empty) and environment overrides. ${VAR} references in the
// file are expanded before parsing.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides fields from well-known environment variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	fail := func(key string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("env %s: %w", key, err)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = d
		}
	}

	boolean("DEBUG", &c.Debug)
	integer("VERBOSITY", &c.Verbosity)

	str("FEED_NAME", &c.Feed.Name)
	integer("FEED_LOOPS", &c.Feed.Loops)
	integer("FEED_CONCURRENCY", &c.Feed.Concurrency)
	duration("FEED_MAX_DELAY", &c.Feed.MaxDelay)
	str("FEED_SOURCE", &c.Feed.Source)
	str("DICTIONARY_PATH", &c.Feed.Dictionary)
	if v, ok := lookup("FEED_RATE"); ok && v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			fail("FEED_RATE", err)
		} else {
			c.Feed.Rate = r
		}
	}
	if v, ok := lookup("FEED_SUBSCRIBE"); ok && v != "" {
		c.Feed.Subscribe = SplitList(v)
	}

	if v, ok := lookup("OUT_TYPE"); ok && v != "" {
		if err := c.Output.Type.Set(v); err != nil {
			fail("OUT_TYPE", err)
		}
	}
	str("OUT_PATH", &c.Output.Path)
	str("LOG_FILE", &c.Output.LogFile)

	str("HTTP_ADDR", &c.HTTP.Addr)
	if port, ok := lookup("PORT"); ok && port != "" && c.HTTP.Addr == "" {
		c.HTTP.Addr = ":" + port
	}

	boolean("EXCHANGE_ENABLED", &c.Exchange.Enabled)
	str("EXCHANGE_ADDR", &c.Exchange.Addr)
	integer("EXCHANGE_POOL_SIZE", &c.Exchange.PoolSize)

	str("DATABASE_URL", &c.Store.DatabaseURL)
	str("REDIS_URL", &c.Store.RedisURL)
	boolean("DATABASE_MIGRATE", &c.Store.Migrate)

	str("AMQP_URL", &c.AMQP.URL)
	str("AMQP_EXCHANGE", &c.AMQP.Exchange)

	boolean("PRICE_API_ENABLED", &c.Pricing.Enabled)
	str("PRICE_API_PROVIDER", &c.Pricing.Provider)
	str("PRICE_API_KEY", &c.Pricing.APIKey)
	if c.Pricing.APIKey == "" {
		switch strings.ToLower(c.Pricing.Provider) {
		case "alphavantage":
			str("ALPHAVANTAGE_API_KEY", &c.Pricing.APIKey)
		default:
			str("MARKETSTACK_API_KEY", &c.Pricing.APIKey)
		}
	}

	return firstErr
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
