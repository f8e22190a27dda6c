// Package pricing fetches end-of-day reference prices from external APIs.
// Results are informational; they never feed live instrument state.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atmx/market-feed/internal/metrics"
	"github.com/atmx/market-feed/internal/model"
	"github.com/atmx/market-feed/internal/ric"
)

var (
	// ErrFetch wraps every failure to obtain a price record.
	ErrFetch = errors.New("pricing: fetch failed")

	// ErrNoData is returned when the provider answered but had no quote.
	ErrNoData = errors.New("pricing: no data for symbol")
)

// Fetcher retrieves the latest end-of-day record for an identifier.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (model.PriceRecord, error)
}

// Provider names accepted by NewFetcher.
const (
	ProviderMarketstack  = "marketstack"
	ProviderAlphaVantage = "alphavantage"
)

// NewFetcher builds the client for provider. A nil client gets a 10s timeout.
func NewFetcher(provider, apiKey string, client *http.Client) (Fetcher, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("pricing: %s needs an api key", provider)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	switch strings.ToLower(provider) {
	case ProviderMarketstack:
		return &Marketstack{BaseURL: DefaultMarketstackURL, APIKey: apiKey, Client: client}, nil
	case ProviderAlphaVantage:
		return &AlphaVantage{BaseURL: DefaultAlphaVantageURL, APIKey: apiKey, Client: client}, nil
	default:
		return nil, fmt.Errorf("pricing: unknown provider %q", provider)
	}
}

// Ticker maps an identifier to the symbol price APIs expect: the code of an
// exchange-qualified equity ("MSFT.O" -> "MSFT"), otherwise the identifier.
func Ticker(id string) string {
	r, err := ric.Parse(id)
	if err != nil || r.Kind != model.KindEquity {
		return id
	}
	return r.Code
}

// getJSON performs a GET and decodes the body into dst.
func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// observe records the outcome of one fetch and wraps failures in ErrFetch.
func observe(source string, rec model.PriceRecord, err error) (model.PriceRecord, error) {
	if err != nil {
		metrics.PriceFetches.WithLabelValues(source, "error").Inc()
		if errors.Is(err, ErrFetch) {
			return model.PriceRecord{}, err
		}
		return model.PriceRecord{}, fmt.Errorf("%w: %s: %w", ErrFetch, source, err)
	}
	metrics.PriceFetches.WithLabelValues(source, "ok").Inc()
	return rec, nil
}
