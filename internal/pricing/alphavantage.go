package pricing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/market-feed/internal/model"
)

// DefaultAlphaVantageURL is the Alpha Vantage query endpoint.
const DefaultAlphaVantageURL = "https://www.alphavantage.co/query"

// AlphaVantage queries TIME_SERIES_DAILY and keeps the most recent day.
type AlphaVantage struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type alphaVantageDay struct {
	Open  decimal.Decimal `json:"1. open"`
	High  decimal.Decimal `json:"2. high"`
	Low   decimal.Decimal `json:"3. low"`
	Close decimal.Decimal `json:"4. close"`
}

type alphaVantageResponse struct {
	Series       map[string]alphaVantageDay `json:"Time Series (Daily)"`
	ErrorMessage string                     `json:"Error Message"`
	Note         string                     `json:"Note"`
	Information  string                     `json:"Information"`
}

func (a *AlphaVantage) Fetch(ctx context.Context, id string) (model.PriceRecord, error) {
	rec, err := a.fetch(ctx, id)
	return observe(ProviderAlphaVantage, rec, err)
}

func (a *AlphaVantage) fetch(ctx context.Context, id string) (model.PriceRecord, error) {
	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY")
	q.Set("symbol", Ticker(id))
	q.Set("apikey", a.APIKey)

	var resp alphaVantageResponse
	if err := getJSON(ctx, a.Client, a.BaseURL+"?"+q.Encode(), &resp); err != nil {
		return model.PriceRecord{}, err
	}
	// Rate limits and bad symbols come back as 200 with a message field.
	for _, msg := range []string{resp.ErrorMessage, resp.Note, resp.Information} {
		if msg != "" {
			return model.PriceRecord{}, fmt.Errorf("provider message: %s", msg)
		}
	}
	if len(resp.Series) == 0 {
		return model.PriceRecord{}, fmt.Errorf("%w: %s", ErrNoData, id)
	}

	// Dates are YYYY-MM-DD, so the lexical maximum is the latest day.
	var latest string
	for date := range resp.Series {
		if date > latest {
			latest = date
		}
	}
	day := resp.Series[latest]
	date, err := time.Parse("2006-01-02", latest)
	if err != nil {
		return model.PriceRecord{}, fmt.Errorf("parse date %q: %w", latest, err)
	}
	return model.PriceRecord{
		Symbol: id,
		Source: ProviderAlphaVantage,
		Date:   date,
		Open:   day.Open,
		High:   day.High,
		Low:    day.Low,
		Close:  day.Close,
	}, nil
}
