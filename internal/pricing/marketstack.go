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

// DefaultMarketstackURL is the Marketstack v1 API root.
const DefaultMarketstackURL = "http://api.marketstack.com/v1/"

// Marketstack queries the /eod endpoint.
type Marketstack struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type marketstackResponse struct {
	Data []struct {
		Symbol string          `json:"symbol"`
		Name   string          `json:"name"`
		Date   string          `json:"date"`
		Open   decimal.Decimal `json:"open"`
		High   decimal.Decimal `json:"high"`
		Low    decimal.Decimal `json:"low"`
		Close  decimal.Decimal `json:"close"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (m *Marketstack) Fetch(ctx context.Context, id string) (model.PriceRecord, error) {
	rec, err := m.fetch(ctx, id)
	return observe(ProviderMarketstack, rec, err)
}

func (m *Marketstack) fetch(ctx context.Context, id string) (model.PriceRecord, error) {
	q := url.Values{}
	q.Set("access_key", m.APIKey)
	q.Set("symbols", Ticker(id))
	q.Set("limit", "1")

	var resp marketstackResponse
	if err := getJSON(ctx, m.Client, m.BaseURL+"eod?"+q.Encode(), &resp); err != nil {
		return model.PriceRecord{}, err
	}
	if resp.Error != nil {
		return model.PriceRecord{}, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return model.PriceRecord{}, fmt.Errorf("%w: %s", ErrNoData, id)
	}

	d := resp.Data[0]
	date, err := parseMarketstackDate(d.Date)
	if err != nil {
		return model.PriceRecord{}, fmt.Errorf("parse date %q: %w", d.Date, err)
	}
	return model.PriceRecord{
		Symbol: id,
		Name:   d.Name,
		Source: ProviderMarketstack,
		Date:   date,
		Open:   d.Open,
		High:   d.High,
		Low:    d.Low,
		Close:  d.Close,
	}, nil
}

// Marketstack dates look like 2024-01-02T00:00:00+0000.
func parseMarketstackDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04:05-0700", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	return t.UTC(), err
}
