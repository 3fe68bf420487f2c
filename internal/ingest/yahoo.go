// Package ingest pulls market quotes from an external provider and appends
// them to the price store, on a cron schedule or on demand.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest market price for one provider symbol.
type Quote struct {
	Symbol string
	Name   string
	Price  decimal.Decimal
	Time   time.Time // zero when the provider did not report one
}

// Fetcher retrieves the latest quote for a provider symbol.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol string) (*Quote, error)
	Name() string
}

const defaultYahooURL = "https://query1.finance.yahoo.com"

// YahooFetcher implements Fetcher using the Yahoo Finance chart API.
type YahooFetcher struct {
	Client  *http.Client
	BaseURL string
}

// NewYahooFetcher creates a Yahoo fetcher, optionally routed through proxyURL.
func NewYahooFetcher(proxyURL string) *YahooFetcher {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &YahooFetcher{
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		BaseURL: defaultYahooURL,
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

// yahooChart is the subset of the chart API response we read.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string          `json:"symbol"`
				ShortName          string          `json:"shortName"`
				LongName           string          `json:"longName"`
				RegularMarketPrice decimal.Decimal `json:"regularMarketPrice"`
				RegularMarketTime  int64           `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (f *YahooFetcher) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d",
		strings.TrimRight(f.BaseURL, "/"), url.PathEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d for %s", resp.StatusCode, symbol)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo: no data returned for %s", symbol)
	}

	meta := chart.Chart.Result[0].Meta
	if !meta.RegularMarketPrice.IsPositive() {
		return nil, fmt.Errorf("yahoo: empty price for %s", symbol)
	}
	q := &Quote{Symbol: symbol, Name: meta.ShortName, Price: meta.RegularMarketPrice}
	if q.Name == "" {
		q.Name = meta.LongName
	}
	if meta.RegularMarketTime > 0 {
		q.Time = time.Unix(meta.RegularMarketTime, 0).UTC()
	}
	return q, nil
}
