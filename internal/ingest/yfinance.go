package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wnjoon/go-yfinance/pkg/ticker"
)

// YFinanceFetcher reads quotes through the go-yfinance client, which
// handles Yahoo's cookie and crumb handshake itself. It has no proxy
// support and the library takes no context, so cancellation is only
// checked before each request.
type YFinanceFetcher struct{}

// NewYFinanceFetcher creates a go-yfinance backed fetcher.
func NewYFinanceFetcher() *YFinanceFetcher { return &YFinanceFetcher{} }

func (*YFinanceFetcher) Name() string { return "yfinance" }

// FetchQuote returns the regular market price, falling back to the pre or
// post market price outside trading hours. The quote time is left zero
// so the job stamps it with the fetch time.
func (*YFinanceFetcher) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("yfinance ticker: %w", err)
	}
	defer t.Close()

	q, err := t.Quote()
	if err != nil {
		return nil, fmt.Errorf("yfinance quote: %w", err)
	}
	if q == nil {
		return nil, errors.New("no data returned")
	}

	var price float64
	switch {
	case q.RegularMarketPrice > 0:
		price = q.RegularMarketPrice
	case q.PreMarketPrice > 0:
		price = q.PreMarketPrice
	case q.PostMarketPrice > 0:
		price = q.PostMarketPrice
	default:
		return nil, errors.New("empty price")
	}
	return &Quote{Symbol: symbol, Price: decimal.NewFromFloat(price)}, nil
}
