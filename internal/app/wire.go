package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/peterluvCS/portfolio-manager/internal/config"
	"github.com/peterluvCS/portfolio-manager/internal/ingest"
	"github.com/peterluvCS/portfolio-manager/internal/ledger"
)

// NewEngine builds the ledger engine over b and seeds the cash row on first
// start.
func NewEngine(ctx context.Context, cfg *config.Config, b *Backend, log zerolog.Logger) (*ledger.Engine, error) {
	engine := ledger.NewEngine(b.Prices, b.Store, log)
	if err := engine.Open(ctx, cfg.Ledger.InitialCash); err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return engine, nil
}

// NewPriceJob builds the price refresh job for the configured catalogue and
// quote provider.
func NewPriceJob(cfg *config.Config, b *Backend, log zerolog.Logger) (*ingest.Job, error) {
	cat, err := cfg.Catalogue()
	if err != nil {
		return nil, fmt.Errorf("instrument catalogue: %w", err)
	}
	var fetcher ingest.Fetcher
	switch cfg.Prices.Provider {
	case "yfinance":
		fetcher = ingest.NewYFinanceFetcher()
	default:
		fetcher = ingest.NewYahooFetcher(cfg.Prices.Proxy)
	}
	return ingest.NewJob(b.Prices, fetcher, cat, log), nil
}
