// Package model defines the core domain types shared across the portfolio
// manager. All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashTicker is the synthetic holding row that carries the cash balance.
const CashTicker = "CASH"

// Holding is one row of the current holdings table.
// Unique by ticker. Quantity is never negative; a non-cash holding whose
// quantity reaches zero is deleted rather than kept as a zero row.
type Holding struct {
	Ticker   string          `json:"ticker"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avgCost"` // ignored for CASH
	Kind     AssetKind       `json:"assetKind"`
}

// IsCash reports whether h is the cash balance row.
func (h Holding) IsCash() bool {
	return h.Kind == Cash
}

// CashHolding builds the CASH row for the given balance.
func CashHolding(balance decimal.Decimal) Holding {
	return Holding{
		Ticker:   CashTicker,
		Quantity: balance,
		AvgCost:  decimal.Zero,
		Kind:     Cash,
	}
}

// PriceSnapshot is an immutable market quote. Snapshots are append-only;
// the latest one for a ticker has the maximum Timestamp, ties going to the
// highest Seq.
type PriceSnapshot struct {
	Seq       int64           `json:"-"`
	Ticker    string          `json:"ticker"`
	Name      string          `json:"name,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"lastUpdated"`
	Kind      AssetKind       `json:"assetKind"`
}

// Order is an immutable record of a settled trade.
// Once created, orders are never modified or deleted.
type Order struct {
	ID             string          `json:"id"`
	Seq            int64           `json:"-"`
	Ticker         string          `json:"ticker"`
	Side           Side            `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	ExecutionPrice decimal.Decimal `json:"price"`
	Kind           AssetKind       `json:"assetKind"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ExecutionResult is what a successful settlement reports back.
// TotalCost is set for BUY, TotalProceeds for SELL.
type ExecutionResult struct {
	OrderID        string          `json:"orderId"`
	Side           Side            `json:"side"`
	Ticker         string          `json:"ticker"`
	Quantity       decimal.Decimal `json:"quantity"`
	ExecutionPrice decimal.Decimal `json:"executionPrice"`
	MarketPrice    decimal.Decimal `json:"marketPrice"`
	RequestedPrice decimal.Decimal `json:"requestedPrice"`
	TotalCost      decimal.Decimal `json:"totalCost"`
	TotalProceeds  decimal.Decimal `json:"totalProceeds"`
	RemainingCash  decimal.Decimal `json:"remainingCash"`
}

// HoldingValuation is the mark-to-market view of one holding.
type HoldingValuation struct {
	Ticker            string          `json:"ticker"`
	Kind              AssetKind       `json:"assetKind"`
	Quantity          decimal.Decimal `json:"quantity"`
	AvgCost           decimal.Decimal `json:"avgPrice"`
	CurrentPrice      decimal.Decimal `json:"currentPrice"`
	CurrentValue      decimal.Decimal `json:"currentValue"`
	ProfitLoss        decimal.Decimal `json:"profitLoss"`
	ProfitLossPercent decimal.Decimal `json:"profitLossPercent"`
	Stale             bool            `json:"stale,omitempty"` // no price, valued at AvgCost
}

// PortfolioSummary aggregates a valuation. TotalCost and TotalProfitLoss
// cover non-cash holdings only; TotalValue includes cash.
type PortfolioSummary struct {
	TotalCost              decimal.Decimal `json:"totalCost"`
	TotalValue             decimal.Decimal `json:"totalValue"`
	TotalProfitLoss        decimal.Decimal `json:"totalProfitLoss"`
	TotalProfitLossPercent decimal.Decimal `json:"totalProfitLossPercent"`
}

// PortfolioSnapshot is derived on every valuation request and never persisted.
type PortfolioSnapshot struct {
	Holdings []HoldingValuation `json:"portfolio"`
	Summary  PortfolioSummary   `json:"summary"`
}
