// Package report renders ledger data as markdown for the command line.
package report

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/ingest"
	"github.com/peterluvCS/portfolio-manager/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

// USD formats an amount as dollars rounded to the cent.
func USD(amount decimal.Decimal) string {
	return money.New(amount.Shift(2).Round(0).IntPart(), money.USD).Display()
}

func pct(p decimal.Decimal) string {
	return p.StringFixed(2) + "%"
}

// Portfolio renders a valuation snapshot as a holdings table plus summary.
func Portfolio(snap *model.PortfolioSnapshot) string {
	var b strings.Builder
	b.WriteString("# Portfolio\n\n")
	b.WriteString("| Ticker | Kind | Quantity | Avg cost | Price | Value | P&L | P&L % |\n")
	b.WriteString("|---|---|---:|---:|---:|---:|---:|---:|\n")
	for _, h := range snap.Holdings {
		if h.Kind == model.Cash {
			fmt.Fprintf(&b, "| %s | %s | | | | %s | | |\n", h.Ticker, h.Kind, USD(h.CurrentValue))
			continue
		}
		price := h.CurrentPrice.String()
		if h.Stale {
			price += " *"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			h.Ticker, h.Kind, h.Quantity, h.AvgCost, price,
			USD(h.CurrentValue), USD(h.ProfitLoss), pct(h.ProfitLossPercent))
	}

	s := snap.Summary
	b.WriteString("\n## Summary\n\n")
	fmt.Fprintf(&b, "- Total value: **%s**\n", USD(s.TotalValue))
	fmt.Fprintf(&b, "- Total cost: %s\n", USD(s.TotalCost))
	fmt.Fprintf(&b, "- Profit/loss: %s (%s)\n", USD(s.TotalProfitLoss), pct(s.TotalProfitLossPercent))
	for _, h := range snap.Holdings {
		if h.Stale {
			b.WriteString("\n\\* no market price, valued at average cost\n")
			break
		}
	}
	return b.String()
}

// Orders renders the order history, oldest first.
func Orders(orders []model.Order) string {
	if len(orders) == 0 {
		return "# Orders\n\nNo orders yet.\n"
	}
	var b strings.Builder
	b.WriteString("# Orders\n\n")
	b.WriteString("| Time | Side | Ticker | Quantity | Price | Amount |\n")
	b.WriteString("|---|---|---|---:|---:|---:|\n")
	for _, o := range orders {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			o.Timestamp.Format(timeLayout), o.Side, o.Ticker, o.Quantity, o.ExecutionPrice,
			USD(o.Quantity.Mul(o.ExecutionPrice)))
	}
	return b.String()
}

// Prices renders the latest snapshot of each ticker.
func Prices(prices []model.PriceSnapshot) string {
	if len(prices) == 0 {
		return "# Prices\n\nNo prices recorded.\n"
	}
	var b strings.Builder
	b.WriteString("# Prices\n\n")
	b.WriteString("| Ticker | Name | Price | Updated |\n")
	b.WriteString("|---|---|---:|---|\n")
	for _, p := range prices {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", p.Ticker, p.Name, p.Price, p.Timestamp.Format(timeLayout))
	}
	return b.String()
}

// Execution renders a settled trade.
func Execution(res *model.ExecutionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s %s\n\n", res.Side, res.Ticker)
	fmt.Fprintf(&b, "- Order: `%s`\n", res.OrderID)
	fmt.Fprintf(&b, "- Quantity: %s at %s\n", res.Quantity, res.ExecutionPrice)
	if res.Side == model.Buy {
		fmt.Fprintf(&b, "- Total cost: %s\n", USD(res.TotalCost))
	} else {
		fmt.Fprintf(&b, "- Proceeds: %s\n", USD(res.TotalProceeds))
	}
	fmt.Fprintf(&b, "- Cash left: **%s**\n", USD(res.RemainingCash))
	return b.String()
}

// IngestResults renders the outcome of a price refresh.
func IngestResults(results []ingest.Result) string {
	var b strings.Builder
	b.WriteString("# Price update\n\n")
	b.WriteString("| Ticker | Status | Price | Detail |\n")
	b.WriteString("|---|---|---:|---|\n")
	for _, r := range results {
		price := ""
		if !r.Price.IsZero() {
			price = r.Price.String()
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", r.Ticker, r.Status, price, r.Message)
	}
	return b.String()
}
