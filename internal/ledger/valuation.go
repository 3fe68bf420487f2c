package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/model"
)

// ComputePortfolio marks every holding to market. A held ticker with no
// price is valued at its average cost and flagged Stale rather than
// failing the whole valuation. Read-only.
func (e *Engine) ComputePortfolio(ctx context.Context) (*model.PortfolioSnapshot, error) {
	holdings, err := e.ledger.ListHoldings(ctx)
	if err != nil {
		return nil, storageFailure("", "load holdings", err)
	}
	snaps, err := e.prices.LatestPrices(ctx)
	if err != nil {
		return nil, storageFailure("", "load prices", err)
	}
	latest := make(map[string]decimal.Decimal, len(snaps))
	for _, s := range snaps {
		latest[s.Ticker] = s.Price
	}

	sort.Slice(holdings, func(i, j int) bool {
		if holdings[i].IsCash() != holdings[j].IsCash() {
			return holdings[i].IsCash()
		}
		return holdings[i].Ticker < holdings[j].Ticker
	})

	out := &model.PortfolioSnapshot{Holdings: make([]model.HoldingValuation, 0, len(holdings))}
	totalCost := decimal.Zero
	positionsValue := decimal.Zero
	cashValue := decimal.Zero

	for _, h := range holdings {
		v := model.HoldingValuation{
			Ticker:            h.Ticker,
			Kind:              h.Kind,
			Quantity:          h.Quantity,
			AvgCost:           h.AvgCost,
			ProfitLoss:        decimal.Zero,
			ProfitLossPercent: decimal.Zero,
		}

		if unit, ok := h.Kind.UnitPrice(); ok {
			v.CurrentPrice = unit
			v.CurrentValue = h.Quantity.Mul(unit)
			cashValue = cashValue.Add(v.CurrentValue)
			out.Holdings = append(out.Holdings, v)
			continue
		}

		price, ok := latest[h.Ticker]
		if !ok {
			e.log.Debug().Str("ticker", h.Ticker).Msg("no price, valuing at average cost")
			price = h.AvgCost
			v.Stale = true
		}
		cost := h.Quantity.Mul(h.AvgCost)
		v.CurrentPrice = price
		v.CurrentValue = h.Quantity.Mul(price)
		v.ProfitLoss = v.CurrentValue.Sub(cost)
		v.ProfitLossPercent = percentChange(price.Sub(h.AvgCost), h.AvgCost)

		totalCost = totalCost.Add(cost)
		positionsValue = positionsValue.Add(v.CurrentValue)
		out.Holdings = append(out.Holdings, v)
	}

	totalPL := positionsValue.Sub(totalCost)
	out.Summary = model.PortfolioSummary{
		TotalCost:              totalCost,
		TotalValue:             positionsValue.Add(cashValue),
		TotalProfitLoss:        totalPL,
		TotalProfitLossPercent: percentChange(totalPL, totalCost),
	}
	return out, nil
}
