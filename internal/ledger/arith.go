package ledger

import "github.com/shopspring/decimal"

// Rounding policy shared by settlement and valuation.
const (
	// CostScale is the number of fractional digits kept on average cost.
	CostScale int32 = 12

	// PercentScale is the number of fractional digits on P&L percentages.
	PercentScale int32 = 4
)

var hundred = decimal.NewFromInt(100)

// WeightedAvgCost is the incremental weighted-average cost basis:
//
//	(oldQty*oldAvg + addQty*price) / (oldQty + addQty)
//
// rounded half-up to CostScale. An empty existing position yields price.
func WeightedAvgCost(oldQty, oldAvg, addQty, price decimal.Decimal) decimal.Decimal {
	total := oldQty.Add(addQty)
	if oldQty.IsZero() || total.IsZero() {
		return price
	}
	return oldQty.Mul(oldAvg).Add(addQty.Mul(price)).DivRound(total, CostScale)
}

// percentChange returns num/den*100 rounded to PercentScale, zero when den is zero.
func percentChange(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Mul(hundred).DivRound(den, PercentScale)
}
