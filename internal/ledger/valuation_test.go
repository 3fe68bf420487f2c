package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterluvCS/portfolio-manager/internal/model"
	"github.com/peterluvCS/portfolio-manager/internal/store"
)

func TestComputePortfolio(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, "6250")
	setPrice(t, st, "AAPL", "100", t0)
	setPrice(t, st, "WFC", "50", t0)
	_, err := e.SettleBuy(ctx, "AAPL", d("10"), d("100"))
	require.NoError(t, err)
	_, err = e.SettleBuy(ctx, "WFC", d("5"), d("50"))
	require.NoError(t, err)
	setPrice(t, st, "AAPL", "120", t0.Add(time.Hour))

	snap, err := e.ComputePortfolio(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Holdings, 3)

	cash := snap.Holdings[0]
	assert.Equal(t, model.CashTicker, cash.Ticker)
	assertDec(t, "1", cash.CurrentPrice)
	assertDec(t, "5000", cash.CurrentValue)
	assert.True(t, cash.ProfitLoss.IsZero())
	assert.True(t, cash.ProfitLossPercent.IsZero())

	aapl := snap.Holdings[1]
	assert.Equal(t, "AAPL", aapl.Ticker)
	assertDec(t, "120", aapl.CurrentPrice)
	assertDec(t, "1200", aapl.CurrentValue)
	assertDec(t, "200", aapl.ProfitLoss)
	assertDec(t, "20", aapl.ProfitLossPercent)
	assert.False(t, aapl.Stale)

	wfc := snap.Holdings[2]
	assert.Equal(t, "WFC", wfc.Ticker)
	assertDec(t, "250", wfc.CurrentValue)

	assertDec(t, "1250", snap.Summary.TotalCost)
	assertDec(t, "6450", snap.Summary.TotalValue)
	assertDec(t, "200", snap.Summary.TotalProfitLoss)
	assertDec(t, "16", snap.Summary.TotalProfitLossPercent)
}

func TestComputePortfolio_MissingPriceFallsBackToAvgCost(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cash := d("0")
	require.NoError(t, st.Commit(ctx, &store.Commit{
		Upserts: []model.Holding{{Ticker: "DELISTED", Quantity: d("4"), AvgCost: d("25"), Kind: model.Stock}},
		Cash:    &cash,
	}))
	e := NewEngine(st, st, zerolog.Nop())

	snap, err := e.ComputePortfolio(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Holdings, 2)

	h := snap.Holdings[1]
	assert.True(t, h.Stale)
	assertDec(t, "25", h.CurrentPrice)
	assertDec(t, "100", h.CurrentValue)
	assert.True(t, h.ProfitLoss.IsZero())
	assertDec(t, "100", snap.Summary.TotalValue)
	assert.True(t, snap.Summary.TotalProfitLossPercent.IsZero())
}

func TestComputePortfolio_CashOnly(t *testing.T) {
	e, _ := newTestEngine(t, "100000")
	snap, err := e.ComputePortfolio(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Holdings, 1)
	assert.True(t, snap.Summary.TotalCost.IsZero())
	assertDec(t, "100000", snap.Summary.TotalValue)
	assert.True(t, snap.Summary.TotalProfitLoss.IsZero())
	assert.True(t, snap.Summary.TotalProfitLossPercent.IsZero())
}

func TestComputePortfolio_PercentRounding(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, "300")
	setPrice(t, st, "XYZ", "3", t0)
	_, err := e.SettleBuy(ctx, "XYZ", d("1"), d("3"))
	require.NoError(t, err)
	setPrice(t, st, "XYZ", "4", t0.Add(time.Minute))

	snap, err := e.ComputePortfolio(ctx)
	require.NoError(t, err)
	assertDec(t, "33.3333", snap.Holdings[1].ProfitLossPercent)
}

func TestComputePortfolio_Idempotent(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, "10000")
	setPrice(t, st, "AAPL", "187.23", t0)
	setPrice(t, st, "EUR/USD", "1.0841", t0)
	_, err := e.SettleBuy(ctx, "AAPL", d("7"), d("190"))
	require.NoError(t, err)
	_, err = e.SettleBuy(ctx, "EUR/USD", d("1000"), d("1.09"))
	require.NoError(t, err)
	setPrice(t, st, "AAPL", "191.02", t0.Add(time.Minute))

	first, err := e.ComputePortfolio(ctx)
	require.NoError(t, err)
	second, err := e.ComputePortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestComputePortfolio_ReconcilesWithSettlement(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, "10000")
	setPrice(t, st, "XYZ", "3", t0)
	_, err := e.SettleBuy(ctx, "XYZ", d("1"), d("3"))
	require.NoError(t, err)
	setPrice(t, st, "XYZ", "7", t0.Add(time.Minute))
	_, err = e.SettleBuy(ctx, "XYZ", d("2"), d("7"))
	require.NoError(t, err)

	snap, err := e.ComputePortfolio(ctx)
	require.NoError(t, err)
	h, err := st.GetHolding(ctx, "XYZ")
	require.NoError(t, err)

	v := snap.Holdings[1]
	assert.True(t, v.AvgCost.Equal(h.AvgCost))
	assertDec(t, "5.666666666667", v.AvgCost)
	assert.Equal(t, h.Quantity.Mul(h.AvgCost).String(), snap.Summary.TotalCost.String())
	assertDec(t, "9983", cashOf(t, st))
}
