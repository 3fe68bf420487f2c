package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/metrics"
	"github.com/peterluvCS/portfolio-manager/internal/model"
	"github.com/peterluvCS/portfolio-manager/internal/store"
)

// SettleBuy buys quantity of ticker at the current market price, provided
// the market price does not exceed limitPrice and cash covers the cost.
func (e *Engine) SettleBuy(ctx context.Context, ticker string, quantity, limitPrice decimal.Decimal) (*model.ExecutionResult, error) {
	return e.settle(ctx, model.Buy, ticker, quantity, limitPrice)
}

// SettleSell sells quantity of ticker at the current market price, provided
// the market price is at least limitPrice and the position covers quantity.
func (e *Engine) SettleSell(ctx context.Context, ticker string, quantity, limitPrice decimal.Decimal) (*model.ExecutionResult, error) {
	return e.settle(ctx, model.Sell, ticker, quantity, limitPrice)
}

func (e *Engine) settle(ctx context.Context, side model.Side, ticker string, quantity, limitPrice decimal.Decimal) (*model.ExecutionResult, error) {
	start := time.Now()
	defer func() {
		metrics.SettlementLatency.WithLabelValues(side.String()).Observe(time.Since(start).Seconds())
	}()

	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if err := validateTrade(ticker, quantity); err != nil {
		return nil, e.reject(side, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.marketPrice(ctx, ticker)
	if err != nil {
		return nil, e.reject(side, err)
	}
	market := snap.Price

	// The caller's price only bounds the trade; execution is at market.
	if (side == model.Buy && limitPrice.LessThan(market)) ||
		(side == model.Sell && limitPrice.GreaterThan(market)) {
		return nil, e.reject(side, priceRejected(ticker, side, limitPrice, market))
	}

	var res *model.ExecutionResult
	err = e.update(ctx, ticker, "commit settlement", func(tx store.LedgerTx) error {
		var err error
		if side == model.Buy {
			res, err = e.executeBuy(ctx, tx, snap, quantity)
		} else {
			res, err = e.executeSell(ctx, tx, snap, quantity)
		}
		return err
	})
	if err != nil {
		return nil, e.reject(side, err)
	}
	res.RequestedPrice = limitPrice

	notional := quantity.Mul(market)
	metrics.TradesTotal.WithLabelValues(side.String()).Inc()
	metrics.TradeVolume.WithLabelValues(ticker, side.String()).Add(notional.InexactFloat64())
	metrics.CashBalance.Set(res.RemainingCash.InexactFloat64())

	e.log.Info().
		Str("order_id", res.OrderID).
		Str("side", side.String()).
		Str("ticker", ticker).
		Str("qty", quantity.String()).
		Str("price", market.String()).
		Str("limit", limitPrice.String()).
		Str("cash", res.RemainingCash.String()).
		Msg("trade settled")

	return res, nil
}

func validateTrade(ticker string, quantity decimal.Decimal) error {
	switch {
	case ticker == "":
		return invalidRequest(ticker, "ticker is required")
	case ticker == model.CashTicker:
		return invalidRequest(ticker, "CASH cannot be traded")
	case !quantity.IsPositive():
		return invalidRequest(ticker, "quantity must be positive, got %s", quantity)
	}
	return nil
}

func (e *Engine) executeBuy(ctx context.Context, tx store.LedgerTx, snap *model.PriceSnapshot, quantity decimal.Decimal) (*model.ExecutionResult, error) {
	ticker, market := snap.Ticker, snap.Price

	cash, err := e.cash(ctx, tx)
	if err != nil {
		return nil, err
	}
	cost := quantity.Mul(market)
	if cash.LessThan(cost) {
		return nil, insufficientCash(ticker, cost, cash)
	}

	existing, err := e.holding(ctx, tx, ticker)
	if err != nil {
		return nil, err
	}
	next := model.Holding{Ticker: ticker, Quantity: quantity, AvgCost: market, Kind: snap.Kind}
	if existing != nil {
		next.Quantity = existing.Quantity.Add(quantity)
		next.AvgCost = WeightedAvgCost(existing.Quantity, existing.AvgCost, quantity, market)
		next.Kind = existing.Kind
	}

	remaining := cash.Sub(cost)
	order := e.newOrder(model.Buy, next.Ticker, quantity, market, next.Kind)
	if err := e.commit(ctx, tx, ticker, &store.Commit{
		Upserts: []model.Holding{next},
		Cash:    &remaining,
		Order:   order,
	}); err != nil {
		return nil, err
	}

	return &model.ExecutionResult{
		OrderID:        order.ID,
		Side:           model.Buy,
		Ticker:         ticker,
		Quantity:       quantity,
		ExecutionPrice: market,
		MarketPrice:    market,
		TotalCost:      cost,
		RemainingCash:  remaining,
	}, nil
}

func (e *Engine) executeSell(ctx context.Context, tx store.LedgerTx, snap *model.PriceSnapshot, quantity decimal.Decimal) (*model.ExecutionResult, error) {
	ticker, market := snap.Ticker, snap.Price

	existing, err := e.holding(ctx, tx, ticker)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, insufficientHoldings(ticker, quantity, decimal.Zero)
	}
	if existing.Quantity.LessThan(quantity) {
		return nil, insufficientHoldings(ticker, quantity, existing.Quantity)
	}

	cash, err := e.cash(ctx, tx)
	if err != nil {
		return nil, err
	}
	proceeds := quantity.Mul(market)
	remaining := cash.Add(proceeds)

	c := &store.Commit{Cash: &remaining}
	left := existing.Quantity.Sub(quantity)
	if left.IsZero() {
		c.Deletes = []string{ticker}
	} else {
		// Selling never moves the cost basis.
		c.Upserts = []model.Holding{{Ticker: ticker, Quantity: left, AvgCost: existing.AvgCost, Kind: existing.Kind}}
	}
	c.Order = e.newOrder(model.Sell, ticker, quantity, market, existing.Kind)
	if err := e.commit(ctx, tx, ticker, c); err != nil {
		return nil, err
	}

	return &model.ExecutionResult{
		OrderID:        c.Order.ID,
		Side:           model.Sell,
		Ticker:         ticker,
		Quantity:       quantity,
		ExecutionPrice: market,
		MarketPrice:    market,
		TotalProceeds:  proceeds,
		RemainingCash:  remaining,
	}, nil
}

func (e *Engine) newOrder(side model.Side, ticker string, quantity, price decimal.Decimal, kind model.AssetKind) *model.Order {
	return &model.Order{
		ID:             e.newID(),
		Ticker:         ticker,
		Side:           side,
		Quantity:       quantity,
		ExecutionPrice: price,
		Kind:           kind,
		Timestamp:      e.now(),
	}
}

func (e *Engine) commit(ctx context.Context, tx store.LedgerTx, ticker string, c *store.Commit) error {
	if err := tx.Apply(ctx, c); err != nil {
		return storageFailure(ticker, "commit settlement", err)
	}
	return nil
}

// reject records a failed trade and passes err through.
func (e *Engine) reject(side model.Side, err error) error {
	metrics.TradeRejections.WithLabelValues(side.String(), reason(err)).Inc()

	ev := e.log.Info()
	if errors.Is(err, ErrStorageFailure) {
		ev = e.log.Error()
	}
	var le *Error
	if errors.As(err, &le) {
		ev = ev.Str("ticker", le.Ticker)
	}
	ev.Err(err).Str("side", side.String()).Msg("trade rejected")
	return err
}
