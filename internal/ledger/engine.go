// Package ledger is the portfolio ledger: trade settlement, cash
// adjustment and mark-to-market valuation over a PriceStore and a
// LedgerStore.
//
// All monetary values use shopspring/decimal, never float64 for money.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/metrics"
	"github.com/peterluvCS/portfolio-manager/internal/model"
	"github.com/peterluvCS/portfolio-manager/internal/store"
)

// Engine owns the ledger. Every read-validate-commit sequence runs inside
// one LedgerStore.Update, so trades and cash adjustments never commit
// against stale cash or holdings, even when another process writes to the
// same database. mu queues writers within this process ahead of the store
// lock. Valuation and listing take neither; they rely on the store
// returning consistent reads.
type Engine struct {
	prices store.PriceStore
	ledger store.LedgerStore
	log    zerolog.Logger

	now   func() time.Time
	newID func() string

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for order timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides order ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine creates a ledger engine.
func NewEngine(prices store.PriceStore, ledger store.LedgerStore, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		prices: prices,
		ledger: ledger,
		log:    log.With().Str("component", "ledger").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open makes sure the CASH row exists, seeding it with initialCash the
// first time. An existing balance is left alone.
func (e *Engine) Open(ctx context.Context, initialCash decimal.Decimal) error {
	if initialCash.IsNegative() {
		return invalidRequest("", "initial cash must not be negative")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var existing *model.Holding
	err := e.update(ctx, "", "seed cash", func(tx store.LedgerTx) error {
		h, err := e.holding(ctx, tx, model.CashTicker)
		if err != nil || h != nil {
			existing = h
			return err
		}
		return tx.Apply(ctx, &store.Commit{Cash: &initialCash})
	})
	if err != nil {
		e.log.Error().Err(err).Msg("open ledger failed")
		return err
	}
	if existing != nil {
		metrics.CashBalance.Set(existing.Quantity.InexactFloat64())
		e.log.Info().Str("cash", existing.Quantity.String()).Msg("ledger opened")
		return nil
	}
	metrics.CashBalance.Set(initialCash.InexactFloat64())
	e.log.Info().Str("cash", initialCash.String()).Msg("ledger opened with initial cash")
	return nil
}

// ListOrders returns the order history in insertion order.
func (e *Engine) ListOrders(ctx context.Context) ([]model.Order, error) {
	orders, err := e.ledger.ListOrders(ctx)
	if err != nil {
		return nil, storageFailure("", "list orders", err)
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

// LatestPrices returns the latest snapshot of every ticker, sorted by ticker.
func (e *Engine) LatestPrices(ctx context.Context) ([]model.PriceSnapshot, error) {
	snaps, err := e.prices.LatestPrices(ctx)
	if err != nil {
		return nil, storageFailure("", "load prices", err)
	}
	if snaps == nil {
		snaps = []model.PriceSnapshot{}
	}
	return snaps, nil
}

// marketPrice loads the latest price for ticker, mapping a missing price
// to AssetNotFound.
func (e *Engine) marketPrice(ctx context.Context, ticker string) (*model.PriceSnapshot, error) {
	snap, err := e.prices.LatestPrice(ctx, ticker)
	if errors.Is(err, store.ErrNotFound) {
		return nil, assetNotFound(ticker)
	}
	if err != nil {
		return nil, storageFailure(ticker, "load price", err)
	}
	return snap, nil
}

// update runs fn in one store transaction. Ledger errors returned by fn
// pass through; anything else is a storage failure.
func (e *Engine) update(ctx context.Context, ticker, op string, fn func(tx store.LedgerTx) error) error {
	err := e.ledger.Update(ctx, fn)
	var le *Error
	if err == nil || errors.As(err, &le) {
		return err
	}
	return storageFailure(ticker, op, err)
}

// holding loads a position; a missing one is nil with no error.
func (e *Engine) holding(ctx context.Context, tx store.LedgerTx, ticker string) (*model.Holding, error) {
	h, err := tx.GetHolding(ctx, ticker)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageFailure(ticker, "load holding", err)
	}
	return h, nil
}

func (e *Engine) cash(ctx context.Context, tx store.LedgerTx) (decimal.Decimal, error) {
	c, err := tx.GetCash(ctx)
	if err != nil {
		return decimal.Zero, storageFailure("", "load cash", err)
	}
	return c, nil
}
