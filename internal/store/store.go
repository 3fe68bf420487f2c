// Package store defines the persistence interfaces for the portfolio ledger.
// Implementations include PostgreSQL, SQLite, in-memory (for testing), and
// a Redis read-through cache for latest prices.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/model"
)

// ErrNotFound is returned when a holding or price does not exist.
var ErrNotFound = errors.New("store: not found")

// PriceStore is the append-only price history.
type PriceStore interface {
	// LatestPrice returns the snapshot with the greatest timestamp for the
	// ticker; ties go to the most recently inserted one.
	LatestPrice(ctx context.Context, ticker string) (*model.PriceSnapshot, error)

	// LatestPrices returns the latest snapshot of every ticker, sorted by ticker.
	LatestPrices(ctx context.Context) ([]model.PriceSnapshot, error)

	// AppendPrice inserts a snapshot and assigns its Seq.
	AppendPrice(ctx context.Context, snap *model.PriceSnapshot) error
}

// LedgerStore holds current holdings, the CASH row and the orders table.
// Writes only go through Update or Commit.
type LedgerStore interface {
	// GetHolding returns the holding for ticker or ErrNotFound.
	GetHolding(ctx context.Context, ticker string) (*model.Holding, error)

	// GetCash returns the CASH balance, zero if the row does not exist.
	GetCash(ctx context.Context) (decimal.Decimal, error)

	// ListHoldings returns every holding, CASH included, from one consistent read.
	ListHoldings(ctx context.Context) ([]model.Holding, error)

	// Commit applies c atomically: either every change is visible to later
	// readers or none is.
	Commit(ctx context.Context, c *Commit) error

	// Update runs fn inside one transaction that holds the ledger write
	// lock for its whole duration, so a read-validate-write in fn cannot
	// interleave with another writer, including one in another process
	// sharing the database. Changes staged with tx.Apply are committed only
	// if fn returns nil. fn's error is returned unwrapped. fn must only
	// reach the ledger through tx; other calls on the store may block until
	// Update returns.
	Update(ctx context.Context, fn func(tx LedgerTx) error) error

	// ListOrders returns all orders in insertion order.
	ListOrders(ctx context.Context) ([]model.Order, error)
}

// LedgerTx is the view of the ledger inside Update. Reads see the locked
// state; Apply stages a change set for the transaction's commit.
type LedgerTx interface {
	GetHolding(ctx context.Context, ticker string) (*model.Holding, error)
	GetCash(ctx context.Context) (decimal.Decimal, error)
	Apply(ctx context.Context, c *Commit) error
}

// Store is a backend that serves both prices and the ledger.
type Store interface {
	PriceStore
	LedgerStore
	Close() error
}

// Commit is one atomic ledger mutation.
type Commit struct {
	Upserts []model.Holding  // non-cash holdings to insert or replace
	Deletes []string         // non-cash tickers to remove
	Cash    *decimal.Decimal // new CASH balance, nil to leave untouched
	Order   *model.Order     // order to append, nil for cash adjustments
}

// Validate rejects commits that would break the holdings invariants.
func (c *Commit) Validate() error {
	for _, h := range c.Upserts {
		if h.Ticker == "" || h.Ticker == model.CashTicker || h.Kind == model.Cash {
			return errors.New("store: commit upsert must be a non-cash holding")
		}
		if !h.Quantity.IsPositive() {
			return errors.New("store: commit upsert quantity must be positive")
		}
	}
	for _, t := range c.Deletes {
		if t == model.CashTicker {
			return errors.New("store: commit cannot delete the CASH row")
		}
	}
	if c.Cash != nil && c.Cash.IsNegative() {
		return errors.New("store: commit cash balance must not be negative")
	}
	return nil
}
