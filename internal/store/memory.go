package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	holdings map[string]model.Holding
	prices   map[string][]model.PriceSnapshot
	orders   []model.Order
	priceSeq int64
	orderSeq int64

	// failCommit, when set, makes the next Apply fail before staging anything.
	failCommit error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holdings: make(map[string]model.Holding),
		prices:   make(map[string][]model.PriceSnapshot),
	}
}

// FailNextCommit makes the next Commit return err without mutating state.
func (s *MemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

func (s *MemoryStore) LatestPrice(_ context.Context, ticker string) (*model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := latestOf(s.prices[ticker])
	if !ok {
		return nil, fmt.Errorf("price for %s: %w", ticker, ErrNotFound)
	}
	return &snap, nil
}

func (s *MemoryStore) LatestPrices(_ context.Context) ([]model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PriceSnapshot, 0, len(s.prices))
	for _, history := range s.prices {
		if snap, ok := latestOf(history); ok {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (s *MemoryStore) AppendPrice(_ context.Context, snap *model.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.priceSeq++
	snap.Seq = s.priceSeq
	s.prices[snap.Ticker] = append(s.prices[snap.Ticker], *snap)
	return nil
}

// latestOf picks max timestamp, ties to the highest Seq.
func latestOf(history []model.PriceSnapshot) (model.PriceSnapshot, bool) {
	if len(history) == 0 {
		return model.PriceSnapshot{}, false
	}
	best := history[0]
	for _, p := range history[1:] {
		if p.Timestamp.After(best.Timestamp) ||
			(p.Timestamp.Equal(best.Timestamp) && p.Seq > best.Seq) {
			best = p
		}
	}
	return best, true
}

func (s *MemoryStore) GetHolding(_ context.Context, ticker string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[ticker]
	if !ok {
		return nil, fmt.Errorf("holding %s: %w", ticker, ErrNotFound)
	}
	return &h, nil
}

func (s *MemoryStore) GetCash(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.holdings[model.CashTicker].Quantity, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Holding, 0, len(s.holdings))
	for _, h := range s.holdings {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

// Commit applies the whole change set under the write lock, so readers see
// either the state before or after it.
func (s *MemoryStore) Commit(ctx context.Context, c *Commit) error {
	return s.Update(ctx, func(tx LedgerTx) error { return tx.Apply(ctx, c) })
}

// Update holds the write lock while fn runs and applies the staged change
// sets only after fn succeeds.
func (s *MemoryStore) Update(_ context.Context, fn func(tx LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	for _, c := range tx.staged {
		s.apply(c)
	}
	return nil
}

func (s *MemoryStore) apply(c *Commit) {
	for _, h := range c.Upserts {
		s.holdings[h.Ticker] = h
	}
	for _, t := range c.Deletes {
		delete(s.holdings, t)
	}
	if c.Cash != nil {
		s.holdings[model.CashTicker] = model.CashHolding(*c.Cash)
	}
	if c.Order != nil {
		s.orderSeq++
		o := *c.Order
		o.Seq = s.orderSeq
		c.Order.Seq = o.Seq
		s.orders = append(s.orders, o)
	}
}

// memoryTx reads the maps directly; the owning Update holds s.mu.
type memoryTx struct {
	s      *MemoryStore
	staged []*Commit
}

func (tx *memoryTx) GetHolding(_ context.Context, ticker string) (*model.Holding, error) {
	h, ok := tx.s.holdings[ticker]
	if !ok {
		return nil, fmt.Errorf("holding %s: %w", ticker, ErrNotFound)
	}
	return &h, nil
}

func (tx *memoryTx) GetCash(_ context.Context) (decimal.Decimal, error) {
	return tx.s.holdings[model.CashTicker].Quantity, nil
}

func (tx *memoryTx) Apply(_ context.Context, c *Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := tx.s.failCommit; err != nil {
		tx.s.failCommit = nil
		return err
	}
	tx.staged = append(tx.staged, c)
	return nil
}

func (s *MemoryStore) ListOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Order, len(s.orders))
	copy(out, s.orders)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
