package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/metrics"
	"github.com/peterluvCS/portfolio-manager/internal/store"
)

// Deposit adds amount to the cash balance and returns the new balance.
func (e *Engine) Deposit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return e.adjustCash(ctx, "deposit", amount)
}

// Withdraw removes amount from the cash balance and returns the new balance.
func (e *Engine) Withdraw(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return e.adjustCash(ctx, "withdraw", amount)
}

func (e *Engine) adjustCash(ctx context.Context, direction string, amount decimal.Decimal) (decimal.Decimal, error) {
	balance, err := e.applyCash(ctx, direction, amount)
	result := "ok"
	if err != nil {
		result = reason(err)
		ev := e.log.Info()
		if errors.Is(err, ErrStorageFailure) {
			ev = e.log.Error()
		}
		ev.Err(err).Str("direction", direction).Str("amount", amount.String()).Msg("cash adjustment rejected")
	} else {
		metrics.CashBalance.Set(balance.InexactFloat64())
		e.log.Info().Str("direction", direction).Str("amount", amount.String()).
			Str("cash", balance.String()).Msg("cash adjusted")
	}
	metrics.CashAdjustments.WithLabelValues(direction, result).Inc()
	return balance, err
}

func (e *Engine) applyCash(ctx context.Context, direction string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, invalidRequest("", "invalid amount: must be positive, got %s", amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var next decimal.Decimal
	err := e.update(ctx, "", direction, func(tx store.LedgerTx) error {
		cash, err := e.cash(ctx, tx)
		if err != nil {
			return err
		}
		next = cash.Add(amount)
		if direction == "withdraw" {
			if cash.LessThan(amount) {
				return insufficientCash("", amount, cash)
			}
			next = cash.Sub(amount)
		}
		if err := tx.Apply(ctx, &store.Commit{Cash: &next}); err != nil {
			return storageFailure("", direction, err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return next, nil
}
