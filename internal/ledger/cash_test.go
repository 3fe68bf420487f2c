package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, "100")

	bal, err := e.Deposit(ctx, d("250.50"))
	require.NoError(t, err)
	assertDec(t, "350.50", bal)
	assertDec(t, "350.50", cashOf(t, st))

	orders, err := e.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, "100")

	bal, err := e.Withdraw(ctx, d("100"))
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	// The CASH row survives a zero balance.
	h, err := st.ListHoldings(ctx)
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.True(t, h[0].IsCash())
}

func TestWithdraw_InsufficientCash(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, "100")

	_, err := e.Withdraw(ctx, d("100.01"))
	require.ErrorIs(t, err, ErrInsufficientCash)
	var le *Error
	require.True(t, errors.As(err, &le))
	assertDec(t, "100.01", le.Required)
	assertDec(t, "100", le.Available)
	assertDec(t, "100", cashOf(t, st))
}

func TestCashAdjustment_InvalidAmount(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, "100")

	for _, amt := range []string{"0", "-5"} {
		_, err := e.Deposit(ctx, d(amt))
		assert.ErrorIs(t, err, ErrInvalidRequest)
		_, err = e.Withdraw(ctx, d(amt))
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
	assertDec(t, "100", cashOf(t, st))
}

func TestCashAdjustment_StorageFailure(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t, "100")

	st.FailNextCommit(errors.New("connection reset"))
	_, err := e.Deposit(ctx, d("1"))
	assert.ErrorIs(t, err, ErrStorageFailure)
	assertDec(t, "100", cashOf(t, st))
}
