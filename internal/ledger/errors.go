package ledger

import (
	"errors"
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/model"
)

// Error kinds. Match with errors.Is; recover the payload with errors.As
// into *Error.
var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrAssetNotFound        = errors.New("asset not found")
	ErrPriceRejected        = errors.New("price rejected")
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrStorageFailure       = errors.New("storage failure")
)

// Error is a settlement or cash adjustment failure with enough detail to
// render a message to the user. Which amount fields are meaningful depends
// on Kind.
type Error struct {
	Kind    error  // one of the Err* kinds above
	Ticker  string // empty for cash adjustments
	Message string

	MarketPrice    decimal.Decimal // PriceRejected
	RequestedPrice decimal.Decimal // PriceRejected
	Required       decimal.Decimal // InsufficientCash, InsufficientHoldings
	Available      decimal.Decimal // InsufficientCash, InsufficientHoldings

	Cause error // underlying storage error, if any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ledger: %s: %v", e.Message, e.Cause)
	}
	return "ledger: " + e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func invalidRequest(ticker, format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidRequest, Ticker: ticker, Message: fmt.Sprintf(format, args...)}
}

func assetNotFound(ticker string) *Error {
	return &Error{
		Kind:    ErrAssetNotFound,
		Ticker:  ticker,
		Message: fmt.Sprintf("asset %s not found or no price data", ticker),
	}
}

func priceRejected(ticker string, side model.Side, requested, market decimal.Decimal) *Error {
	relation, verb := "below", "buy"
	if side == model.Sell {
		relation, verb = "above", "sell"
	}
	return &Error{
		Kind:           ErrPriceRejected,
		Ticker:         ticker,
		MarketPrice:    market,
		RequestedPrice: requested,
		Message: fmt.Sprintf("your price (%s) is %s market price (%s), cannot execute %s order",
			requested, relation, market, verb),
	}
}

func insufficientCash(ticker string, required, available decimal.Decimal) *Error {
	return &Error{
		Kind:      ErrInsufficientCash,
		Ticker:    ticker,
		Required:  required,
		Available: available,
		Message: fmt.Sprintf("insufficient cash: need %s, but only have %s",
			usd(required), usd(available)),
	}
}

func insufficientHoldings(ticker string, required, available decimal.Decimal) *Error {
	return &Error{
		Kind:      ErrInsufficientHoldings,
		Ticker:    ticker,
		Required:  required,
		Available: available,
		Message: fmt.Sprintf("insufficient holdings of %s: need %s, but only have %s",
			ticker, required, available),
	}
}

func storageFailure(ticker, op string, cause error) *Error {
	return &Error{
		Kind:    ErrStorageFailure,
		Ticker:  ticker,
		Message: op,
		Cause:   cause,
	}
}

// reason is the metrics label for an error kind.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrAssetNotFound):
		return "asset_not_found"
	case errors.Is(err, ErrPriceRejected):
		return "price_rejected"
	case errors.Is(err, ErrInsufficientCash):
		return "insufficient_cash"
	case errors.Is(err, ErrInsufficientHoldings):
		return "insufficient_holdings"
	default:
		return "storage_failure"
	}
}

// usd formats an amount for messages, e.g. $1,234.50. Sub-cent digits are
// rounded away for display only.
func usd(amount decimal.Decimal) string {
	return money.New(amount.Shift(2).Round(0).IntPart(), money.USD).Display()
}
