package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAssetKind = errors.New("model: invalid asset kind")
	ErrInvalidSide      = errors.New("model: invalid side")
)

// AssetKind is the closed set of holding kinds.
type AssetKind uint8

const (
	Stock AssetKind = iota + 1
	Currency
	Cash
)

var assetKindNames = map[AssetKind]string{
	Stock:    "stock",
	Currency: "currency",
	Cash:     "cash",
}

// ParseAssetKind parses the persisted/wire name of a kind.
func ParseAssetKind(s string) (AssetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stock":
		return Stock, nil
	case "currency":
		return Currency, nil
	case "cash":
		return Cash, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAssetKind, s)
}

func (k AssetKind) String() string {
	if name, ok := assetKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("AssetKind(%d)", uint8(k))
}

// Valid reports whether k is one of the declared kinds.
func (k AssetKind) Valid() bool {
	_, ok := assetKindNames[k]
	return ok
}

// UnitPrice returns the fixed price of a unit of this kind, if it has one.
// Only Cash is pinned (to 1).
func (k AssetKind) UnitPrice() (decimal.Decimal, bool) {
	if k == Cash {
		return decimal.NewFromInt(1), true
	}
	return decimal.Zero, false
}

func (k AssetKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAssetKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *AssetKind) UnmarshalText(b []byte) error {
	parsed, err := ParseAssetKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Side is the direction of an order.
type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

// ParseSide accepts "BUY"/"SELL" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", uint8(s))
}

func (s Side) MarshalText() ([]byte, error) {
	if s != Buy && s != Sell {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSide, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
