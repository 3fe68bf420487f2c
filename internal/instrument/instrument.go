// Package instrument handles ticker parsing, validation, and the catalogue
// of tradable instruments with the symbol each one has at the quote provider.
package instrument

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/peterluvCS/portfolio-manager/internal/model"
)

// Ticker grammars.
// Equities: AAPL, BRK.B, RDS-A. Currency pairs: EUR/USD.
var (
	stockRegex    = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}([.-][A-Z0-9]{1,4})?$`)
	currencyRegex = regexp.MustCompile(`^([A-Z]{3})/([A-Z]{3})$`)
)

var (
	ErrInvalidTicker  = errors.New("instrument: invalid ticker format")
	ErrReservedTicker = errors.New("instrument: ticker is reserved")
	ErrKindMismatch   = errors.New("instrument: asset kind does not match ticker")
	ErrUnknownTicker  = errors.New("instrument: unknown ticker")
)

// Instrument is one tradable ticker.
type Instrument struct {
	Ticker string          `yaml:"ticker" json:"ticker"`
	Kind   model.AssetKind `yaml:"asset_type" json:"assetKind"`
	Symbol string          `yaml:"symbol" json:"symbol"` // provider symbol, e.g. EURUSD=X
}

// ParseTicker normalizes a ticker and infers its asset kind from its shape.
func ParseTicker(ticker string) (string, model.AssetKind, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == model.CashTicker {
		return "", 0, fmt.Errorf("%w: %s", ErrReservedTicker, t)
	}
	if m := currencyRegex.FindStringSubmatch(t); m != nil {
		if m[1] == m[2] {
			return "", 0, fmt.Errorf("%w: %s (same currency on both sides)", ErrInvalidTicker, t)
		}
		return t, model.Currency, nil
	}
	if stockRegex.MatchString(t) {
		return t, model.Stock, nil
	}
	return "", 0, fmt.Errorf("%w: %q (expected SYMBOL or CCY/CCY)", ErrInvalidTicker, ticker)
}

// Validate checks the instrument is self-consistent and fills in defaults.
func (in *Instrument) Validate() error {
	t, kind, err := ParseTicker(in.Ticker)
	if err != nil {
		return err
	}
	if in.Kind == 0 {
		in.Kind = kind
	}
	if in.Kind != kind {
		return fmt.Errorf("%w: %s is %s, declared %s", ErrKindMismatch, t, kind, in.Kind)
	}
	in.Ticker = t
	if in.Symbol == "" {
		in.Symbol = DefaultSymbol(t, kind)
	}
	return nil
}

// DefaultSymbol derives the Yahoo-style provider symbol: equities map to
// themselves, EUR/USD maps to EURUSD=X.
func DefaultSymbol(ticker string, kind model.AssetKind) string {
	if kind == model.Currency {
		return strings.ReplaceAll(ticker, "/", "") + "=X"
	}
	return ticker
}

// Catalogue is the set of instruments the price job tracks.
type Catalogue struct {
	byTicker map[string]Instrument
}

// NewCatalogue validates and indexes instruments.
func NewCatalogue(instruments []Instrument) (*Catalogue, error) {
	c := &Catalogue{byTicker: make(map[string]Instrument, len(instruments))}
	for _, in := range instruments {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byTicker[in.Ticker]; dup {
			return nil, fmt.Errorf("instrument: duplicate ticker %s", in.Ticker)
		}
		c.byTicker[in.Ticker] = in
	}
	return c, nil
}

// DefaultCatalogue is the instrument set the simulator ships with.
func DefaultCatalogue() *Catalogue {
	c, err := NewCatalogue(Defaults())
	if err != nil {
		panic(err)
	}
	return c
}

// Defaults returns the built-in instruments.
func Defaults() []Instrument {
	return []Instrument{
		{Ticker: "AAPL", Kind: model.Stock},
		{Ticker: "MSFT", Kind: model.Stock},
		{Ticker: "NVDA", Kind: model.Stock},
		{Ticker: "AMZN", Kind: model.Stock},
		{Ticker: "WFC", Kind: model.Stock},
		{Ticker: "CNY/USD", Kind: model.Currency},
		{Ticker: "EUR/USD", Kind: model.Currency},
		{Ticker: "JPY/USD", Kind: model.Currency},
	}
}

// LoadCatalogue reads a YAML list of instruments:
//
//	- ticker: EUR/USD
//	  asset_type: currency
//	  symbol: EURUSD=X
func LoadCatalogue(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruments: %w", err)
	}
	var list []Instrument
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse instruments: %w", err)
	}
	return NewCatalogue(list)
}

// Lookup returns the instrument for ticker.
func (c *Catalogue) Lookup(ticker string) (Instrument, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	in, ok := c.byTicker[t]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return in, nil
}

// All returns the instruments sorted by ticker.
func (c *Catalogue) All() []Instrument {
	out := make([]Instrument, 0, len(c.byTicker))
	for _, in := range c.byTicker {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Len returns the number of instruments.
func (c *Catalogue) Len() int { return len(c.byTicker) }
