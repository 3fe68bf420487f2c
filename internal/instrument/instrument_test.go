package instrument

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterluvCS/portfolio-manager/internal/model"
)

func TestParseTicker_Valid(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		wantKind model.AssetKind
	}{
		{"AAPL", "AAPL", model.Stock},
		{" msft ", "MSFT", model.Stock},
		{"BRK.B", "BRK.B", model.Stock},
		{"EUR/USD", "EUR/USD", model.Currency},
		{"jpy/usd", "JPY/USD", model.Currency},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, kind, err := ParseTicker(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestParseTicker_Invalid(t *testing.T) {
	for _, in := range []string{"", "EUR/EUR", "EURO/USD", "1ABC", "AAPL$", "TOOLONGTICKERX"} {
		_, _, err := ParseTicker(in)
		assert.ErrorIs(t, err, ErrInvalidTicker, "input %q", in)
	}
}

func TestParseTicker_CashReserved(t *testing.T) {
	_, _, err := ParseTicker("cash")
	assert.ErrorIs(t, err, ErrReservedTicker)
}

func TestDefaultCatalogue(t *testing.T) {
	c := DefaultCatalogue()
	assert.Equal(t, 8, c.Len())

	in, err := c.Lookup("eur/usd")
	require.NoError(t, err)
	assert.Equal(t, model.Currency, in.Kind)
	assert.Equal(t, "EURUSD=X", in.Symbol)

	in, err = c.Lookup("NVDA")
	require.NoError(t, err)
	assert.Equal(t, "NVDA", in.Symbol)

	_, err = c.Lookup("TSLA")
	assert.ErrorIs(t, err, ErrUnknownTicker)

	all := c.All()
	assert.Equal(t, "AAPL", all[0].Ticker)
}

func TestNewCatalogue_Errors(t *testing.T) {
	_, err := NewCatalogue([]Instrument{{Ticker: "AAPL"}, {Ticker: "aapl"}})
	assert.Error(t, err)

	_, err = NewCatalogue([]Instrument{{Ticker: "EUR/USD", Kind: model.Stock}})
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestLoadCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- ticker: AAPL
  asset_type: stock
- ticker: GBP/USD
  asset_type: currency
  symbol: GBPUSD=X
- ticker: SAP
  symbol: SAP.DE
`), 0o644))

	c, err := LoadCatalogue(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	sap, err := c.Lookup("SAP")
	require.NoError(t, err)
	assert.Equal(t, model.Stock, sap.Kind)
	assert.Equal(t, "SAP.DE", sap.Symbol)
}
