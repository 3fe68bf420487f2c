package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterluvCS/portfolio-manager/internal/ingest"
	"github.com/peterluvCS/portfolio-manager/internal/ledger"
	"github.com/peterluvCS/portfolio-manager/internal/model"
	"github.com/peterluvCS/portfolio-manager/internal/store"
	"github.com/peterluvCS/portfolio-manager/internal/trade"
)

var t0 = time.Date(2025, 7, 1, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type stubUpdater struct{ calls int }

func (u *stubUpdater) RunOnce(context.Context) []ingest.Result {
	u.calls++
	return []ingest.Result{
		{Ticker: "AAPL", Status: ingest.StatusSuccess, Price: d("190"), Time: t0},
		{Ticker: "MSFT", Status: ingest.StatusError, Message: "rate limited"},
	}
}

type testEnv struct {
	store   *store.MemoryStore
	router  chi.Router
	updater *stubUpdater
}

// newTestEnv creates a Service over an in-memory store seeded with cash.
func newTestEnv(t *testing.T, cash string) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	engine := ledger.NewEngine(ms, ms, zerolog.Nop())
	require.NoError(t, engine.Open(context.Background(), d(cash)))

	u := &stubUpdater{}
	svc := trade.NewService(engine, u, nil, zerolog.Nop())
	r := chi.NewRouter()
	svc.Routes(r)
	return &testEnv{store: ms, router: r, updater: u}
}

func (e *testEnv) price(t *testing.T, ticker, price string) {
	t.Helper()
	require.NoError(t, e.store.AppendPrice(context.Background(), &model.PriceSnapshot{
		Ticker: ticker, Price: d(price), Timestamp: t0, Kind: model.Stock,
	}))
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// --- Trade tests ---

func TestBuy(t *testing.T) {
	env := newTestEnv(t, "10000")
	env.price(t, "XYZ", "100")

	w := env.do(t, http.MethodPost, "/api/trade/buy", trade.TradeRequest{Ticker: "XYZ", Quantity: d("10"), Price: d("105")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[trade.TradeResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Buy order executed", resp.Message)
	assert.NotEmpty(t, resp.OrderID)
	assert.Equal(t, model.Buy, resp.Side)
	assert.True(t, resp.ExecutionPrice.Equal(d("100")))
	assert.True(t, resp.RequestedPrice.Equal(d("105")))
	assert.True(t, resp.TotalCost.Equal(d("1000")))
	assert.True(t, resp.RemainingCash.Equal(d("9000")))

	// camelCase wire names the web client reads.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	for _, k := range []string{"orderId", "executionPrice", "marketPrice", "remainingCash", "totalCost"} {
		assert.Contains(t, raw, k)
	}
}

func TestBuy_AcceptsNumericJSON(t *testing.T) {
	env := newTestEnv(t, "1000")
	env.price(t, "XYZ", "12.5")

	req := httptest.NewRequest(http.MethodPost, "/api/trade/buy",
		strings.NewReader(`{"ticker":"xyz","quantity":2,"price":12.5}`))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[trade.TradeResponse](t, w).TotalCost.Equal(d("25")))
}

func TestSell(t *testing.T) {
	env := newTestEnv(t, "1000")
	env.price(t, "XYZ", "100")
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/trade/buy",
		trade.TradeRequest{Ticker: "XYZ", Quantity: d("10"), Price: d("100")}).Code)

	w := env.do(t, http.MethodPost, "/api/trade/sell", trade.TradeRequest{Ticker: "XYZ", Quantity: d("10"), Price: d("95")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[trade.TradeResponse](t, w)
	assert.Equal(t, "Sell order executed", resp.Message)
	assert.True(t, resp.TotalProceeds.Equal(d("1000")))

	_, err := env.store.GetHolding(context.Background(), "XYZ")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTrade_ErrorMapping(t *testing.T) {
	env := newTestEnv(t, "100")
	env.price(t, "XYZ", "60")

	tests := []struct {
		name   string
		path   string
		req    trade.TradeRequest
		status int
		kind   string
	}{
		{"zero quantity", "/api/trade/buy", trade.TradeRequest{Ticker: "XYZ", Quantity: d("0"), Price: d("60")}, http.StatusBadRequest, "InvalidRequest"},
		{"unknown ticker", "/api/trade/buy", trade.TradeRequest{Ticker: "NOPE", Quantity: d("1"), Price: d("60")}, http.StatusNotFound, "AssetNotFound"},
		{"limit below market", "/api/trade/buy", trade.TradeRequest{Ticker: "XYZ", Quantity: d("5"), Price: d("50")}, http.StatusConflict, "PriceRejected"},
		{"not enough cash", "/api/trade/buy", trade.TradeRequest{Ticker: "XYZ", Quantity: d("5"), Price: d("60")}, http.StatusConflict, "InsufficientCash"},
		{"nothing to sell", "/api/trade/sell", trade.TradeRequest{Ticker: "XYZ", Quantity: d("1"), Price: d("60")}, http.StatusConflict, "InsufficientHoldings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, decode[trade.ErrorResponse](t, w).Error)
		})
	}
}

func TestTrade_PriceRejectedCarriesMarketPrice(t *testing.T) {
	env := newTestEnv(t, "10000")
	env.price(t, "XYZ", "60")

	w := env.do(t, http.MethodPost, "/api/trade/buy", trade.TradeRequest{Ticker: "XYZ", Quantity: d("5"), Price: d("50")})
	require.Equal(t, http.StatusConflict, w.Code)

	resp := decode[trade.ErrorResponse](t, w)
	require.NotNil(t, resp.MarketPrice)
	assert.True(t, resp.MarketPrice.Equal(d("60")))
	require.NotNil(t, resp.RequestedPrice)
	assert.True(t, resp.RequestedPrice.Equal(d("50")))
	assert.Nil(t, resp.Required)
	assert.Contains(t, resp.Message, "below market price")
}

func TestTrade_InsufficientCashCarriesAmounts(t *testing.T) {
	env := newTestEnv(t, "100")
	env.price(t, "XYZ", "60")

	w := env.do(t, http.MethodPost, "/api/trade/buy", trade.TradeRequest{Ticker: "XYZ", Quantity: d("2"), Price: d("60")})
	resp := decode[trade.ErrorResponse](t, w)
	require.NotNil(t, resp.Required)
	assert.True(t, resp.Required.Equal(d("120")))
	require.NotNil(t, resp.Available)
	assert.True(t, resp.Available.Equal(d("100")))
	assert.Nil(t, resp.MarketPrice)
}

func TestTrade_StorageFailureHidesCause(t *testing.T) {
	env := newTestEnv(t, "100")
	env.price(t, "XYZ", "10")
	env.store.FailNextCommit(errors.New("pq: secret connection detail"))

	w := env.do(t, http.MethodPost, "/api/trade/buy", trade.TradeRequest{Ticker: "XYZ", Quantity: d("1"), Price: d("10")})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[trade.ErrorResponse](t, w)
	assert.Equal(t, "StorageFailure", resp.Error)
	assert.NotContains(t, resp.Message, "secret")
}

func TestTrade_InvalidBody(t *testing.T) {
	env := newTestEnv(t, "100")
	req := httptest.NewRequest(http.MethodPost, "/api/trade/buy", strings.NewReader("{"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, "1000")
	env.price(t, "XYZ", "10")
	env.do(t, http.MethodPost, "/api/trade/buy", trade.TradeRequest{Ticker: "XYZ", Quantity: d("3"), Price: d("10")})
	env.do(t, http.MethodPost, "/api/trade/sell", trade.TradeRequest{Ticker: "XYZ", Quantity: d("1"), Price: d("10")})

	w := env.do(t, http.MethodGet, "/api/trade/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Orders []model.Order `json:"orders"`
	}](t, w)
	require.Len(t, resp.Orders, 2)
	assert.Equal(t, model.Buy, resp.Orders[0].Side)
	assert.Equal(t, model.Sell, resp.Orders[1].Side)
	assert.Contains(t, w.Body.String(), `"type":"SELL"`)
}

func TestHistory_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t, "0")
	w := env.do(t, http.MethodGet, "/api/trade/history", nil)
	assert.JSONEq(t, `{"orders":[]}`, w.Body.String())
}

// --- Portfolio tests ---

func TestPortfolio(t *testing.T) {
	env := newTestEnv(t, "1000")
	env.price(t, "XYZ", "100")
	env.do(t, http.MethodPost, "/api/trade/buy", trade.TradeRequest{Ticker: "XYZ", Quantity: d("5"), Price: d("100")})

	w := env.do(t, http.MethodGet, "/api/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code)

	snap := decode[model.PortfolioSnapshot](t, w)
	require.Len(t, snap.Holdings, 2)
	assert.Equal(t, model.CashTicker, snap.Holdings[0].Ticker)
	assert.Equal(t, model.Cash, snap.Holdings[0].Kind)
	assert.True(t, snap.Summary.TotalValue.Equal(d("1000")))
	assert.True(t, snap.Summary.TotalCost.Equal(d("500")))
	assert.Contains(t, w.Body.String(), `"portfolio"`)
	assert.Contains(t, w.Body.String(), `"avgPrice"`)
}

func TestChargeAndWithdraw(t *testing.T) {
	env := newTestEnv(t, "100")

	w := env.do(t, http.MethodPost, "/api/portfolio/charge", trade.CashRequest{Amount: d("50")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[trade.CashResponse](t, w).Cash.Equal(d("150")))

	w = env.do(t, http.MethodPost, "/api/portfolio/withdraw", trade.CashRequest{Amount: d("150")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[trade.CashResponse](t, w).Cash.IsZero())

	w = env.do(t, http.MethodPost, "/api/portfolio/withdraw", trade.CashRequest{Amount: d("0.01")})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "InsufficientCash", decode[trade.ErrorResponse](t, w).Error)

	w = env.do(t, http.MethodPost, "/api/portfolio/charge", trade.CashRequest{Amount: d("-5")})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Price tests ---

func TestBatchPrices(t *testing.T) {
	env := newTestEnv(t, "0")
	env.price(t, "MSFT", "410")
	env.price(t, "AAPL", "190")

	w := env.do(t, http.MethodGet, "/api/price/batch", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Prices []model.PriceSnapshot `json:"prices"`
	}](t, w)
	require.Len(t, resp.Prices, 2)
	assert.Equal(t, "AAPL", resp.Prices[0].Ticker)
	assert.Contains(t, w.Body.String(), `"lastUpdated"`)
}

func TestUpdateAllPrices(t *testing.T) {
	env := newTestEnv(t, "0")
	w := env.do(t, http.MethodPost, "/api/price/update-all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.updater.calls)

	resp := decode[struct {
		Message string          `json:"message"`
		Results []ingest.Result `json:"results"`
	}](t, w)
	assert.Equal(t, "Price update finished", resp.Message)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, ingest.StatusError, resp.Results[1].Status)
}

func TestUpdateAllPrices_NotConfigured(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := trade.NewService(ledger.NewEngine(ms, ms, zerolog.Nop()), nil, nil, zerolog.Nop())
	r := chi.NewRouter()
	svc.Routes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/price/update-all", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// --- WebSocket ---

func TestWebSocket_ReceivesTradeSettled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ms := store.NewMemoryStore()
	engine := ledger.NewEngine(ms, ms, zerolog.Nop())
	require.NoError(t, engine.Open(ctx, d("1000")))
	require.NoError(t, ms.AppendPrice(ctx, &model.PriceSnapshot{Ticker: "XYZ", Price: d("10"), Timestamp: t0, Kind: model.Stock}))

	hub := trade.NewWSHub(zerolog.Nop())
	go hub.Run(ctx)
	svc := trade.NewService(engine, nil, hub, zerolog.Nop())
	r := chi.NewRouter()
	svc.Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	body, _ := json.Marshal(trade.TradeRequest{Ticker: "XYZ", Quantity: d("2"), Price: d("10")})
	resp, err := http.Post(srv.URL+"/api/trade/buy", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg trade.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, trade.MsgTradeSettled, msg.Type)
	assert.Equal(t, "XYZ", msg.Ticker)
	assert.Equal(t, "BUY", msg.Side)
	assert.Equal(t, "980", msg.Cash)
}
