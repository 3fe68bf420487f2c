// Package trade provides the HTTP API over the portfolio ledger: trade
// settlement, portfolio valuation, cash adjustments, order history and
// market prices.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/ingest"
	"github.com/peterluvCS/portfolio-manager/internal/ledger"
	"github.com/peterluvCS/portfolio-manager/internal/model"
)

// PriceUpdater refreshes market prices on demand.
type PriceUpdater interface {
	RunOnce(ctx context.Context) []ingest.Result
}

// Service serves the HTTP API. Serialization of ledger mutations lives in
// the engine, so handlers carry no locks of their own.
type Service struct {
	engine  *ledger.Engine
	updater PriceUpdater // optional
	wsHub   *WSHub       // optional WebSocket hub for live events
	log     zerolog.Logger
}

// NewService creates a new API service.
// Pass nil for updater or hub when price refresh or broadcasting is not needed.
func NewService(engine *ledger.Engine, updater PriceUpdater, hub *WSHub, log zerolog.Logger) *Service {
	return &Service{
		engine:  engine,
		updater: updater,
		wsHub:   hub,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Routes registers every API route on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/api/trade/buy", s.Buy)
	r.Post("/api/trade/sell", s.Sell)
	r.Get("/api/trade/history", s.History)

	r.Get("/api/portfolio", s.Portfolio)
	r.Post("/api/portfolio/charge", s.Charge)
	r.Post("/api/portfolio/withdraw", s.Withdraw)

	r.Get("/api/price/batch", s.BatchPrices)
	r.Post("/api/price/update-all", s.UpdateAllPrices)

	if s.wsHub != nil {
		r.Get("/api/ws", s.wsHub.HandleWS)
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /api/trade/buy and /sell.
type TradeRequest struct {
	Ticker   string          `json:"ticker"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"` // protection bound; execution is at market
}

// TradeResponse is the JSON body returned from a settled trade.
type TradeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	model.ExecutionResult
}

// CashRequest is the JSON body for POST /api/portfolio/charge and /withdraw.
type CashRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CashResponse reports the balance after a cash adjustment.
type CashResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Cash    decimal.Decimal `json:"cash"`
}

// ErrorResponse is the body of every failed request. Amount fields are
// present only for the kinds that carry them.
type ErrorResponse struct {
	Error          string           `json:"error"`
	Message        string           `json:"message"`
	MarketPrice    *decimal.Decimal `json:"marketPrice,omitempty"`
	RequestedPrice *decimal.Decimal `json:"requestedPrice,omitempty"`
	Required       *decimal.Decimal `json:"required,omitempty"`
	Available      *decimal.Decimal `json:"available,omitempty"`
}

// --- HTTP Handlers ---

// Buy handles POST /api/trade/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.settle(w, r, model.Buy)
}

// Sell handles POST /api/trade/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.settle(w, r, model.Sell)
}

func (s *Service) settle(w http.ResponseWriter, r *http.Request, side model.Side) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "InvalidRequest", Message: "invalid request body"})
		return
	}

	settle, msg := s.engine.SettleBuy, "Buy order executed"
	if side == model.Sell {
		settle, msg = s.engine.SettleSell, "Sell order executed"
	}
	res, err := settle(r.Context(), req.Ticker, req.Quantity, req.Price)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.TradeSettled(res)
	}
	writeJSON(w, http.StatusOK, TradeResponse{Success: true, Message: msg, ExecutionResult: *res})
}

// History handles GET /api/trade/history
func (s *Service) History(w http.ResponseWriter, r *http.Request) {
	orders, err := s.engine.ListOrders(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// Portfolio handles GET /api/portfolio
func (s *Service) Portfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.ComputePortfolio(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Charge handles POST /api/portfolio/charge
func (s *Service) Charge(w http.ResponseWriter, r *http.Request) {
	s.adjustCash(w, r, "deposit")
}

// Withdraw handles POST /api/portfolio/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.adjustCash(w, r, "withdraw")
}

func (s *Service) adjustCash(w http.ResponseWriter, r *http.Request, direction string) {
	var req CashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "InvalidRequest", Message: "invalid request body"})
		return
	}

	adjust, msg := s.engine.Deposit, "Cash deposited"
	if direction == "withdraw" {
		adjust, msg = s.engine.Withdraw, "Cash withdrawn"
	}
	balance, err := adjust(r.Context(), req.Amount)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.CashAdjusted(direction, req.Amount, balance)
	}
	writeJSON(w, http.StatusOK, CashResponse{Success: true, Message: msg, Cash: balance})
}

// BatchPrices handles GET /api/price/batch
func (s *Service) BatchPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.engine.LatestPrices(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

// UpdateAllPrices handles POST /api/price/update-all
// Fetches a fresh quote for every instrument; per-ticker failures are
// reported in the results, not as an HTTP error.
func (s *Service) UpdateAllPrices(w http.ResponseWriter, r *http.Request) {
	if s.updater == nil {
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Unavailable", Message: "price updates are not configured"})
		return
	}
	results := s.updater.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Price update finished",
		"results": results,
	})
}

// writeLedgerError maps a ledger error kind to its HTTP status and body.
func (s *Service) writeLedgerError(w http.ResponseWriter, err error) {
	status, kind := http.StatusInternalServerError, "StorageFailure"
	switch {
	case errors.Is(err, ledger.ErrInvalidRequest):
		status, kind = http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, ledger.ErrAssetNotFound):
		status, kind = http.StatusNotFound, "AssetNotFound"
	case errors.Is(err, ledger.ErrPriceRejected):
		status, kind = http.StatusConflict, "PriceRejected"
	case errors.Is(err, ledger.ErrInsufficientCash):
		status, kind = http.StatusConflict, "InsufficientCash"
	case errors.Is(err, ledger.ErrInsufficientHoldings):
		status, kind = http.StatusConflict, "InsufficientHoldings"
	}

	body := ErrorResponse{Error: kind, Message: "internal error"}
	var le *ledger.Error
	if errors.As(err, &le) {
		switch {
		case errors.Is(err, ledger.ErrStorageFailure):
			// Driver details stay in the logs.
			s.log.Error().Err(err).Msg("request failed")
		case errors.Is(err, ledger.ErrPriceRejected):
			body.Message = le.Message
			body.MarketPrice, body.RequestedPrice = &le.MarketPrice, &le.RequestedPrice
		case errors.Is(err, ledger.ErrInsufficientCash), errors.Is(err, ledger.ErrInsufficientHoldings):
			body.Message = le.Message
			body.Required, body.Available = &le.Required, &le.Available
		default:
			body.Message = le.Message
		}
	} else {
		s.log.Error().Err(err).Msg("unexpected error")
	}
	writeError(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	writeJSON(w, status, body)
}
