// WebSocket hub for live ledger and price events.

package trade

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/metrics"
	"github.com/peterluvCS/portfolio-manager/internal/model"
)

// Message types pushed to clients.
const (
	MsgTradeSettled = "trade_settled"
	MsgCashAdjusted = "cash_adjusted"
	MsgPriceUpdated = "price_updated"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type      string    `json:"type"`
	Ticker    string    `json:"ticker,omitempty"`
	Side      string    `json:"side,omitempty"`
	Quantity  string    `json:"quantity,omitempty"`
	Price     string    `json:"price,omitempty"`
	Cash      string    `json:"cash,omitempty"`
	OrderID   string    `json:"orderId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// WSHub manages WebSocket connections and fans messages out to every
// connected client.
type WSHub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}

	events chan []byte
	joins  chan *websocket.Conn
	leaves chan *websocket.Conn
	done   chan struct{} // closed when Run returns

	log zerolog.Logger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(log zerolog.Logger) *WSHub {
	return &WSHub{
		conns:  make(map[*websocket.Conn]struct{}),
		events: make(chan []byte, sendBuffer),
		joins:  make(chan *websocket.Conn),
		leaves: make(chan *websocket.Conn),
		done:   make(chan struct{}),
		log:    log.With().Str("component", "ws").Logger(),
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client connection.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case conn := <-h.joins:
			h.add(conn)
		case conn := <-h.leaves:
			h.drop(conn)
		case msg := <-h.events:
			for _, conn := range h.send(msg) {
				h.drop(conn)
			}
		}
	}
}

func (h *WSHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
	h.log.Info().Int("total", n).Msg("ws client connected")
}

// send writes msg to every client and returns the ones that failed.
func (h *WSHub) send(msg []byte) (failed []*websocket.Conn) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			failed = append(failed, conn)
		}
	}
	return failed
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		conn.Close()
	}
	n := len(h.conns)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	for conn := range h.conns {
		conn.Close()
	}
	clear(h.conns)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(0)
}

func (h *WSHub) connected(conn *websocket.Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[conn]
	return ok
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast queues a message for every client. Never blocks: when the
// buffer is full the message is dropped.
func (h *WSHub) Broadcast(msg WSMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("ws message encode failed")
		return
	}
	select {
	case h.events <- data:
	default:
		h.log.Warn().Str("type", msg.Type).Msg("ws buffer full, message dropped")
	}
}

// TradeSettled publishes a settlement.
func (h *WSHub) TradeSettled(res *model.ExecutionResult) {
	h.Broadcast(WSMessage{
		Type:     MsgTradeSettled,
		Ticker:   res.Ticker,
		Side:     res.Side.String(),
		Quantity: res.Quantity.String(),
		Price:    res.ExecutionPrice.String(),
		Cash:     res.RemainingCash.String(),
		OrderID:  res.OrderID,
	})
}

// CashAdjusted publishes a deposit or withdrawal.
func (h *WSHub) CashAdjusted(direction string, amount, balance decimal.Decimal) {
	h.Broadcast(WSMessage{
		Type:     MsgCashAdjusted,
		Side:     direction,
		Quantity: amount.String(),
		Cash:     balance.String(),
	})
}

// PriceUpdated publishes a new price snapshot. It has the shape of an
// ingest listener.
func (h *WSHub) PriceUpdated(snap model.PriceSnapshot) {
	h.Broadcast(WSMessage{
		Type:      MsgPriceUpdated,
		Ticker:    snap.Ticker,
		Price:     snap.Price.String(),
		Timestamp: snap.Timestamp,
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced by the router middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleWS handles WebSocket upgrade requests at GET /api/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}

	select {
	case h.joins <- conn:
	case <-h.done:
		conn.Close()
		return
	}
	go h.readPump(conn)
	go h.keepAlive(conn)
}

// readPump discards client frames and unregisters the connection once
// reads fail or the peer stops answering pings.
func (h *WSHub) readPump(conn *websocket.Conn) {
	defer func() {
		select {
		case h.leaves <- conn:
		case <-h.done:
		}
	}()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// keepAlive pings the client until it is unregistered.
func (h *WSHub) keepAlive(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if !h.connected(conn) {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			return
		}
	}
}
