// Package metrics provides Prometheus instrumentation for the portfolio service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts settled trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_trades_total",
		Help: "Total number of trades settled",
	}, []string{"side"})

	// TradeRejections counts trades that failed validation or commit.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_trade_rejections_total",
		Help: "Trades rejected, by side and reason",
	}, []string{"side", "reason"})

	// SettlementLatency tracks time spent inside the settlement lock.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_settlement_latency_seconds",
		Help:    "Trade settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeVolume tracks cumulative notional (quantity * execution price) per ticker.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_trade_notional_total",
		Help: "Cumulative traded notional in USD",
	}, []string{"ticker", "side"})

	// CashBalance is the CASH row after the last mutation.
	CashBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_cash_balance",
		Help: "Current cash balance in USD",
	})

	// CashAdjustments counts deposits and withdrawals.
	CashAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_cash_adjustments_total",
		Help: "Cash deposits and withdrawals",
	}, []string{"direction", "result"})

	// PriceSnapshots counts price ingestion outcomes per ticker.
	PriceSnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_price_snapshots_total",
		Help: "Price ingestion outcomes",
	}, []string{"ticker", "result"})

	// IngestDuration tracks a full price update run.
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portfolio_price_ingest_duration_seconds",
		Help:    "Duration of one price update run",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern prefers the matched chi pattern over the raw path to keep
// label cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers behind the middleware still flush.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through to the underlying writer so websocket upgrades work
// behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
