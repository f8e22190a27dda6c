// Package metrics provides Prometheus instrumentation for the market feed.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts ticks applied, per feed.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_feed_ticks_total",
		Help: "Total number of ticks applied to instruments",
	}, []string{"feed"})

	// NotificationsTotal counts images and updates emitted.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_feed_notifications_total",
		Help: "Total notifications emitted, by type",
	}, []string{"feed", "type"})

	// NotifyErrors counts notifications that a sink failed to deliver.
	NotifyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_feed_notify_errors_total",
		Help: "Notifications that failed delivery",
	}, []string{"feed"})

	// Subscribers tracks the subscriber count per instrument.
	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atmx_feed_subscribers",
		Help: "Current subscriber count per instrument",
	}, []string{"feed", "instrument"})

	// ActiveLoops tracks simulation loops currently running.
	ActiveLoops = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atmx_feed_active_loops",
		Help: "Number of instrument loops currently running",
	}, []string{"feed"})

	// LoopFaults counts instrument loops that ended on a fault.
	LoopFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_feed_loop_faults_total",
		Help: "Instrument loops that ended on a panic or lock fault",
	}, []string{"feed"})

	// PoolTasks counts worker pool tasks by outcome ("ok", "panic").
	PoolTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_pool_tasks_total",
		Help: "Worker pool tasks executed, by outcome",
	}, []string{"outcome"})

	// PoolActive tracks tasks currently executing across all pools.
	PoolActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_pool_active_tasks",
		Help: "Worker pool tasks currently executing",
	})

	// PoolQueued tracks tasks waiting in pool queues.
	PoolQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_pool_queued_tasks",
		Help: "Worker pool tasks waiting for a worker",
	})

	// ExchangeConnections counts accepted exchange connections.
	ExchangeConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_exchange_connections_total",
		Help: "Connections accepted by the exchange server",
	})

	// ExchangeFaults counts accept and per-connection faults by operation.
	ExchangeFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_exchange_connection_faults_total",
		Help: "Exchange connection faults, by operation",
	}, []string{"op"})

	// ExchangeHandleDuration tracks how long one connection occupies a worker.
	ExchangeHandleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atmx_exchange_handle_seconds",
		Help:    "Time spent handling one exchange connection",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 3, 5, 10},
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// PriceFetches counts external price API calls by source and result.
	PriceFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_price_fetches_total",
		Help: "External price API requests, by source and result",
	}, []string{"source", "result"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_http_request_duration_seconds",
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

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
