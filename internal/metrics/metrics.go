// Package metrics provides Prometheus instrumentation for the valuation engine.
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

// Valuation outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

var (
	// ValuationsTotal counts valuation requests by operation and outcome.
	ValuationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcf_valuations_total",
		Help: "Total valuation requests",
	}, []string{"operation", "outcome"})

	// ValuationDuration tracks engine time per operation.
	ValuationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dcf_valuation_duration_seconds",
		Help:    "Valuation engine latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"operation"})

	// ValuationCashflows tracks schedule sizes.
	ValuationCashflows = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dcf_valuation_cashflows",
		Help:    "Number of cash flows per valuation",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	// IRRNotFound counts schedules with no IRR in the search domain.
	IRRNotFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dcf_irr_not_found_total",
		Help: "Valuations whose IRR search found no sign change",
	})

	// LimitRejections counts requests rejected by the schedule limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dcf_limit_rejections_total",
		Help: "Requests rejected by the schedule limiter",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dcf_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcf_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dcf_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveValuation records one engine call.
func ObserveValuation(operation, outcome string, cashflows int, elapsed time.Duration) {
	ValuationsTotal.WithLabelValues(operation, outcome).Inc()
	ValuationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	ValuationCashflows.Observe(float64(cashflows))
}

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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack passes through to the underlying writer so WebSocket upgrades work
// behind the middleware.
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
