// Package metrics provides Prometheus instrumentation for the bet engine.
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
	// StakesTotal counts accepted stakes.
	StakesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bets_stakes_total",
		Help: "Total number of stakes accepted",
	})

	// StakedPoints counts points moved into bet pools.
	StakedPoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bets_staked_points_total",
		Help: "Cumulative points staked",
	})

	// Rejections counts failed mutations by operation and error kind.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bets_rejections_total",
		Help: "Mutations rejected, by operation and error kind",
	}, []string{"op", "kind"})

	// OpLatency tracks mutation latency, including store round trips.
	OpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bets_op_latency_seconds",
		Help:    "Mutation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// Resolutions counts resolved bets.
	Resolutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bets_resolutions_total",
		Help: "Bets resolved",
	})

	// PaidOutPoints counts points credited by payouts and refunds.
	PaidOutPoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bets_paid_out_points_total",
		Help: "Points credited back to users, by reason",
	}, []string{"reason"})

	// Rollovers counts period rollovers.
	Rollovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bets_period_rollovers_total",
		Help: "Monthly period rollovers performed",
	})

	// Compensations counts undo steps run after a failed multi-record write,
	// by outcome (ok, failed).
	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bets_compensations_total",
		Help: "Compensating writes run after partial failures",
	}, []string{"outcome"})

	// OpenBets tracks the number of open bets in the current snapshot.
	OpenBets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bets_open",
		Help: "Number of currently open bets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bets_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bets_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bets_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps bet ids out of the label set.
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

// Hijack is needed for WebSocket upgrades passing through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
