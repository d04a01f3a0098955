package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_auth_http_requests_total",
		Help: "HTTP requests by route pattern and status code.",
	}, []string{"method", "route", "status"})
	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_auth_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	authOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_auth_operations_total",
		Help: "Session manager operations by outcome (success or error code).",
	}, []string{"operation", "outcome"})
)

// metricsMiddleware records request counts and latency per route pattern.
// Unmatched paths share the "unmatched" label to keep cardinality bounded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// observeAuth counts one session manager operation.
func observeAuth(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = strings.ToLower(authErrorResponse(err).Code)
	}
	authOperations.WithLabelValues(operation, outcome).Inc()
}
