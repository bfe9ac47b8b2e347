// Package observability holds the Prometheus metrics of the service.
package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "courier_backoffice"

const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
	OutcomeDenied   = "denied"
	OutcomeInvalid  = "invalid"
)

// Metrics holds all Prometheus metrics. Every recording method is safe on a
// nil receiver so metrics stay optional.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LoginTotal          *prometheus.CounterVec
	OwnerBootstrapTotal *prometheus.CounterVec
	AdminActionsTotal   *prometheus.CounterVec

	ReconcileRunsTotal    *prometheus.CounterVec
	ReconcileOrphansTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LoginTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_login_total",
				Help:      "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		OwnerBootstrapTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_owner_bootstrap_total",
				Help:      "Owner bootstrap attempts by outcome",
			},
			[]string{"outcome"},
		),
		AdminActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_admin_actions_total",
				Help:      "Administrative user lifecycle actions by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		ReconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_total",
				Help:      "Reconciliation runs by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileOrphansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_orphans_total",
				Help:      "Orphaned records found by kind",
			},
			[]string{"kind"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginTotal,
		m.OwnerBootstrapTotal,
		m.AdminActionsTotal,
		m.ReconcileRunsTotal,
		m.ReconcileOrphansTotal,
	)

	return m
}

// RegisterDBStats exposes connection pool statistics of db.
func (m *Metrics) RegisterDBStats(db *sql.DB, name string) error {
	if m == nil || db == nil {
		return nil
	}
	return m.registry.Register(collectors.NewDBStatsCollector(db, name))
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.LoginTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OwnerBootstrap(outcome string) {
	if m == nil {
		return
	}
	m.OwnerBootstrapTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AdminAction(action, outcome string) {
	if m == nil {
		return
	}
	m.AdminActionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ReconcileRun(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileRunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReconcileOrphans(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ReconcileOrphansTotal.WithLabelValues(kind).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and latency labelled by the
// matched chi route pattern, so path parameters do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
