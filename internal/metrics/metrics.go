// internal/metrics/metrics.go

// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Booking outcome labels.
const (
	OutcomeBooked           = "booked"
	OutcomeCapacityExceeded = "capacity_exceeded"
	OutcomeDuplicate        = "duplicate"
	OutcomeNotFound         = "not_found"
	OutcomeRejected         = "rejected"
	OutcomeError            = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	ClassBookings   *prometheus.CounterVec
	Cancellations   *prometheus.CounterVec
	PlanBookings    prometheus.Counter
	AuthAttempts    *prometheus.CounterVec
	PolicyDenials   *prometheus.CounterVec
	BookingLockWait prometheus.Histogram
}

// New registers every collector on a fresh registry so that several
// instances can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fitjourney_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fitjourney_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "fitjourney_http_requests_in_flight",
			Help: "Requests currently being served",
		}),

		ClassBookings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fitjourney_class_bookings_total",
			Help: "Class booking attempts by outcome",
		}, []string{"outcome"}),

		Cancellations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fitjourney_booking_cancellations_total",
			Help: "Booking cancellations by booking kind",
		}, []string{"kind"}),

		PlanBookings: f.NewCounter(prometheus.CounterOpts{
			Name: "fitjourney_plan_bookings_total",
			Help: "Plan subscriptions created",
		}),

		AuthAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fitjourney_auth_attempts_total",
			Help: "Login attempts by result",
		}, []string{"result"}),

		PolicyDenials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fitjourney_policy_denials_total",
			Help: "Requests rejected by the access policy chain",
		}, []string{"reason"}),

		BookingLockWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitjourney_booking_lock_wait_seconds",
			Help:    "Time spent waiting for the per-session booking lock",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}),
	}
}

func (m *Metrics) RecordHTTPRequest(method, route, status string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) RecordClassBooking(outcome string) {
	m.ClassBookings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCancellation(kind string) {
	m.Cancellations.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordAuth(result string) {
	m.AuthAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPolicyDenial(reason string) {
	m.PolicyDenials.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
