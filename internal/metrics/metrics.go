// Package metrics provides Prometheus collectors and gin middleware for the
// hello listeners.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	registry prometheus.Gatherer

	// RequestsTotal counts requests by listener protocol, method and status code.
	RequestsTotal *prometheus.CounterVec
	// RequestDuration records handler latency per listener protocol.
	RequestDuration *prometheus.HistogramVec
	// ListenersActive is the number of bound listeners per protocol.
	ListenersActive *prometheus.GaugeVec
	// RateLimitRejectedTotal counts requests answered with 429.
	RateLimitRejectedTotal *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hello_requests_total",
				Help: "Total requests",
			},
			[]string{"protocol", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hello_request_duration_seconds",
				Help:    "Request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol"},
		),
		ListenersActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hello_listeners_active",
				Help: "Bound listeners",
			},
			[]string{"protocol"},
		),
		RateLimitRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hello_ratelimit_rejected_total",
				Help: "Rate limit rejections",
			},
			[]string{"protocol"},
		),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.ListenersActive, m.RateLimitRejectedTotal)
	return m
}

// Middleware records request count and latency for one listener protocol.
func (m *Metrics) Middleware(protocol string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		m.RequestsTotal.WithLabelValues(protocol, c.Request.Method, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(protocol).Observe(time.Since(start).Seconds())
		if status == http.StatusTooManyRequests {
			m.RateLimitRejectedTotal.WithLabelValues(protocol).Inc()
		}
	}
}

// ListenerUp and ListenerDown track bound listeners.
func (m *Metrics) ListenerUp(protocol string)   { m.ListenersActive.WithLabelValues(protocol).Inc() }
func (m *Metrics) ListenerDown(protocol string) { m.ListenersActive.WithLabelValues(protocol).Dec() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
