package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for dashgate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	GateDecisions   *prometheus.CounterVec
	SignInTotal     *prometheus.CounterVec
	SignOutTotal    prometheus.Counter
	AuditDropsTotal prometheus.CounterFunc
	RateLimitKeys   prometheus.GaugeFunc
}

// MetricSources supplies the values of function-backed metrics. Nil
// fields report zero.
type MetricSources struct {
	AuditDrops    func() int64
	RateLimitKeys func() int
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer, src MetricSources) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dashgate",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dashgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		GateDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dashgate",
				Name:      "gate_decisions_total",
				Help:      "Session gate decisions by outcome",
			},
			[]string{"decision"}, // allow/redirect_home/redirect_login/unauthorized
		),
		SignInTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dashgate",
				Name:      "sign_in_total",
				Help:      "Password sign-in attempts by result",
			},
			[]string{"result"}, // ok/invalid/rejected/throttled/error
		),
		SignOutTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "dashgate",
				Name:      "sign_out_total",
				Help:      "Explicit sign-outs",
			},
		),
		AuditDropsTotal: promauto.With(reg).NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "dashgate",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
			func() float64 {
				if src.AuditDrops == nil {
					return 0
				}
				return float64(src.AuditDrops())
			},
		),
		RateLimitKeys: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "dashgate",
				Name:      "rate_limit_keys",
				Help:      "Number of active sign-in rate limit keys",
			},
			func() float64 {
				if src.RateLimitKeys == nil {
					return 0
				}
				return float64(src.RateLimitKeys())
			},
		),
	}
}
