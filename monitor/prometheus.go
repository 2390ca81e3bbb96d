package monitor

import (
	"time"

	"github.com/glimte/mmate-orb/interceptors"
	"github.com/glimte/mmate-orb/internal/reliability"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orb"

// PrometheusCollector exports request metrics and circuit breaker states
type PrometheusCollector struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	breakers *prometheus.GaugeVec
}

// NewPrometheusCollector creates the collector and registers its metrics with reg
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Invocations that reached the first interception point.",
		}, []string{"side", "operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Invocations that ended with an exception or a non-reply outcome.",
		}, []string{"side", "operation", "error_type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time between the starting and ending interception points.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"side", "operation"}),
		breakers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per endpoint: 0 closed, 1 open, 2 half-open.",
		}, []string{"endpoint"}),
	}

	for _, collector := range []prometheus.Collector{c.requests, c.errors, c.latency, c.breakers} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// IncrementRequestCount implements interceptors.MetricsCollector
func (c *PrometheusCollector) IncrementRequestCount(side, operation string) {
	c.requests.WithLabelValues(side, operation).Inc()
}

// RecordProcessingTime implements interceptors.MetricsCollector
func (c *PrometheusCollector) RecordProcessingTime(side, operation string, duration time.Duration) {
	c.latency.WithLabelValues(side, operation).Observe(duration.Seconds())
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (c *PrometheusCollector) IncrementErrorCount(side, operation, errorType string) {
	c.errors.WithLabelValues(side, operation, errorType).Inc()
}

// ObserveBreakerState is a reliability.StateChangeFunc
func (c *PrometheusCollector) ObserveBreakerState(name string, _, to reliability.State, _ string) {
	c.breakers.WithLabelValues(name).Set(float64(to))
}

// Collectors fans every call out to several collectors
type Collectors []interceptors.MetricsCollector

// IncrementRequestCount implements interceptors.MetricsCollector
func (cs Collectors) IncrementRequestCount(side, operation string) {
	for _, c := range cs {
		c.IncrementRequestCount(side, operation)
	}
}

// RecordProcessingTime implements interceptors.MetricsCollector
func (cs Collectors) RecordProcessingTime(side, operation string, duration time.Duration) {
	for _, c := range cs {
		c.RecordProcessingTime(side, operation, duration)
	}
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (cs Collectors) IncrementErrorCount(side, operation, errorType string) {
	for _, c := range cs {
		c.IncrementErrorCount(side, operation, errorType)
	}
}

var (
	_ interceptors.MetricsCollector = (*PrometheusCollector)(nil)
	_ interceptors.MetricsCollector = Collectors(nil)
)
