// Package metrics exposes Prometheus collectors for kernel submissions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector tracks kernels per executor and operation.
type Collector struct {
	kernels  *prometheus.CounterVec
	failures *prometheus.CounterVec
	elements *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates a Collector and registers it with reg. A nil reg leaves the
// collectors unregistered, which is handy in tests.
func New(reg prometheus.Registerer) (*Collector, error) {
	labels := []string{"executor", "op"}
	c := &Collector{
		kernels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reactor_kernels_total",
			Help: "The total number of kernels submitted",
		}, labels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reactor_kernel_failures_total",
			Help: "The total number of kernels that failed to launch or complete",
		}, labels),
		elements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reactor_elements_total",
			Help: "The total number of buffer elements processed",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reactor_kernel_duration_seconds",
			Help:    "Wall time from submission to completion",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, labels),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{c.kernels, c.failures, c.elements, c.duration} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Observe records one finished kernel. Calling Observe on a nil Collector is
// a no-op.
func (c *Collector) Observe(executor, op string, n int, took time.Duration, err error) {
	if c == nil {
		return
	}
	c.kernels.WithLabelValues(executor, op).Inc()
	if err != nil {
		c.failures.WithLabelValues(executor, op).Inc()
		return
	}
	c.elements.WithLabelValues(executor, op).Add(float64(n))
	c.duration.WithLabelValues(executor, op).Observe(took.Seconds())
}
