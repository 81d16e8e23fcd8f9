/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bandwidth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector is an interface for collecting metrics of paced transfers.
type MetricsCollector interface {
	// ObserveDelay observes the delay inserted before the next chunk.
	ObserveDelay(delay time.Duration)
	// AddTransferredBytes increases the number of bytes that went through limiters.
	AddTransferredBytes(n int64)
}

// PrometheusMetricsCollector is a Prometheus metrics collector for paced transfers.
type PrometheusMetricsCollector struct {
	// Delays is a histogram of the delays inserted by limiters.
	Delays prometheus.Histogram
	// TransferredBytes is a counter of bytes transferred through limiters.
	TransferredBytes prometheus.Counter
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	return &PrometheusMetricsCollector{
		Delays: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slow_client_delay_seconds",
			Help:      "A histogram of the delays inserted before sending the next chunk of data.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		TransferredBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_client_transferred_bytes_total",
			Help:      "Number of bytes transferred through slow client limiters.",
		}),
	}
}

// MustRegister registers the Prometheus metrics.
func (p *PrometheusMetricsCollector) MustRegister() {
	prometheus.MustRegister(p.Delays, p.TransferredBytes)
}

// Unregister the Prometheus metrics.
func (p *PrometheusMetricsCollector) Unregister() {
	prometheus.Unregister(p.Delays)
	prometheus.Unregister(p.TransferredBytes)
}

// ObserveDelay observes the delay inserted before the next chunk.
func (p *PrometheusMetricsCollector) ObserveDelay(delay time.Duration) {
	p.Delays.Observe(delay.Seconds())
}

// AddTransferredBytes increases the transferred bytes counter.
func (p *PrometheusMetricsCollector) AddTransferredBytes(n int64) {
	p.TransferredBytes.Add(float64(n))
}

type disabledMetrics struct{}

func (disabledMetrics) ObserveDelay(time.Duration) {}
func (disabledMetrics) AddTransferredBytes(int64)  {}
