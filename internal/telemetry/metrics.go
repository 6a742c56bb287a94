// Package telemetry exposes the vault's Prometheus metrics.
package telemetry

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	revealsTotal    *prometheus.CounterVec
	rotationsTotal  *prometheus.CounterVec
	rotationRecords prometheus.Histogram
	meteredUsage    *prometheus.GaugeVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// Metrics records vault metrics. The zero value is usable; recording is a
// no-op until InitMetrics has run.
type Metrics struct{}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// InitMetrics registers all metrics with the default registry.
// This should be called once at startup if metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretvault_requests_total",
				Help: "Total number of vault API requests by action and HTTP status",
			},
			[]string{"action", "status"},
		)

		requestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secretvault_request_duration_seconds",
				Help:    "Duration of vault API requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"action"},
		)

		revealsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretvault_reveals_total",
				Help: "Total number of audited secret reveals",
			},
			[]string{"provider"},
		)

		rotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretvault_rotations_total",
				Help: "Total number of master key rotations by outcome",
			},
			[]string{"status"},
		)

		rotationRecords = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "secretvault_rotation_records",
				Help:    "Number of records re-encrypted per successful rotation",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
			},
		)

		meteredUsage = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "secretvault_metered_usage",
				Help: "Calls consumed against the current metered key",
			},
			[]string{"provider"},
		)

		metricsRegistered = true
	})
}

// RecordRequest records one API request.
func (m *Metrics) RecordRequest(action string, status int, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	requestsTotal.WithLabelValues(action, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(action).Observe(durationSeconds)
}

// RecordReveal records an audited reveal.
func (m *Metrics) RecordReveal(provider string) {
	if !metricsRegistered {
		return
	}
	revealsTotal.WithLabelValues(provider).Inc()
}

// RecordRotation records a rotation attempt. records is only observed for
// successful rotations.
func (m *Metrics) RecordRotation(success bool, records int) {
	if !metricsRegistered {
		return
	}
	if !success {
		rotationsTotal.WithLabelValues("failure").Inc()
		return
	}
	rotationsTotal.WithLabelValues("success").Inc()
	rotationRecords.Observe(float64(records))
}

// SetMeteredUsage publishes the current counter for a metered provider.
func (m *Metrics) SetMeteredUsage(provider string, used int) {
	if !metricsRegistered {
		return
	}
	meteredUsage.WithLabelValues(provider).Set(float64(used))
}

// GetRequestsTotal returns the request counter for testing.
func GetRequestsTotal() *prometheus.CounterVec {
	return requestsTotal
}

// GetRevealsTotal returns the reveal counter for testing.
func GetRevealsTotal() *prometheus.CounterVec {
	return revealsTotal
}

// GetRotationsTotal returns the rotation counter for testing.
func GetRotationsTotal() *prometheus.CounterVec {
	return rotationsTotal
}

// GetMeteredUsage returns the metered usage gauge for testing.
func GetMeteredUsage() *prometheus.GaugeVec {
	return meteredUsage
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
