package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relay Prometheus registry and meters.
type Metrics struct {
	Registry        *prometheus.Registry
	Submissions     *prometheus.CounterVec
	VerifyDuration  prometheus.Histogram
	ForwardDuration *prometheus.HistogramVec
	ForwardAttempts *prometheus.CounterVec
	Confirmations   *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
}

// NewMetrics creates a registry with the relay meters.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonsignal_submissions_total",
		Help: "Submissions received by outcome.",
	}, []string{"outcome"})

	verifyDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "anonsignal_verify_duration_seconds",
		Help:    "Duration of proof verifications in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	forwardDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anonsignal_forward_duration_seconds",
		Help:    "Duration of ledger forwards in seconds, retries included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	forwardAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonsignal_forward_attempts_total",
		Help: "Ledger calls made by the forwarder.",
	}, []string{"status"})

	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonsignal_confirmations_total",
		Help: "Ledger confirmations by correlation method.",
	}, []string{"match"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anonsignal_forward_queue_depth",
		Help: "Accepted messages waiting to be forwarded.",
	})

	reg.MustRegister(submissions, verifyDuration, forwardDuration, forwardAttempts, confirmations, queueDepth)

	return &Metrics{
		Registry:        reg,
		Submissions:     submissions,
		VerifyDuration:  verifyDuration,
		ForwardDuration: forwardDuration,
		ForwardAttempts: forwardAttempts,
		Confirmations:   confirmations,
		QueueDepth:      queueDepth,
	}
}
