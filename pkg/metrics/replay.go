package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReplayMetrics contains Prometheus metrics for the replay pipeline.
type ReplayMetrics struct {
	TicksTotal         *prometheus.CounterVec
	TickDuration       prometheus.Histogram
	PredictionDuration *prometheus.HistogramVec
	FallbackTotal      *prometheus.CounterVec
	ActiveReplays      prometheus.Gauge
	Subscribers        *prometheus.GaugeVec
	BroadcastFailures  *prometheus.CounterVec
	ExportsTotal       *prometheus.CounterVec
}

// NewReplayMetrics creates and registers replay pipeline metrics.
func NewReplayMetrics(namespace string) *ReplayMetrics {
	m := &ReplayMetrics{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replay",
				Name:      "ticks_total",
				Help:      "Total number of replay ticks",
			},
			[]string{"outcome"}, // outcome: emitted, idle, error
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "replay",
				Name:      "tick_duration_seconds",
				Help:      "Duration of a replay tick including the model call",
				Buckets:   prometheus.DefBuckets,
			},
		),
		PredictionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "request_duration_seconds",
				Help:      "Duration of prediction requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		FallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "fallback_total",
				Help:      "Total number of synthetic fallback predictions",
			},
			[]string{"reason"}, // reason: timeout, error
		),
		ActiveReplays: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "replay",
				Name:      "active",
				Help:      "Number of buildings with a running replay",
			},
		),
		Subscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "subscribers",
				Help:      "Number of connected live stream subscribers",
			},
			[]string{"building"},
		),
		BroadcastFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "delivery_failures_total",
				Help:      "Total number of tick deliveries dropped for a subscriber",
			},
			[]string{"reason"},
		),
		ExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "messages_total",
				Help:      "Total number of tick results exported to a broker",
			},
			[]string{"kind", "status"},
		),
	}

	MustRegister(
		m.TicksTotal,
		m.TickDuration,
		m.PredictionDuration,
		m.FallbackTotal,
		m.ActiveReplays,
		m.Subscribers,
		m.BroadcastFailures,
		m.ExportsTotal,
	)

	return m
}
