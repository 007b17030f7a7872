// Package metrics exposes Prometheus instrumentation for the orchestration
// core. Metrics are registered against an injectable Registerer so tests can
// use a private registry, and carry the instance name as a ConstLabel so
// multiple Waymark instances can share one scrape endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one Waymark instance.
type Metrics struct {
	EventsObserved     *prometheus.CounterVec // by tier, counted off the broadcast channel
	EventsProcessed    *prometheus.CounterVec // by tier and outcome (completed|failed|requeued)
	EventsSkipped      prometheus.Counter     // idempotency guard skips
	EventsReaped       prometheus.Counter     // stuck events reclassified by the reaper
	WaitsExpired       prometheus.Counter     // waiting agent runs timed out by the sweeper
	ListenerErrors     prometheus.Counter     // detector failures swallowed by the global listener
	QueueDepth         *prometheus.GaugeVec   // pending IDs per tier queue
	ProcessingDuration prometheus.Histogram   // handler wall time in seconds
}

// New creates and registers the collectors.
func New(reg prometheus.Registerer, instanceName string) *Metrics {
	constLabels := prometheus.Labels{"instance": instanceName}

	m := &Metrics{
		EventsObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "waymark_events_observed_total",
			Help:        "Total events observed on the broadcast channel, by tier",
			ConstLabels: constLabels,
		}, []string{"tier"}),

		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "waymark_events_processed_total",
			Help:        "Total events processed by the dispatcher, by tier and outcome",
			ConstLabels: constLabels,
		}, []string{"tier", "outcome"}),

		EventsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "waymark_events_skipped_total",
			Help:        "Total events skipped by the idempotency guard",
			ConstLabels: constLabels,
		}),

		EventsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "waymark_events_reaped_total",
			Help:        "Total stuck processing events reclassified by the reaper",
			ConstLabels: constLabels,
		}),

		WaitsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "waymark_waits_expired_total",
			Help:        "Total waiting agent runs timed out by the expiry sweeper",
			ConstLabels: constLabels,
		}),

		ListenerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "waymark_listener_errors_total",
			Help:        "Total detector failures swallowed by the global listener",
			ConstLabels: constLabels,
		}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "waymark_queue_depth",
			Help:        "Pending event IDs per tier queue",
			ConstLabels: constLabels,
		}, []string{"tier"}),

		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "waymark_processing_duration_seconds",
			Help:        "Handler wall time in seconds",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~80s
		}),
	}

	reg.MustRegister(
		m.EventsObserved,
		m.EventsProcessed,
		m.EventsSkipped,
		m.EventsReaped,
		m.WaitsExpired,
		m.ListenerErrors,
		m.QueueDepth,
		m.ProcessingDuration,
	)

	return m
}
