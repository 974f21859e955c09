// Package metrics exposes prometheus instrumentation for the netplay core.
// Core logic only ever writes these; nothing in the tick path reads them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// RollbacksTotal counts rollback re-executions.
	RollbacksTotal = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "talon_rollbacks_total",
		Help: "Number of rollback re-executions performed.",
	})

	// RollbackDepth observes how many frames each rollback re-executed.
	RollbackDepth = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "talon_rollback_depth_frames",
		Help:    "Frames re-executed per rollback.",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	})

	// StalledTicks counts ticks suspended by a saturated prediction window.
	StalledTicks = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "talon_stalled_ticks_total",
		Help: "Ticks skipped because the prediction window was saturated.",
	})

	// DesyncsDetected counts checksum mismatches.
	DesyncsDetected = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "talon_desyncs_detected_total",
		Help: "Checksum mismatches observed against remote peers.",
	})

	// LateInputs counts remote inputs that arrived after their frame was
	// predicted and contradicted the prediction.
	LateInputs = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "talon_late_inputs_total",
		Help: "Remote inputs that invalidated an already-executed prediction.",
	})

	// StateSyncsSent counts authoritative snapshots broadcast.
	StateSyncsSent = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "talon_state_syncs_sent_total",
		Help: "STATE_SYNC snapshots broadcast by the local authority.",
	})

	// StateSyncsAccepted counts snapshots adopted locally.
	StateSyncsAccepted = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "talon_state_syncs_accepted_total",
		Help: "STATE_SYNC snapshots accepted and adopted.",
	})

	// StateSyncsRejected counts snapshots refused (wrong sender or stale).
	StateSyncsRejected = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "talon_state_syncs_rejected_total",
		Help: "STATE_SYNC snapshots rejected as stale or unauthorized.",
	})

	// StateSyncsBuffered counts snapshots parked for a not-yet-known sender.
	StateSyncsBuffered = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "talon_state_syncs_buffered_total",
		Help: "STATE_SYNC snapshots buffered while the sender was unknown.",
	})

	// StateSyncsDropped counts buffered snapshots lost to the cap.
	StateSyncsDropped = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "talon_state_syncs_dropped_total",
		Help: "Buffered STATE_SYNC snapshots dropped by the buffer cap.",
	})
)

// Registry returns the core metrics registry for embedding.
func Registry() *prometheus.Registry { return registry }

// Handler returns an HTTP handler serving the core metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
