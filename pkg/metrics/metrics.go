// Package metrics holds the Prometheus collectors of the watchdog.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rpl_watchdog"

var (
	// CyclesTotal counts completed dispatcher cycles by kind (packet, lifetime, trickle).
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of completed watchdog cycles",
		},
		[]string{"kind"},
	)

	// ValidationFailuresTotal counts messages dropped by structural validation.
	ValidationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Total number of control messages rejected by validation",
		},
		[]string{"message"},
	)

	// AbortedCyclesTotal counts cycles aborted by a failing rule or protector.
	AbortedCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborted_cycles_total",
			Help:      "Total number of cycles aborted by a rule or protector failure",
		},
	)

	// IdentifiedTotal counts identification bits raised by the rules.
	IdentifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identified_total",
			Help:      "Total number of conditions identified by rules",
		},
		[]string{"code"},
	)

	// FindingsTotal counts bits surviving reconciliation.
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Total number of reconciled findings",
		},
		[]string{"code"},
	)

	// CycleDurationSeconds measures one dispatcher cycle.
	CycleDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one watchdog cycle in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 16), // 1µs to ~32ms
		},
	)

	// QueueLength is the number of events waiting for the watchdog task.
	QueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Number of events waiting in the watchdog queue",
		},
	)

	// FeedFramesTotal counts frames received from capture feeds by outcome.
	FeedFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_frames_total",
			Help:      "Total number of capture frames received",
		},
		[]string{"sniffer", "outcome"},
	)

	// SinkErrorsTotal counts delivery failures per sink.
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Total number of finding delivery failures",
		},
		[]string{"sink"},
	)
)

// Feed frame outcomes.
const (
	FrameDecoded = "decoded"
	FrameSkipped = "skipped"
	FrameInvalid = "invalid"
)
