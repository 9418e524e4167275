package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session Metrics
var (
	// SessionsOpenedTotal tracks sessions allocated by the registry
	SessionsOpenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_sessions_opened_total",
			Help: "Total recording sessions opened",
		},
	)

	// SessionsActive tracks sessions currently bound to a connection
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recorder_sessions_active",
			Help: "Recording sessions currently bound to a connection",
		},
	)
)

// Fragment Metrics
var (
	// FragmentsWrittenTotal tracks fragments durably persisted
	FragmentsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_fragments_written_total",
			Help: "Total fragments persisted to the fragment store",
		},
	)

	// FragmentBytesTotal tracks persisted payload bytes
	FragmentBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_fragment_bytes_total",
			Help: "Total fragment payload bytes persisted",
		},
	)

	// FragmentWriteErrorsTotal tracks failed fragment writes
	FragmentWriteErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_fragment_write_errors_total",
			Help: "Total fragment writes that failed",
		},
	)

	// FramesDiscardedTotal tracks binary frames received after a session left open
	FramesDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_frames_discarded_total",
			Help: "Binary frames discarded because the session was no longer open",
		},
	)

	// ControlMessagesTotal tracks control messages by kind (complete, ignored, malformed)
	ControlMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_control_messages_total",
			Help: "Control messages received by kind",
		},
		[]string{"kind"},
	)
)

// Merge Metrics
var (
	// MergesTotal tracks merge outcomes (merged, empty, tool_error, error)
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_merges_total",
			Help: "Merge attempts by result",
		},
		[]string{"result"},
	)

	// MergeDuration tracks how long the concatenation step takes
	MergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recorder_merge_duration_seconds",
			Help:    "Merge duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// MergesInFlight tracks merges currently running or waiting for a slot
	MergesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recorder_merges_in_flight",
			Help: "Merges dispatched and not yet finished",
		},
	)
)

// WebSocket Metrics
var (
	// WebSocketRejectionsTotal tracks upgrade requests refused before a session was opened
	WebSocketRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_websocket_rejections_total",
			Help: "WebSocket connections rejected by reason",
		},
		[]string{"reason"},
	)
)
