package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RegisterOpsTotal tracks register reads/writes by controller, bank, operation and outcome
	RegisterOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stam_register_ops_total",
			Help: "Total number of register operations issued to the forwarding device",
		},
		[]string{"controller", "bank", "op", "status"},
	)

	// ServerWeight tracks the last weight written for each server
	ServerWeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stam_server_weight",
			Help: "Last weight pushed to the server_weights register bank",
		},
		[]string{"controller", "server"},
	)

	// WeightWriteFailuresTotal tracks failed weight writes per server
	WeightWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stam_weight_write_failures_total",
			Help: "Total number of failed server weight writes",
		},
		[]string{"controller", "server"},
	)

	// DigestsTotal tracks flow digests by outcome (accepted or malformed)
	DigestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stam_flow_digests_total",
			Help: "Total number of flow digests received by the digest listener",
		},
		[]string{"listener", "status"},
	)

	// DigestConnections tracks currently open digest connections
	DigestConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stam_digest_connections",
			Help: "Number of open connections on the flow digest listener",
		},
		[]string{"listener"},
	)

	// FlowCacheEntries tracks the number of flows in the digest cache
	FlowCacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stam_flow_cache_entries",
			Help: "Number of distinct flows held in the flow digest cache",
		},
		[]string{"listener"},
	)

	// AuthenticatedPeers tracks the size of the authenticated peer set
	AuthenticatedPeers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stam_authenticated_peers",
			Help: "Number of controllers that passed authentication in the current session",
		},
		[]string{"controller"},
	)

	// AdaptationEventsTotal tracks adaptation events sent per peer and outcome
	AdaptationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stam_adaptation_events_total",
			Help: "Total number of adaptation events disseminated to peers",
		},
		[]string{"controller", "peer", "status"},
	)

	// HintsReceivedTotal tracks adaptation hints received from peers
	HintsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stam_hints_received_total",
			Help: "Total number of adaptation hints received from peer controllers",
		},
		[]string{"controller", "source"},
	)

	// CycleDuration tracks control loop cycle duration in seconds
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stam_cycle_duration_seconds",
			Help:    "Duration of control loop cycles in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		},
		[]string{"controller", "status"},
	)

	// FeedbackDelta tracks the last observed improvement after an adaptation
	FeedbackDelta = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stam_feedback_delta",
			Help: "Relative traffic improvement observed after the last adaptation",
		},
		[]string{"controller"},
	)
)

// RecordRegisterOp increments the register operation counter
func RecordRegisterOp(controller, bank, op, status string) {
	RegisterOpsTotal.WithLabelValues(controller, bank, op, status).Inc()
}

// SetServerWeight records the last weight written for a server
func SetServerWeight(controller string, server int, weight int64) {
	ServerWeight.WithLabelValues(controller, strconv.Itoa(server)).Set(float64(weight))
}

// RecordWeightWriteFailure increments the weight write failure counter for a server
func RecordWeightWriteFailure(controller string, server int) {
	WeightWriteFailuresTotal.WithLabelValues(controller, strconv.Itoa(server)).Inc()
}

// RecordDigest increments the digest counter; accepted selects the status label
func RecordDigest(listener string, accepted bool) {
	status := "accepted"
	if !accepted {
		status = "malformed"
	}
	DigestsTotal.WithLabelValues(listener, status).Inc()
}

// SetDigestConnections sets the number of open digest connections
func SetDigestConnections(listener string, count int64) {
	DigestConnections.WithLabelValues(listener).Set(float64(count))
}

// SetFlowCacheEntries sets the number of cached flows
func SetFlowCacheEntries(listener string, count int) {
	FlowCacheEntries.WithLabelValues(listener).Set(float64(count))
}

// SetAuthenticatedPeers sets the authenticated peer count
func SetAuthenticatedPeers(controller string, count int) {
	AuthenticatedPeers.WithLabelValues(controller).Set(float64(count))
}

// RecordAdaptationEvent increments the adaptation counter; status is "sent", "failed" or "timeout"
func RecordAdaptationEvent(controller, peer, status string) {
	AdaptationEventsTotal.WithLabelValues(controller, peer, status).Inc()
}

// RecordHintReceived increments the received hint counter
func RecordHintReceived(controller, source string) {
	HintsReceivedTotal.WithLabelValues(controller, source).Inc()
}

// RecordCycleDuration records one control loop cycle
func RecordCycleDuration(controller, status string, durationSeconds float64) {
	CycleDuration.WithLabelValues(controller, status).Observe(durationSeconds)
}

// SetFeedbackDelta records the last feedback delta
func SetFeedbackDelta(controller string, delta float64) {
	FeedbackDelta.WithLabelValues(controller).Set(delta)
}
