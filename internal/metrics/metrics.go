// Package metrics defines the prometheus instrumentation shared by the
// EFCP container, DTP and DTCP engines, and the RIB daemon.
//
// When adding new instrumentation, prefer a few high-value signals over
// many narrow ones: PDUs in/out and their disposition, queue occupancy,
// and the latency distributions that timers key off of.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PDUsSent counts outbound PDUs handed to the RMT collaborator, by kind
	// ("data" for data PDUs, the opcode's String() name for control PDUs).
	PDUsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efcp_pdus_sent_total",
			Help: "PDUs handed to the RMT collaborator, by kind.",
		},
		[]string{"kind"})

	// PDUsDropped counts inbound PDUs discarded without upward delivery,
	// tagged by reason (mirrors the rerr.Kind taxonomy where applicable).
	PDUsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efcp_pdus_dropped_total",
			Help: "Inbound PDUs discarded without delivery, by reason.",
		},
		[]string{"reason"})

	// SequencingQueueLength tracks the DTP sequencing queue occupancy.
	SequencingQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "efcp_dtp_sequencing_queue_length",
			Help: "Number of out-of-order PDUs held in the sequencing queue.",
		})

	// ClosedWindowQueueLength tracks CWQ occupancy.
	ClosedWindowQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "efcp_dtcp_closed_window_queue_length",
			Help: "Number of outbound PDUs held by flow control.",
		})

	// RetransmissionQueueLength tracks RTXQ occupancy.
	RetransmissionQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "efcp_dtcp_retransmission_queue_length",
			Help: "Number of sent-but-unacked PDUs awaiting ACK or retransmit.",
		})

	// ATimerExpirations counts A-timer fires, by outcome ("delivered",
	// "retransmit_requested", "gap_skipped").
	ATimerExpirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efcp_dtp_a_timer_expirations_total",
			Help: "A-timer expirations, by resulting action.",
		},
		[]string{"outcome"})

	// RTTSample observes the RTT estimator's raw samples in seconds.
	RTTSample = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "efcp_dtcp_rtt_sample_seconds",
			Help:    "Individual RTT samples fed to the RTO estimator.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		})

	// RetransmissionTimeout tracks the most recently computed TR, in one
	// gauge shared by all connections; callers set it directly rather than observing a distribution
	// since TR is a slowly changing control value, not an event stream.
	RetransmissionTimeout = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "efcp_dtcp_retransmission_timeout_seconds",
			Help: "Most recently computed TR (retransmission timeout).",
		})

	// ConnectionsActive tracks live EFCP instances.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "efcp_connections_active",
			Help: "EFCP instances currently ALLOCATED.",
		})

	// PeerQosViolations counts the times a connection exceeded
	// data_retransmit_max. The connection logs the failure and stays
	// allocated.
	PeerQosViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "efcp_peer_qos_violations_total",
			Help: "Times data_retransmit_max was exceeded on a connection.",
		})

	// CDAPMessages counts CDAP messages processed, by opcode and direction.
	CDAPMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdap_messages_total",
			Help: "CDAP messages encoded or decoded, by opcode and direction.",
		},
		[]string{"opcode", "direction"})

	// RIBObjects tracks the live object count in the RIB.
	RIBObjects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rib_objects",
			Help: "Objects currently present in the RIB.",
		})
)
