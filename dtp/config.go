// Package dtp implements the Data Transfer Protocol engine: the outbound
// SDU->PDU pipeline, inbound ordering/reassembly, the sequencing queue,
// the A-timer, and the sender/receiver inactivity timers.
package dtp

import "time"

// Config is the per-connection DTP configuration.
type Config struct {
	// MaxSDUGap bounds how large an out-of-order gap may be before a PDU
	// is still delivered in order rather than held for reordering.
	MaxSDUGap uint64

	// InitialATimer is A, the initial A-timer period.
	InitialATimer time.Duration

	InOrderDelivery    bool
	IncompleteDelivery bool
	PartialDelivery    bool

	// SeqNumRolloverThreshold is carried in the configuration, but the
	// DTP engine does not read it: no rollover check or renegotiation
	// takes place.
	SeqNumRolloverThreshold uint64

	DTCPPresent bool

	// SenderInactivityPeriod/ReceiverInactivityPeriod drive the
	// sender-inactivity and receiver-inactivity expiration handlers.
	SenderInactivityPeriod   time.Duration
	ReceiverInactivityPeriod time.Duration

	// PolicySet names the registered DTP policy set this connection runs
	// with; empty selects "default". PolicyParams are passed verbatim to
	// the set's factory.
	PolicySet    string
	PolicyParams map[string]string
}

// DefaultConfig returns illustrative defaults (A=0, in-order delivery)
// with DTCP disabled; callers override fields for their scenario.
func DefaultConfig() Config {
	return Config{
		MaxSDUGap:                0,
		InitialATimer:            0,
		InOrderDelivery:          true,
		SeqNumRolloverThreshold:  0,
		DTCPPresent:              false,
		SenderInactivityPeriod:   30 * time.Second,
		ReceiverInactivityPeriod: 30 * time.Second,
	}
}
