// Package dtcp implements the Data Transfer Control Protocol engine:
// control-PDU handling (ACK/NACK/FC/ACK+FC/CONTROL-ACK/RENDEZVOUS), the
// closed-window-queue drain, the RTT estimator, rate regulation, and
// the RTXQ/RTX timer.
package dtcp

import "time"

// Config is the per-connection DTCP configuration.
type Config struct {
	FlowControl   bool
	WindowBasedFC bool
	RateBasedFC   bool
	RTXControl    bool

	InitialCredit       uint64
	MaxClosedWinQLength int

	SendingRate uint32
	TimePeriod  time.Duration

	InitialTR         time.Duration
	DataRetransmitMax int

	// PolicySet names the registered DTCP policy set this connection runs
	// with; empty selects "default". PolicyParams are passed verbatim to
	// the set's factory.
	PolicySet    string
	PolicyParams map[string]string
}

// DefaultConfig returns illustrative window-based-flow-control
// parameters suitable for a single demo connection.
func DefaultConfig() Config {
	return Config{
		FlowControl:         true,
		WindowBasedFC:       true,
		MaxClosedWinQLength: 8,
		InitialCredit:       4,
		InitialTR:           200 * time.Millisecond,
		DataRetransmitMax:   3,
	}
}
