// Package dtsv implements the data-transfer state vector shared between
// the DTP and DTCP engines of a single EFCP connection, plus the PDU
// types and the sequencing, closed-window and retransmission queues. The
// EFCP instance owns one SharedState; the DTP-local and DTCP-local fields
// live on dtp.Engine and dtcp.Engine. DTP and
// DTCP hold non-owning references, validated via the owning EFCP
// instance's ALLOCATED/DEALLOCATED flag before use.
package dtsv

import (
	"sync"
	"time"
)

// MinGranularity is G, the fixed minimum TR granularity.
const MinGranularity = 100 * time.Millisecond

// SharedState is the DT-SV: connection-scoped fields read and written by
// both DTP and DTCP under its own lock.
type SharedState struct {
	mu sync.Mutex

	MaxFlowPDUSize int
	MaxFlowSDUSize int
	MPL            time.Duration // max_packet_lifetime
	A              time.Duration // initial A-timer period
	R              time.Duration // total retransmission budget
	TR             time.Duration // current retransmission timeout

	rcvLeftWindowEdge uint64
	windowClosed      bool

	// WindowEdgeResets counts the number of times rcvLeftWindowEdge has
	// been reset backwards by the receiver-inactivity handler. That
	// backwards reset is intentionally preserved, monotonicity violation
	// and all; this counter lets tests assert on it happening instead of
	// silently tolerating it.
	WindowEdgeResets uint64
}

// NewSharedState builds a DT-SV with the given static parameters. TR is
// clamped to at least MinGranularity so TR never undercuts the timer granularity.
func NewSharedState(maxPDU, maxSDU int, mpl, a, initialTR time.Duration, retransmitMax int) *SharedState {
	if initialTR < MinGranularity {
		initialTR = MinGranularity
	}
	sv := &SharedState{
		MaxFlowPDUSize: maxPDU,
		MaxFlowSDUSize: maxSDU,
		MPL:            mpl,
		A:              a,
		TR:             initialTR,
	}
	sv.R = time.Duration(retransmitMax) * initialTR
	return sv
}

// RcvLeftWindowEdge returns the highest in-order sequence number already
// delivered upward.
func (sv *SharedState) RcvLeftWindowEdge() uint64 {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.rcvLeftWindowEdge
}

// AdvanceLWE moves rcv_left_window_edge forward to seq. It is a no-op (not
// an error) if seq is not ahead of the current edge, since callers drive
// this from delivery loops that may re-check after concurrent advances.
func (sv *SharedState) AdvanceLWE(seq uint64) {
	sv.mu.Lock()
	if seq > sv.rcvLeftWindowEdge {
		sv.rcvLeftWindowEdge = seq
	}
	sv.mu.Unlock()
}

// SetLWE forces rcv_left_window_edge to seq regardless of direction,
// unlike AdvanceLWE. Used for DRF resets and permanent-gap skips, both of
// which legitimately move the edge in ways a plain monotonic advance
// would reject.
func (sv *SharedState) SetLWE(seq uint64) {
	sv.mu.Lock()
	sv.rcvLeftWindowEdge = seq
	sv.mu.Unlock()
}

// ResetLWE implements the receiver-inactivity handler's documented (if
// monotonicity-violating) reset to zero.
func (sv *SharedState) ResetLWE() {
	sv.mu.Lock()
	sv.rcvLeftWindowEdge = 0
	sv.WindowEdgeResets++
	sv.mu.Unlock()
}

// WindowClosed reports whether the flow-control window is currently closed.
func (sv *SharedState) WindowClosed() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.windowClosed
}

// SetWindowClosed updates the window_closed flag.
func (sv *SharedState) SetWindowClosed(closed bool) {
	sv.mu.Lock()
	sv.windowClosed = closed
	sv.mu.Unlock()
}

// UpdateTR installs a new retransmission timeout, clamped to at least
// MinGranularity, and recomputes R from retransmitMax.
func (sv *SharedState) UpdateTR(tr time.Duration, retransmitMax int) {
	if tr < MinGranularity {
		tr = MinGranularity
	}
	sv.mu.Lock()
	sv.TR = tr
	sv.R = time.Duration(retransmitMax) * tr
	sv.mu.Unlock()
}

// Snapshot returns a copy of the scalar fields for read-only inspection by
// policy hooks, which receive the core's state as their first parameter.
type Snapshot struct {
	MaxFlowPDUSize    int
	MaxFlowSDUSize    int
	MPL               time.Duration
	A                 time.Duration
	R                 time.Duration
	TR                time.Duration
	RcvLeftWindowEdge uint64
	WindowClosed      bool
}

// Snapshot takes a consistent read of the DT-SV.
func (sv *SharedState) Snapshot() Snapshot {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return Snapshot{
		MaxFlowPDUSize:    sv.MaxFlowPDUSize,
		MaxFlowSDUSize:    sv.MaxFlowSDUSize,
		MPL:               sv.MPL,
		A:                 sv.A,
		R:                 sv.R,
		TR:                sv.TR,
		RcvLeftWindowEdge: sv.rcvLeftWindowEdge,
		WindowClosed:      sv.windowClosed,
	}
}
