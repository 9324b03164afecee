// Package policy implements the capability-record hook set the core
// components call into, replacing virtual dispatch with a plain struct
// of function fields. Each core component (DTP, DTCP) carries a *Slot
// pointing at the currently active set; swaps happen under the slot's
// own lock so a running callback is never yanked out from under itself.
package policy

import (
	"sync"
	"time"

	"github.com/rinastack/efcp-core/dtsv"
	"github.com/rinastack/efcp-core/rerr"
)

// DTPContext is the state a DTP policy hook is allowed to see and
// mutate, passed as every hook's first parameter.
type DTPContext struct {
	SV  *dtsv.SharedState
	CWQ *dtsv.ClosedWindowQueue
	RTX *dtsv.RetransmissionQueue

	MaxClosedWinQLength int
	RTXControlEnabled   bool

	// Send hands a PDU to the transmission-control policy's chosen path
	// (normally the RMT collaborator).
	Send func(dtsv.PDU) error

	// DisableUpwardWrites/EnableUpwardWrites toggle the upper-layer write
	// side; EnableUpwardWrites must be idempotent since the CWQ drain
	// re-enables upper-layer writes after every drain pass that leaves the
	// CWQ under its bound, and policy code should not have to track that
	// itself.
	DisableUpwardWrites func()
	EnableUpwardWrites  func()

	NextInitialSeq func() uint64
}

// DTPPolicySet is the capability record for DTP's hook family.
type DTPPolicySet struct {
	Name string

	// TransmissionControl sends pdu via whatever path the policy chooses.
	// Default: hand to ctx.Send.
	TransmissionControl func(ctx *DTPContext, pdu dtsv.PDU) error

	// ClosedWindow decides what happens to an outbound PDU while the
	// window is closed. Default: enqueue on CWQ; once the CWQ holds
	// max_closed_winq_length-1 or more PDUs, invoke FlowControlOverrun
	// first and still enqueue. A PDU arriving with the CWQ already at its
	// bound is refused with ResourceExhausted.
	ClosedWindow func(ctx *DTPContext, pdu dtsv.PDU) error

	// FlowControlOverrun fires when the CWQ is about to exceed its bound.
	// Default: disable upward writes (the PDU is still enqueued by the
	// caller after this returns).
	FlowControlOverrun func(ctx *DTPContext) error

	// InitialSequenceNumber returns the first sequence number of a new
	// data run (used on DRF).
	InitialSequenceNumber func(ctx *DTPContext) uint64

	// ReceiverInactivityTimer runs when the receiver-inactivity timer
	// expires.
	ReceiverInactivityTimer func(ctx *DTPContext)

	// SenderInactivityTimer runs when the sender-inactivity timer expires.
	SenderInactivityTimer func(ctx *DTPContext)

	// ReconcileFlowConflict resolves a conflicting simultaneous update to
	// flow parameters (e.g. concurrent window resize and teardown).
	// Default: no-op, conflicts are resolved by last-writer-wins under the
	// DT-SV lock.
	ReconcileFlowConflict func(ctx *DTPContext) error
}

// DefaultDTPPolicySet builds the default DTP policy set. params are
// string key/value pairs supplied at connection-creation time;
// DefaultDTPPolicySet recognizes none currently (the default behaviours
// are parameter-free) but accepts an empty map for uniformity with
// policy sets that do take parameters.
func DefaultDTPPolicySet(params map[string]string) *DTPPolicySet {
	ps := &DTPPolicySet{
		Name: "default",
		TransmissionControl: func(ctx *DTPContext, pdu dtsv.PDU) error {
			return ctx.Send(pdu)
		},
		InitialSequenceNumber: func(ctx *DTPContext) uint64 {
			if ctx.NextInitialSeq != nil {
				return ctx.NextInitialSeq()
			}
			return 1
		},
		ReceiverInactivityTimer: func(ctx *DTPContext) {
			ctx.SV.ResetLWE()
		},
		SenderInactivityTimer: func(ctx *DTPContext) {
			ctx.CWQ.Drain()
			ctx.RTX.Drain()
		},
		ReconcileFlowConflict: func(ctx *DTPContext) error {
			return nil
		},
		FlowControlOverrun: func(ctx *DTPContext) error {
			ctx.DisableUpwardWrites()
			return nil
		},
	}
	ps.ClosedWindow = func(ctx *DTPContext, pdu dtsv.PDU) error {
		if ctx.CWQ.Len() >= ctx.MaxClosedWinQLength-1 {
			if err := ps.FlowControlOverrun(ctx); err != nil {
				return err
			}
		}
		if !ctx.CWQ.Push(pdu) {
			return rerr.New(rerr.ResourceExhausted, "closed_window")
		}
		return nil
	}
	return ps
}

// Slot holds the currently active policy set for one component behind a
// read/write lock. The lock covers only reading and replacing the
// pointer: a Swap can complete while a caller is still running a hook of
// the set it got from an earlier Get, and that hook finishes on the old
// set.
type Slot[T any] struct {
	mu sync.RWMutex
	ps T
}

// NewSlot wraps an initial policy set.
func NewSlot[T any](initial T) *Slot[T] {
	return &Slot[T]{ps: initial}
}

// Get returns the active policy set under a read lock. Callers should
// invoke hooks promptly and not retain the pointer across a later Swap if
// they need to observe the newest set on each call.
func (s *Slot[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ps
}

// Swap installs a new policy set. It waits only for concurrent Get
// calls, not for hooks already running on the previous set.
func (s *Slot[T]) Swap(next T) {
	s.mu.Lock()
	s.ps = next
	s.mu.Unlock()
}

// ATimerDivisor is AF: the A-timer restart period uses A/AF. It is a
// package constant fixed at 1; no configuration field overrides it.
const ATimerDivisor = 1

// ATimerPeriod returns A/AF for the supplied A.
func ATimerPeriod(a time.Duration) time.Duration {
	return a / ATimerDivisor
}
