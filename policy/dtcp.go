package policy

import (
	"time"

	"github.com/rinastack/efcp-core/dtsv"
)

// DTCPContext is the state a DTCP policy hook is allowed to see and
// mutate, passed as every hook's first parameter.
type DTCPContext struct {
	SV  *dtsv.SharedState
	CWQ *dtsv.ClosedWindowQueue
	RTX *dtsv.RetransmissionQueue

	DataRetransmitMax int

	SndLeftWindowEdge  uint64
	SndRightWindowEdge uint64
	RcvRightWindowEdge uint64
	InitialCredit      uint64
	SendingRate        uint32
	TimeFrame          time.Duration

	RTT, SRTT, RTTVar time.Duration

	Send             func(dtsv.PDU) error
	MarkQosViolation func()
}

// DTCPPolicySet is the capability record for DTCP's hook family. The
// DTCP engine calls RcvrAck, SenderAck, SendingAck, ReceivingFlowControl
// and RTTEstimator; LostControlPDU, RcvrFlowControl, RateReduction,
// NoRateSlowDown and NoOverrideDefaultPeak are part of the set, but the
// engine does not call them.
type DTCPPolicySet struct {
	Name string

	// LostControlPDU runs when a control PDU is suspected lost (e.g. a
	// gap in last_rcv_ctrl_seq). Default: no-op, data-plane retransmission
	// is unaffected by a single lost control PDU.
	LostControlPDU func(ctx *DTCPContext)

	// RcvrAck runs when this side, as receiver, decides to acknowledge up
	// to seq. Default: send an ACK control PDU.
	RcvrAck func(ctx *DTCPContext, seq uint64) error

	// SenderAck runs when an ACK for seq arrives at the sender. Default:
	// pop RTXQ entries with Seq <= seq.
	SenderAck func(ctx *DTCPContext, seq uint64) []dtsv.RTXEntry

	// SendingAck computes the sequence number to ACK up to. Default:
	// rcv_left_window_edge.
	SendingAck func(ctx *DTCPContext) uint64

	// ReceivingFlowControl applies an inbound FC/ACK+FC PCI to this side's
	// sender state. Default: update SndRightWindowEdge/SendingRate/
	// TimeFrame from the PCI.
	ReceivingFlowControl func(ctx *DTCPContext, pci dtsv.PCI)

	// RcvrFlowControl builds the PCI fields this side advertises as
	// receiver. Default: current RcvRightWindowEdge/credit.
	RcvrFlowControl func(ctx *DTCPContext) dtsv.PCI

	// RateReduction runs after a lost PDU is detected, to back off the
	// sending rate. Default: halve SendingRate, floor at 1.
	RateReduction func(ctx *DTCPContext)

	// RTTEstimator folds a clean RTT sample into SRTT/RTTVar/TR per
	// RFC 6298. Default implements that formula.
	RTTEstimator func(ctx *DTCPContext, sample time.Duration)

	// NoRateSlowDown reports whether rate-based flow control should skip
	// its normal slow-down-on-loss behaviour. Default: false.
	NoRateSlowDown func(ctx *DTCPContext) bool

	// NoOverrideDefaultPeak reports whether a peer-advertised rate should
	// be allowed to exceed this side's configured peak. Default: false.
	// No peak clamp is applied: the engine takes a peer-advertised rate
	// as received.
	NoOverrideDefaultPeak func(ctx *DTCPContext) bool
}

// DefaultDTCPPolicySet builds the default DTCP policy set.
func DefaultDTCPPolicySet(params map[string]string) *DTCPPolicySet {
	return &DTCPPolicySet{
		Name: "default",
		LostControlPDU: func(ctx *DTCPContext) {},
		RcvrAck: func(ctx *DTCPContext, seq uint64) error {
			return ctx.Send(dtsv.PDU{PCI: dtsv.PCI{
				Opcode:          dtsv.OpcodeACK,
				AckSeq:          seq,
				RightWindowEdge: ctx.RcvRightWindowEdge,
			}})
		},
		SenderAck: func(ctx *DTCPContext, seq uint64) []dtsv.RTXEntry {
			return ctx.RTX.PopAckedUpTo(seq)
		},
		SendingAck: func(ctx *DTCPContext) uint64 {
			return ctx.SV.RcvLeftWindowEdge()
		},
		ReceivingFlowControl: func(ctx *DTCPContext, pci dtsv.PCI) {
			ctx.SndRightWindowEdge = pci.RightWindowEdge
			if pci.SendingRate != 0 {
				ctx.SendingRate = pci.SendingRate
			}
			if pci.TimeFrame != 0 {
				ctx.TimeFrame = pci.TimeFrame
			}
		},
		RcvrFlowControl: func(ctx *DTCPContext) dtsv.PCI {
			return dtsv.PCI{
				Opcode:          dtsv.OpcodeFC,
				RightWindowEdge: ctx.RcvRightWindowEdge,
				SendingRate:     ctx.SendingRate,
				TimeFrame:       ctx.TimeFrame,
			}
		},
		RateReduction: func(ctx *DTCPContext) {
			ctx.SendingRate /= 2
			if ctx.SendingRate < 1 {
				ctx.SendingRate = 1
			}
		},
		RTTEstimator: func(ctx *DTCPContext, sample time.Duration) {
			defaultRTTEstimator(ctx, sample)
		},
		NoRateSlowDown:        func(ctx *DTCPContext) bool { return false },
		NoOverrideDefaultPeak: func(ctx *DTCPContext) bool { return false },
	}
}

// defaultRTTEstimator implements an RFC 6298-derived formula:
//
//	new_rtt = now - rtxq[n].first_send_time
//	if rtt == 0: srtt = new_rtt; rttvar = new_rtt/2
//	else:        rttvar = 3/4*rttvar + 1/4*|srtt - new_rtt|
//	             srtt = 7/8*srtt + 1/8*new_rtt
//	TR = max(srtt + max(G, 4*rttvar) + A, 1s)
func defaultRTTEstimator(ctx *DTCPContext, newRTT time.Duration) {
	if ctx.RTT == 0 {
		ctx.SRTT = newRTT
		ctx.RTTVar = newRTT / 2
	} else {
		delta := ctx.SRTT - newRTT
		if delta < 0 {
			delta = -delta
		}
		ctx.RTTVar = ctx.RTTVar*3/4 + delta/4
		ctx.SRTT = ctx.SRTT*7/8 + newRTT/8
	}
	ctx.RTT = newRTT

	g := dtsv.MinGranularity
	bound := 4 * ctx.RTTVar
	if bound < g {
		bound = g
	}
	tr := ctx.SRTT + bound + ctx.SV.Snapshot().A
	if tr < time.Second {
		tr = time.Second
	}
	ctx.SV.UpdateTR(tr, ctx.DataRetransmitMax)
}
