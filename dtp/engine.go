package dtp

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rinastack/efcp-core/dtsv"
	"github.com/rinastack/efcp-core/internal/metrics"
	"github.com/rinastack/efcp-core/internal/timerq"
	"github.com/rinastack/efcp-core/policy"
)

// DTCPNotifier is the narrow interface DTP uses to reach its paired DTCP
// engine, keeping the dtp package free of an import on dtcp (which in
// turn imports dtp-adjacent queue types from dtsv, not from dtp itself) so
// the two engines' mutual coupling never becomes a Go import cycle.
// efcp.Connection wires a *dtcp.Engine in as this interface.
type DTCPNotifier interface {
	// IsWindowClosed reports whether seq falls outside the current
	// flow-control/rate window.
	IsWindowClosed(seq uint64) bool
	// OnDataRunFlag notifies DTCP that a fresh data run has started.
	OnDataRunFlag()
	// RequestRetransmission asks DTCP to recover seq via NACK/timeout,
	// called when the A-timer gives up waiting for it.
	RequestRetransmission(seq uint64)
	// OnDataPDUSent records a data PDU that went out on the open-window
	// fast path, so max_seq_nr_sent, the rate counter, and the RTX timer
	// stay in step with PDUs that never touched the CWQ.
	OnDataPDUSent(seq uint64)
	// ObserveInbound runs after an inbound data PDU has been processed and
	// lets DTCP acknowledge it: an ACK+FC carrying the new right window
	// edge when window-based flow control is on, otherwise a plain ACK.
	ObserveInbound(pci dtsv.PCI)
}

// Upcalls are the collaborators DTP calls into: delivery to the upper
// layer and the lower boundary toward the RMT.
type Upcalls struct {
	Deliver      func(sdu []byte)
	Send         func(dtsv.PDU) error
	EnableWrite  func()
	DisableWrite func()
}

// Engine is the DTP engine for one connection.
type Engine struct {
	cfg Config
	sv  *dtsv.SharedState
	seq *dtsv.SequencingQueue
	cwq *dtsv.ClosedWindowQueue
	rtx *dtsv.RetransmissionQueue

	rtxEnabled bool

	policySlot *policy.Slot[*policy.DTPPolicySet]

	lastSeqNrSent uint64
	maxSeqNrRcv   uint64
	droppedPDUs   uint64
	pendingDRF    uint32 // atomic bool

	dtcp DTCPNotifier
	up   Upcalls

	timers             *timerq.Queue
	aTimer             *timerq.Timer
	senderInactivity   *timerq.Timer
	receiverInactivity *timerq.Timer

	log *logrus.Entry
}

// NewEngine builds a DTP engine. cwq/rtx are shared with the paired DTCP
// engine and owned by the enclosing EFCP connection. dtcp may be nil if
// the connection has no DTCP (dtcp_present=false).
func NewEngine(cfg Config, sv *dtsv.SharedState, cwq *dtsv.ClosedWindowQueue, rtx *dtsv.RetransmissionQueue, rtxEnabled bool, up Upcalls, dtcp DTCPNotifier, timers *timerq.Queue, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ps, err := policy.NewDTPPolicySet(cfg.PolicySet, cfg.PolicyParams)
	if err != nil {
		log.WithError(err).WithField("policy_set", cfg.PolicySet).Warn("unknown dtp policy set, using default")
		ps = policy.DefaultDTPPolicySet(cfg.PolicyParams)
	}
	e := &Engine{
		cfg:        cfg,
		sv:         sv,
		seq:        dtsv.NewSequencingQueue(),
		cwq:        cwq,
		rtx:        rtx,
		rtxEnabled: rtxEnabled,
		policySlot: policy.NewSlot(ps),
		dtcp:       dtcp,
		up:         up,
		timers:     timers,
		pendingDRF: 1, // the first PDU of a connection starts a run
		log:        log.WithField("component", "dtp"),
	}
	e.aTimer = timerq.NewTimer(timers, e.aTimerFire)
	e.senderInactivity = timerq.NewTimer(timers, e.senderInactivityFire)
	e.receiverInactivity = timerq.NewTimer(timers, e.receiverInactivityFire)
	return e
}

// SetPolicy hot-swaps the active DTP policy set.
func (e *Engine) SetPolicy(ps *policy.DTPPolicySet) { e.policySlot.Swap(ps) }

// DroppedPDUs returns the dropped_pdus counter.
func (e *Engine) DroppedPDUs() uint64 { return atomic.LoadUint64(&e.droppedPDUs) }

// LastSeqNrSent returns last_seq_nr_sent.
func (e *Engine) LastSeqNrSent() uint64 { return atomic.LoadUint64(&e.lastSeqNrSent) }

func (e *Engine) dtpCtx() *policy.DTPContext {
	return &policy.DTPContext{
		SV:                  e.sv,
		CWQ:                 e.cwq,
		RTX:                 e.rtx,
		MaxClosedWinQLength: e.cwq.Bound(),
		RTXControlEnabled:   e.rtxEnabled,
		Send:                e.up.Send,
		DisableUpwardWrites: e.up.DisableWrite,
		EnableUpwardWrites:  e.up.EnableWrite,
	}
}

// Write is the outbound path: assign a sequence number, mark DRF on the
// first PDU of a run, route through flow control, and hand off for
// transmission.
func (e *Engine) Write(sdu []byte) error {
	e.senderInactivity.Restart(e.cfg.SenderInactivityPeriod)

	// fragmentation/reassembly is identity here; SDUs map 1:1 to PDUs.
	seq := atomic.AddUint64(&e.lastSeqNrSent, 1)

	var flags dtsv.Flag
	if atomic.CompareAndSwapUint32(&e.pendingDRF, 1, 0) {
		flags |= dtsv.FlagDRF
	}

	pdu := dtsv.PDU{PCI: dtsv.PCI{Seq: seq, Flags: flags}, Payload: sdu}

	ps := e.policySlot.Get()
	ctx := e.dtpCtx()

	if e.cfg.DTCPPresent && e.dtcp != nil && e.dtcp.IsWindowClosed(seq) {
		// held PDUs join the RTXQ only when the drain sends them; a PDU is
		// in exactly one of sent-but-unacked or closed-window-held.
		if err := ps.ClosedWindow(ctx, pdu); err != nil {
			return err
		}
		metrics.ClosedWindowQueueLength.Set(float64(e.cwq.Len()))
		return nil
	}

	if e.rtxEnabled {
		e.rtx.Push(dtsv.RTXEntry{PDU: pdu, FirstSendTime: time.Now()})
		metrics.RetransmissionQueueLength.Set(float64(e.rtx.Len()))
	}

	if err := ps.TransmissionControl(ctx, pdu); err != nil {
		return err
	}
	if e.cfg.DTCPPresent && e.dtcp != nil {
		e.dtcp.OnDataPDUSent(seq)
	}
	metrics.PDUsSent.WithLabelValues("data").Inc()
	return nil
}

// Receive is the inbound path: order-check, reassemble via the
// sequencing queue, and deliver upward.
func (e *Engine) Receive(pdu dtsv.PDU) {
	e.receiverInactivity.Restart(e.cfg.ReceiverInactivityPeriod)

	if seq := pdu.PCI.Seq; seq > atomic.LoadUint64(&e.maxSeqNrRcv) {
		atomic.StoreUint64(&e.maxSeqNrRcv, seq)
	}

	if pdu.PCI.Flags&dtsv.FlagDRF != 0 {
		e.handleDRF(pdu)
		return
	}

	if e.dtcp != nil {
		// deferred so the ACK/FC it emits reflects the LWE after this
		// PDU's delivery, not the edge it found on arrival.
		defer e.dtcp.ObserveInbound(pdu.PCI)
	}

	lwe := e.sv.RcvLeftWindowEdge()
	seq := pdu.PCI.Seq

	if seq <= lwe {
		atomic.AddUint64(&e.droppedPDUs, 1)
		metrics.PDUsDropped.WithLabelValues("already_delivered").Inc()
		return
	}

	a := e.sv.Snapshot().A
	if a == 0 {
		if seq >= lwe+1 && seq <= lwe+1+e.cfg.MaxSDUGap {
			e.sv.AdvanceLWE(seq)
			e.up.Deliver(pdu.Payload)
			return
		}
		atomic.AddUint64(&e.droppedPDUs, 1)
		metrics.PDUsDropped.WithLabelValues("gap_exceeds_max_sdu_gap").Inc()
		if e.rtxEnabled && e.dtcp != nil {
			e.dtcp.RequestRetransmission(seq)
		}
		return
	}

	inserted := e.seq.Insert(dtsv.SequencingEntry{PDU: pdu, ArrivedAt: time.Now()})
	if inserted {
		metrics.SequencingQueueLength.Set(float64(e.seq.Len()))
	}
	e.drainSequencingHead()
	e.aTimer.Restart(policy.ATimerPeriod(a))
}

func (e *Engine) drainSequencingHead() {
	for {
		entry, ok := e.seq.PeekHead()
		if !ok {
			return
		}
		lwe := e.sv.RcvLeftWindowEdge()
		if entry.PDU.PCI.Seq != lwe+1 {
			return
		}
		e.seq.PopHead()
		e.sv.AdvanceLWE(entry.PDU.PCI.Seq)
		e.up.Deliver(entry.PDU.Payload)
		metrics.SequencingQueueLength.Set(float64(e.seq.Len()))
	}
}

// handleDRF resets sequencing state on a fresh data run. Deliberately does
// not set a DRF flag on the DT-SV itself, despite what the surrounding
// naming might suggest — following the reference implementation's actual
// behavior rather than its comments.
func (e *Engine) handleDRF(pdu dtsv.PDU) {
	e.seq.Reset()
	e.sv.SetLWE(0)
	if e.dtcp != nil {
		e.dtcp.OnDataRunFlag()
	}
	if pdu.PCI.Seq > 0 {
		e.sv.AdvanceLWE(pdu.PCI.Seq)
	}
	e.up.Deliver(pdu.Payload)
}

// aTimerFire is the A-timer expiration handler.
func (e *Engine) aTimerFire() {
	for {
		entry, ok := e.seq.PeekHead()
		if !ok {
			return
		}
		lwe := e.sv.RcvLeftWindowEdge()
		seq := entry.PDU.PCI.Seq
		if seq <= lwe {
			e.seq.PopHead()
			continue
		}
		if seq-lwe-1 <= e.cfg.MaxSDUGap {
			e.seq.PopHead()
			e.sv.AdvanceLWE(seq)
			e.up.Deliver(entry.PDU.Payload)
			metrics.ATimerExpirations.WithLabelValues("delivered").Inc()
			metrics.SequencingQueueLength.Set(float64(e.seq.Len()))
			continue
		}

		if time.Since(entry.ArrivedAt) >= e.sv.Snapshot().A {
			if e.rtxEnabled && e.dtcp != nil {
				e.dtcp.RequestRetransmission(seq)
				metrics.ATimerExpirations.WithLabelValues("retransmit_requested").Inc()
				break
			}
			e.seq.PopHead()
			e.sv.SetLWE(seq)
			e.up.Deliver(entry.PDU.Payload)
			atomic.AddUint64(&e.droppedPDUs, 1)
			metrics.ATimerExpirations.WithLabelValues("gap_skipped").Inc()
			metrics.SequencingQueueLength.Set(float64(e.seq.Len()))
			continue
		}
		break
	}

	if e.seq.Len() > 0 {
		e.aTimer.Restart(policy.ATimerPeriod(e.sv.Snapshot().A))
	}
}

// senderInactivityFire handles sender-inactivity expiration: set DRF on
// the next outbound PDU, reset the initial sequence number, flush
// RTXQ/CWQ, and let DTCP reset its window.
func (e *Engine) senderInactivityFire() {
	ps := e.policySlot.Get()
	ctx := e.dtpCtx()
	ps.SenderInactivityTimer(ctx)
	atomic.StoreUint32(&e.pendingDRF, 1)
	isn := ps.InitialSequenceNumber(ctx)
	atomic.StoreUint64(&e.lastSeqNrSent, isn-1)
	if e.dtcp != nil {
		// the next run restarts from the initial sequence number, so the
		// window likewise restarts from the initial credit.
		e.dtcp.OnDataRunFlag()
	}
	metrics.ClosedWindowQueueLength.Set(0)
	metrics.RetransmissionQueueLength.Set(0)
}

// receiverInactivityFire handles receiver-inactivity expiration: reset
// LWE to 0 and flush the sequencing queue.
func (e *Engine) receiverInactivityFire() {
	ps := e.policySlot.Get()
	ctx := e.dtpCtx()
	ps.ReceiverInactivityTimer(ctx)
	e.seq.Reset()
	metrics.SequencingQueueLength.Set(0)
}

// Close stops all of this engine's timers, waiting for any in-flight
// callback to finish.
func (e *Engine) Close() {
	e.aTimer.Stop()
	e.senderInactivity.Stop()
	e.receiverInactivity.Stop()
}
