package dtcp

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rinastack/efcp-core/dtsv"
	"github.com/rinastack/efcp-core/internal/metrics"
	"github.com/rinastack/efcp-core/internal/timerq"
	"github.com/rinastack/efcp-core/policy"
	"github.com/rinastack/efcp-core/rerr"
)

// Upcalls are the collaborators DTCP calls into: the RMT send path and
// the QoS-violation/upward-write hooks it shares with its paired DTP
// engine and enclosing EFCP connection.
type Upcalls struct {
	Send             func(dtsv.PDU) error
	EnableWrite      func()
	MarkQosViolation func()
}

// Engine is the DTCP engine for one connection.
type Engine struct {
	cfg Config
	sv  *dtsv.SharedState
	cwq *dtsv.ClosedWindowQueue
	rtx *dtsv.RetransmissionQueue

	policySlot *policy.Slot[*policy.DTCPPolicySet]

	mu                 sync.Mutex
	sndLeftWindowEdge  uint64
	sndRightWindowEdge uint64
	rcvRightWindowEdge uint64
	maxSeqNrSent       uint64
	lastRcvCtrlSeq     uint64
	nextCtrlSeq        uint64
	sendingRate        uint32
	receiverRate       uint32
	timeFrame          time.Duration
	pdusInTimeUnit     uint32
	lastTimeFrameStart time.Time
	rtt, srtt, rttvar  time.Duration

	up Upcalls

	timers   *timerq.Queue
	rtxTimer *timerq.Timer

	log *logrus.Entry
}

// NewEngine builds a DTCP engine, sharing cwq/rtx with its paired DTP
// engine.
func NewEngine(cfg Config, sv *dtsv.SharedState, cwq *dtsv.ClosedWindowQueue, rtx *dtsv.RetransmissionQueue, up Upcalls, timers *timerq.Queue, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ps, err := policy.NewDTCPPolicySet(cfg.PolicySet, cfg.PolicyParams)
	if err != nil {
		log.WithError(err).WithField("policy_set", cfg.PolicySet).Warn("unknown dtcp policy set, using default")
		ps = policy.DefaultDTCPPolicySet(cfg.PolicyParams)
	}
	e := &Engine{
		cfg:                cfg,
		sv:                 sv,
		cwq:                cwq,
		rtx:                rtx,
		policySlot:         policy.NewSlot(ps),
		sndRightWindowEdge: cfg.InitialCredit,
		rcvRightWindowEdge: cfg.InitialCredit,
		sendingRate:        cfg.SendingRate,
		timeFrame:          cfg.TimePeriod,
		lastTimeFrameStart: time.Now(),
		up:                 up,
		timers:             timers,
		log:                log.WithField("component", "dtcp"),
	}
	e.rtxTimer = timerq.NewTimer(timers, e.rtxTimerFire)
	return e
}

// SetPolicy hot-swaps the active DTCP policy set.
func (e *Engine) SetPolicy(ps *policy.DTCPPolicySet) { e.policySlot.Swap(ps) }

func (e *Engine) ctx() *policy.DTCPContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &policy.DTCPContext{
		SV:                 e.sv,
		CWQ:                e.cwq,
		RTX:                e.rtx,
		DataRetransmitMax:  e.cfg.DataRetransmitMax,
		SndLeftWindowEdge:  e.sndLeftWindowEdge,
		SndRightWindowEdge: e.sndRightWindowEdge,
		RcvRightWindowEdge: e.rcvRightWindowEdge,
		InitialCredit:      e.cfg.InitialCredit,
		SendingRate:        e.sendingRate,
		TimeFrame:          e.timeFrame,
		RTT:                e.rtt,
		SRTT:               e.srtt,
		RTTVar:             e.rttvar,
		Send:               e.up.Send,
		MarkQosViolation:   e.up.MarkQosViolation,
	}
}

// IsWindowClosed implements dtp.DTCPNotifier.
func (e *Engine) IsWindowClosed(seq uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.WindowBasedFC && seq > e.sndRightWindowEdge {
		return true
	}
	if e.cfg.RateBasedFC && e.isRateExceededLocked(1) {
		return true
	}
	return false
}

// isRateExceededLocked implements is_rate_exceeded(n) (caller holds e.mu).
func (e *Engine) isRateExceededLocked(n uint32) bool {
	if e.sendingRate == 0 || e.timeFrame == 0 {
		return false
	}
	if time.Since(e.lastTimeFrameStart) >= e.timeFrame {
		e.pdusInTimeUnit = 0
		e.lastTimeFrameStart = time.Now()
	}
	limit := uint64(e.sendingRate) * uint64(e.timeFrame/time.Millisecond)
	return uint64(e.pdusInTimeUnit)+uint64(n) > limit
}

// OnDataRunFlag implements dtp.DTCPNotifier.
func (e *Engine) OnDataRunFlag() {
	e.mu.Lock()
	e.sndLeftWindowEdge = 0
	e.sndRightWindowEdge = e.cfg.InitialCredit
	e.rcvRightWindowEdge = e.cfg.InitialCredit
	e.mu.Unlock()
}

// RequestRetransmission implements dtp.DTCPNotifier: the A-timer gave up
// waiting for seq and asks DTCP to recover it by sending a NACK-style
// request — here we are the receiver issuing the request, not the sender
// replying to one.
func (e *Engine) RequestRetransmission(seq uint64) {
	_ = e.up.Send(dtsv.PDU{PCI: dtsv.PCI{Opcode: dtsv.OpcodeNACK, NackSeq: seq}})
}

// OnDataPDUSent implements dtp.DTCPNotifier for PDUs that went straight
// out on the open-window path: keeps max_seq_nr_sent and the rate
// counter current, and starts the RTX timer on the queue's first entry.
func (e *Engine) OnDataPDUSent(seq uint64) {
	e.mu.Lock()
	if seq > e.maxSeqNrSent {
		e.maxSeqNrSent = seq
	}
	e.pdusInTimeUnit++
	e.mu.Unlock()
	if e.cfg.RTXControl && e.rtx.Len() == 1 {
		e.rtxTimer.Restart(e.sv.Snapshot().TR)
	}
}

// ObserveInbound runs after a data PDU has been processed on the receive
// side: slide the advertised window past the newly delivered data and
// acknowledge. With window-based flow control on, ACK and the new right window edge
// travel in a single ACK+FC PDU; otherwise the RcvrAck hook sends a
// plain ACK.
func (e *Engine) ObserveInbound(pci dtsv.PCI) {
	ps := e.policySlot.Get()
	ctx := e.ctx()
	ackSeq := ps.SendingAck(ctx)

	if e.cfg.FlowControl && e.cfg.WindowBasedFC {
		e.mu.Lock()
		e.rcvRightWindowEdge = ackSeq + e.cfg.InitialCredit
		rwe := e.rcvRightWindowEdge
		rate := e.sendingRate
		tf := e.timeFrame
		e.mu.Unlock()
		err := e.up.Send(dtsv.PDU{PCI: dtsv.PCI{
			Opcode:          dtsv.OpcodeACKFC,
			CtrlSeq:         e.NextCtrlSeq(),
			AckSeq:          ackSeq,
			RightWindowEdge: rwe,
			SendingRate:     rate,
			TimeFrame:       tf,
		}})
		if err != nil {
			e.log.WithError(err).Warn("ack+fc send failed")
		}
		return
	}

	if err := ps.RcvrAck(ctx, ackSeq); err != nil {
		e.log.WithError(err).Warn("rcvr_ack failed")
	}
}

// HandleControlPDU dispatches an inbound control PDU per opcode.
func (e *Engine) HandleControlPDU(pdu dtsv.PDU) error {
	pci := pdu.PCI

	if pci.CtrlSeq != 0 {
		e.mu.Lock()
		if pci.CtrlSeq <= e.lastRcvCtrlSeq {
			e.mu.Unlock()
			metrics.PDUsDropped.WithLabelValues("duplicate_control").Inc()
			return nil
		}
		e.lastRcvCtrlSeq = pci.CtrlSeq
		e.mu.Unlock()
	}

	ps := e.policySlot.Get()

	switch pci.Opcode {
	case dtsv.OpcodeACK:
		e.handleACK(ps, pci.AckSeq)
	case dtsv.OpcodeNACK:
		return e.handleNACK(ps, pci.NackSeq)
	case dtsv.OpcodeFC:
		e.handleFC(ps, pci)
		e.drainClosedWindowQueue(ps)
	case dtsv.OpcodeACKFC:
		e.handleACK(ps, pci.AckSeq)
		e.handleFC(ps, pci)
		e.drainClosedWindowQueue(ps)
	case dtsv.OpcodeControlACK:
		e.log.Debug("control-ack received")
	case dtsv.OpcodeRendezvous:
		e.handleFC(ps, pci)
		e.drainClosedWindowQueue(ps)
	default:
		return rerr.New(rerr.MalformedMessage, "dtcp.handle_control_pdu")
	}
	return nil
}

func (e *Engine) handleACK(ps *policy.DTCPPolicySet, ackSeq uint64) {
	ctx := e.ctx()
	popped := ps.SenderAck(ctx, ackSeq)
	metrics.RetransmissionQueueLength.Set(float64(e.rtx.Len()))
	if len(popped) == 0 {
		return
	}
	// run the RTT estimator on the newest popped entry with retries==0
	var newest *dtsv.RTXEntry
	for i := range popped {
		if popped[i].Retries == 0 {
			if newest == nil || popped[i].PDU.PCI.Seq > newest.PDU.PCI.Seq {
				e := popped[i]
				newest = &e
			}
		}
	}
	if newest != nil {
		sample := time.Since(newest.FirstSendTime)
		metrics.RTTSample.Observe(sample.Seconds())
		ps.RTTEstimator(ctx, sample)
		e.mu.Lock()
		e.rtt, e.srtt, e.rttvar = ctx.RTT, ctx.SRTT, ctx.RTTVar
		e.mu.Unlock()
		metrics.RetransmissionTimeout.Set(e.sv.Snapshot().TR.Seconds())
	}
	if e.rtx.Len() > 0 {
		e.rtxTimer.Restart(e.sv.Snapshot().TR)
	}
}

func (e *Engine) handleNACK(ps *policy.DTCPPolicySet, nackSeq uint64) error {
	entries := e.rtx.AtLeastSeq(nackSeq)
	for _, entry := range entries {
		if entry.Retries >= e.cfg.DataRetransmitMax {
			e.rtx.Remove(entry.PDU.PCI.Seq)
			return e.qosViolation()
		}
		entry.Retries++
		e.rtx.Update(entry)
		if err := e.up.Send(entry.PDU); err != nil {
			e.log.WithError(err).Warn("nack resend failed")
		}
	}
	metrics.RetransmissionQueueLength.Set(float64(e.rtx.Len()))
	return nil
}

func (e *Engine) qosViolation() error {
	metrics.PeerQosViolations.Inc()
	if e.up.MarkQosViolation != nil {
		e.up.MarkQosViolation()
	}
	return rerr.New(rerr.PeerQosViolation, "dtcp.handle_nack")
}

func (e *Engine) handleFC(ps *policy.DTCPPolicySet, pci dtsv.PCI) {
	ctx := e.ctx()
	ps.ReceivingFlowControl(ctx, pci)
	e.mu.Lock()
	e.sndRightWindowEdge = ctx.SndRightWindowEdge
	if pci.SendingRate != 0 {
		e.sendingRate = pci.SendingRate
	}
	if pci.TimeFrame != 0 {
		e.timeFrame = pci.TimeFrame
	}
	e.mu.Unlock()
}

// drainClosedWindowQueue implements the closed-window drain: while CWQ
// non-empty and max_seq_nr_sent < snd_right_window_edge and (when
// rate-based) pdus_in_time_unit < sending_rate*time_frame: pop head, push
// a copy onto RTXQ (with retransmission control on), update
// max_seq_nr_sent, send.
func (e *Engine) drainClosedWindowQueue(ps *policy.DTCPPolicySet) {
	for {
		e.mu.Lock()
		room := !e.cfg.WindowBasedFC || e.maxSeqNrSent < e.sndRightWindowEdge
		rateOK := !e.cfg.RateBasedFC || !e.isRateExceededLocked(1)
		e.mu.Unlock()
		if !room || !rateOK {
			break
		}
		pdu, ok := e.cwq.Pop()
		if !ok {
			break
		}
		if e.cfg.RTXControl {
			e.rtx.Push(dtsv.RTXEntry{PDU: pdu, FirstSendTime: time.Now()})
			if e.rtx.Len() == 1 {
				e.rtxTimer.Restart(e.sv.Snapshot().TR)
			}
		}
		e.mu.Lock()
		if pdu.PCI.Seq > e.maxSeqNrSent {
			e.maxSeqNrSent = pdu.PCI.Seq
		}
		e.pdusInTimeUnit++
		e.mu.Unlock()
		if err := e.up.Send(pdu); err != nil {
			e.log.WithError(err).Warn("cwq drain send failed")
		}
		metrics.PDUsSent.WithLabelValues("data").Inc()
	}

	metrics.ClosedWindowQueueLength.Set(float64(e.cwq.Len()))
	metrics.RetransmissionQueueLength.Set(float64(e.rtx.Len()))

	if e.cwq.Len() < e.cfg.MaxClosedWinQLength && e.up.EnableWrite != nil {
		e.up.EnableWrite()
	}
}

// rtxTimerFire implements the per-queue RTX timer: walk RTXQ; for every
// entry with now >= first_send_time+TR, retransmit (bumping retries,
// destroying the entry on data_retransmit_max).
func (e *Engine) rtxTimerFire() {
	tr := e.sv.Snapshot().TR
	now := time.Now()
	for _, entry := range e.rtx.All() {
		if now.Sub(entry.FirstSendTime) < tr {
			continue
		}
		if entry.Retries >= e.cfg.DataRetransmitMax {
			e.rtx.Remove(entry.PDU.PCI.Seq)
			_ = e.qosViolation()
			continue
		}
		entry.Retries++
		e.rtx.Update(entry)
		if err := e.up.Send(entry.PDU); err != nil {
			e.log.WithError(err).Warn("rtx resend failed")
		}
	}
	metrics.RetransmissionQueueLength.Set(float64(e.rtx.Len()))
	if e.rtx.Len() > 0 {
		e.rtxTimer.Restart(tr)
	}
}

// NextCtrlSeq allocates the next outbound control-PDU sequence number.
func (e *Engine) NextCtrlSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextCtrlSeq++
	return e.nextCtrlSeq
}

// SndRightWindowEdge returns the current sender-side right window edge.
func (e *Engine) SndRightWindowEdge() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sndRightWindowEdge
}

// GrantCredit advances rcv_right_window_edge by delta. Nothing in this
// module calls it; ObserveInbound sets the edge to the acked sequence
// number plus the initial credit on each inbound data PDU.
func (e *Engine) GrantCredit(delta uint64) {
	e.mu.Lock()
	e.rcvRightWindowEdge += delta
	e.mu.Unlock()
}

// Close stops the RTX timer, waiting for any in-flight callback.
func (e *Engine) Close() {
	e.rtxTimer.Stop()
}
