package efcp

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rinastack/efcp-core/dtcp"
	"github.com/rinastack/efcp-core/dtp"
	"github.com/rinastack/efcp-core/dtsv"
	"github.com/rinastack/efcp-core/internal/timerq"
	"github.com/rinastack/efcp-core/rerr"
)

// RMT is the lower collaborator a Connection sends outbound PDUs
// through. src==dst addresses are short-circuited by the Container
// before ever reaching an RMT, so implementations never see loopback
// traffic.
type RMT interface {
	Send(dstAddress uint64, qosID uint32, pdu dtsv.PDU) error
}

// Upper is the per-connection handle toward the user IPCP/application.
type Upper interface {
	Deliver(cepID uint32, sdu []byte)
	EnableWrite(cepID uint32)
	DisableWrite(cepID uint32)
}

// instanceState tracks a Connection's ALLOCATED/DEALLOCATED lifecycle so
// write/receive can be rejected the instant destruction begins, without
// holding the container lock for the duration of the I/O itself.
type instanceState int32

const (
	stateAllocated instanceState = iota
	stateDeallocated
)

// Connection is one EFCP instance: the DT-SV plus its paired DTP/DTCP
// engines, wired together with the CWQ/RTXQ they share (spec's cyclic-
// reference design note — the Connection owns all of it, DTP/DTCP hold
// non-owning references).
type Connection struct {
	SrcAddress, DstAddress uint64
	SrcCEPID               uint32
	dstCEPID               uint32 // may be set once, post-creation
	dstCEPIDOnce           sync.Once
	PortID                 uint64
	QosID                  uint32

	sv  *dtsv.SharedState
	cwq *dtsv.ClosedWindowQueue
	rtx *dtsv.RetransmissionQueue

	dtp  *dtp.Engine
	dtcp *dtcp.Engine

	timers *timerq.Queue

	mu           sync.Mutex
	state        instanceState
	pendingOps   int
	drainWaiters *sync.Cond

	writeEnabled bool // idempotency guard for EnableWrite/DisableWrite upcalls

	upper Upper
	rmt   RMT

	log *logrus.Entry
}

// newConnection assembles one EFCP instance. A DTCP engine is built only
// when cfg.DTCP.FlowControl or cfg.DTCP.RTXControl is set; otherwise DTP
// runs alone with no DTCP notifier, so no window is reported closed.
func newConnection(cfg ConnectionConfig, upper Upper, rmt RMT, log *logrus.Entry) *Connection {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Connection{
		SrcAddress: cfg.SrcAddress,
		DstAddress: cfg.DstAddress,
		SrcCEPID:   cfg.SrcCEPID,
		dstCEPID:   cfg.DstCEPID,
		PortID:     cfg.PortID,
		QosID:      cfg.QosID,
		upper:      upper,
		rmt:        rmt,
		timers:     timerq.New(),
		log: log.WithFields(logrus.Fields{
			"cep_id":  cfg.SrcCEPID,
			"port_id": cfg.PortID,
		}),
	}
	c.drainWaiters = sync.NewCond(&c.mu)

	a := time.Duration(cfg.A) * time.Millisecond
	if cfg.DTP.InitialATimer != 0 {
		a = cfg.DTP.InitialATimer
	}
	tr := time.Duration(cfg.InitialTR) * time.Millisecond
	if cfg.DTCP.InitialTR != 0 {
		tr = cfg.DTCP.InitialTR
	}
	c.sv = dtsv.NewSharedState(
		cfg.MaxFlowPDUSize, cfg.MaxFlowSDUSize,
		time.Duration(cfg.MPL)*time.Millisecond,
		a, tr,
		cfg.DTCP.DataRetransmitMax,
	)
	c.cwq = dtsv.NewClosedWindowQueue(cfg.DTCP.MaxClosedWinQLength)
	c.rtx = dtsv.NewRetransmissionQueue()

	dtpUp := dtp.Upcalls{
		Deliver:      func(sdu []byte) { c.upper.Deliver(c.SrcCEPID, sdu) },
		Send:         c.sendPDU,
		EnableWrite:  c.enableWriteOnce,
		DisableWrite: c.disableWrite,
	}

	var notifier dtp.DTCPNotifier
	if cfg.DTCP.FlowControl || cfg.DTCP.RTXControl {
		dtcpUp := dtcp.Upcalls{
			Send:             c.sendPDU,
			EnableWrite:      c.enableWriteOnce,
			MarkQosViolation: c.markQosViolation,
		}
		c.dtcp = dtcp.NewEngine(cfg.DTCP, c.sv, c.cwq, c.rtx, dtcpUp, c.timers, c.log)
		notifier = c.dtcp
	}

	c.dtp = dtp.NewEngine(cfg.DTP, c.sv, c.cwq, c.rtx, cfg.DTCP.RTXControl, dtpUp, notifier, c.timers, c.log)
	c.writeEnabled = true
	return c
}

func (c *Connection) sendPDU(pdu dtsv.PDU) error {
	pdu.PCI.SrcAddress = c.SrcAddress
	pdu.PCI.SrcCEPID = c.SrcCEPID
	pdu.PCI.DstAddress = c.DstAddress
	pdu.PCI.DstCEPID = c.DstCEPID()
	pdu.PCI.QoSID = c.QosID
	return c.rmt.Send(c.DstAddress, c.QosID, pdu)
}

func (c *Connection) enableWriteOnce() {
	c.mu.Lock()
	already := c.writeEnabled
	c.writeEnabled = true
	c.mu.Unlock()
	if !already {
		c.upper.EnableWrite(c.SrcCEPID)
	}
}

func (c *Connection) disableWrite() {
	c.mu.Lock()
	was := c.writeEnabled
	c.writeEnabled = false
	c.mu.Unlock()
	if was {
		c.upper.DisableWrite(c.SrcCEPID)
	}
}

func (c *Connection) markQosViolation() {
	c.log.Warn("data_retransmit_max exceeded, connection failed")
}

// DstCEPID returns the peer CEP-id, settable once via SetDstCEPID.
func (c *Connection) DstCEPID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dstCEPID
}

// SetDstCEPID installs the peer's CEP-id after its CONNECT_R-equivalent
// response arrives. Only the first call takes effect, matching the
// invariant that the connection quadruple is immutable except for this
// one field, set once.
func (c *Connection) SetDstCEPID(id uint32) {
	c.dstCEPIDOnce.Do(func() {
		c.mu.Lock()
		c.dstCEPID = id
		c.mu.Unlock()
	})
}

// enter validates ALLOCATED state and bumps the pending-ops counter
// atomically with that check, so destroy_connection can tell exactly
// when it is safe to free resources.
func (c *Connection) enter() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateAllocated {
		return rerr.New(rerr.Cancelled, "connection.enter")
	}
	c.pendingOps++
	return nil
}

func (c *Connection) exit() {
	c.mu.Lock()
	c.pendingOps--
	if c.pendingOps == 0 {
		c.drainWaiters.Broadcast()
	}
	c.mu.Unlock()
}

// Write is the outbound path from the upper layer.
func (c *Connection) Write(sdu []byte) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.exit()
	return c.dtp.Write(sdu)
}

// Receive is the inbound path from the RMT (or the loopback
// short-circuit).
func (c *Connection) Receive(pdu dtsv.PDU) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.exit()
	if pdu.PCI.IsControl() {
		if c.dtcp == nil {
			return rerr.New(rerr.StateMismatch, "connection.receive_control")
		}
		return c.dtcp.HandleControlPDU(pdu)
	}
	c.dtp.Receive(pdu)
	return nil
}

// beginDestroy marks the instance DEALLOCATED and blocks until every
// in-flight write/receive has exited, guaranteeing no use-after-free
// regardless of in-flight I/O.
func (c *Connection) beginDestroy() {
	c.mu.Lock()
	c.state = stateDeallocated
	for c.pendingOps > 0 {
		c.drainWaiters.Wait()
	}
	c.mu.Unlock()

	c.dtp.Close()
	if c.dtcp != nil {
		c.dtcp.Close()
	}
	c.timers.Close()
}
