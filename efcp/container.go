package efcp

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rinastack/efcp-core/dtsv"
	"github.com/rinastack/efcp-core/internal/metrics"
	"github.com/rinastack/efcp-core/rerr"
)

// Container is the EFCP instance table for one process: CEP-id
// allocation, connection lifecycle, and the bind point for a lower RMT
// collaborator. A single lock protects the CEP-id → instance map;
// per-connection pending-ops tracking (see Connection) keeps write/
// receive off that lock for the duration of the actual work.
type Container struct {
	mu    sync.RWMutex
	conns map[uint32]*Connection
	ids   *cepIDPool

	rmt RMT

	log *logrus.Entry
}

// NewContainer builds an empty container. Call BindRMT before any
// connection attempts cross-address traffic.
func NewContainer(log *logrus.Entry) *Container {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Container{
		conns: make(map[uint32]*Connection),
		ids:   newCEPIDPool(),
		log:   log.WithField("component", "efcp"),
	}
}

// BindRMT installs the lower collaborator used for non-loopback sends.
func (c *Container) BindRMT(rmt RMT) {
	c.mu.Lock()
	c.rmt = rmt
	c.mu.Unlock()
}

// UnbindRMT removes the lower collaborator; subsequent non-loopback sends
// fail until a new one is bound.
func (c *Container) UnbindRMT() {
	c.mu.Lock()
	c.rmt = nil
	c.mu.Unlock()
}

// containerRMT adapts the container's bound RMT (or its loopback
// short-circuit) to the per-connection RMT interface dtp/dtcp send
// through.
type containerRMT struct {
	c *Container
}

func (r containerRMT) Send(dstAddress uint64, qosID uint32, pdu dtsv.PDU) error {
	return r.c.routeOut(dstAddress, qosID, pdu)
}

func (c *Container) routeOut(dstAddress uint64, qosID uint32, pdu dtsv.PDU) error {
	if pdu.PCI.SrcAddress == dstAddress {
		return c.Receive(pdu.PCI.DstCEPID, pdu)
	}
	c.mu.RLock()
	rmt := c.rmt
	c.mu.RUnlock()
	if rmt == nil {
		return rerr.New(rerr.InvalidHandle, "container.route_out")
	}
	if pdu.PCI.IsControl() {
		// data PDUs are counted at their dtp/dtcp first-send sites
		// (retransmissions are not counted); control PDUs have no other
		// counting point.
		metrics.PDUsSent.WithLabelValues(pdu.PCI.Opcode.String()).Inc()
	}
	return rmt.Send(dstAddress, qosID, pdu)
}

// CreateConnection allocates a CEP-id (unless cfg already names one,
// e.g. a responder completing a peer-initiated handshake) and builds the
// connection's DT-SV/DTP/DTCP stack.
func (c *Container) CreateConnection(cfg ConnectionConfig, upper Upper) (uint32, error) {
	cepID := cfg.SrcCEPID
	if cepID == 0 {
		cepID = c.ids.Allocate()
	}
	cfg.SrcCEPID = cepID

	conn := newConnection(cfg, upper, containerRMT{c}, c.log)

	c.mu.Lock()
	if _, exists := c.conns[cepID]; exists {
		c.mu.Unlock()
		c.ids.Release(cepID)
		return 0, rerr.New(rerr.ResourceExhausted, "container.create_connection")
	}
	c.conns[cepID] = conn
	c.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	c.log.WithField("cep_id", cepID).Info("connection created")
	return cepID, nil
}

// UpdateConnection migrates a connection's upper-layer handle from
// fromCEP to toCEP's slot. Used when a flow is rebound to a new upper
// IPCP instance without tearing down the underlying transfer state.
func (c *Container) UpdateConnection(fromCEP, toCEP uint32, newUpper Upper) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[fromCEP]
	if !ok {
		return rerr.New(rerr.InvalidHandle, "container.update_connection")
	}
	conn.mu.Lock()
	conn.upper = newUpper
	conn.mu.Unlock()
	if fromCEP != toCEP {
		delete(c.conns, fromCEP)
		c.conns[toCEP] = conn
	}
	return nil
}

// DestroyConnection marks the instance DEALLOCATED, removes it from the
// table, and blocks until in-flight work has drained before releasing
// its resources. A second call on the same id returns InvalidHandle.
func (c *Container) DestroyConnection(cepID uint32) error {
	c.mu.Lock()
	conn, ok := c.conns[cepID]
	if !ok {
		c.mu.Unlock()
		return rerr.New(rerr.InvalidHandle, "container.destroy_connection")
	}
	delete(c.conns, cepID)
	c.mu.Unlock()

	conn.beginDestroy()
	c.ids.Release(cepID)
	metrics.ConnectionsActive.Dec()
	c.log.WithField("cep_id", cepID).Info("connection destroyed")
	return nil
}

// Write is the outbound path: deliver sdu from the upper layer on cepID.
func (c *Container) Write(cepID uint32, sdu []byte) error {
	conn, err := c.lookup(cepID)
	if err != nil {
		return err
	}
	return conn.Write(sdu)
}

// Receive is the inbound path: an RMT (or the loopback short-circuit in
// routeOut) hands a PDU addressed to cepID.
func (c *Container) Receive(cepID uint32, pdu dtsv.PDU) error {
	conn, err := c.lookup(cepID)
	if err != nil {
		metrics.PDUsDropped.WithLabelValues("unknown_cep_id").Inc()
		return err
	}
	return conn.Receive(pdu)
}

func (c *Container) lookup(cepID uint32) (*Connection, error) {
	c.mu.RLock()
	conn, ok := c.conns[cepID]
	c.mu.RUnlock()
	if !ok {
		return nil, rerr.New(rerr.InvalidHandle, "container.lookup")
	}
	return conn, nil
}

// Connection returns the live connection for cepID, for callers (e.g.
// cdap/rib wiring) that need direct access beyond Write/Receive.
func (c *Container) Connection(cepID uint32) (*Connection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[cepID]
	return conn, ok
}
