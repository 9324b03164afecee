// Command efcpdemo wires efcp+dtp+dtcp+cdap+rib together over an
// in-memory RMT to exercise the stack end to end: two EFCP containers,
// each carrying a CDAP session and a RIB daemon, exchange a CACEP
// handshake and a handful of remote object verbs without a real network
// underneath them.
package main

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rinastack/efcp-core/cdap"
	"github.com/rinastack/efcp-core/dtsv"
	"github.com/rinastack/efcp-core/efcp"
	"github.com/rinastack/efcp-core/rerr"
	"github.com/rinastack/efcp-core/rib"
)

const (
	addrA   = 1
	addrB   = 2
	portID  = 42
	cepA    = 1
	cepB    = 2
	qosBest = 1
)

// router is the demo's RMT: it holds both containers and forwards a PDU
// by dst address instead of touching a socket.
type router struct {
	mu     sync.Mutex
	byAddr map[uint64]*efcp.Container
}

func (r *router) Send(dstAddress uint64, qosID uint32, pdu dtsv.PDU) error {
	r.mu.Lock()
	dst, ok := r.byAddr[dstAddress]
	r.mu.Unlock()
	if !ok {
		return rerr.New(rerr.InvalidHandle, "efcpdemo.router_unknown_address")
	}
	return dst.Receive(pdu.PCI.DstCEPID, pdu)
}

// nodeUpper feeds inbound SDUs straight into the node's RIB daemon; this
// demo carries nothing but CDAP traffic over the flow.
type nodeUpper struct {
	daemon *rib.Daemon
	log    *logrus.Entry
}

func (u *nodeUpper) Deliver(cepID uint32, sdu []byte) {
	if err := u.daemon.HandleInbound(portID, sdu); err != nil {
		u.log.WithError(err).Warn("rib daemon rejected inbound message")
	}
}

func (u *nodeUpper) EnableWrite(cepID uint32)  {}
func (u *nodeUpper) DisableWrite(cepID uint32) {}

// containerTransport lets a rib.Daemon write through a flow's cep-id
// without knowing anything about EFCP.
type containerTransport struct {
	container *efcp.Container
	cepID     uint32
}

func (t *containerTransport) Send(portID uint64, b []byte) error {
	return t.container.Write(t.cepID, b)
}

func buildSchema() *rib.Schema {
	s := rib.NewSchema()
	s.Allow("ROOT", "A")
	s.Allow("A", "Barcelona")
	s.Allow("Barcelona", "1")
	s.Allow("1", "test1")
	s.Allow("1", "test2")
	s.Allow("test2", "test3")
	return s
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logA := logrus.WithField("node", "A")
	logB := logrus.WithField("node", "B")

	containerA := efcp.NewContainer(logA)
	containerB := efcp.NewContainer(logB)

	rtr := &router{byAddr: map[uint64]*efcp.Container{addrA: containerA, addrB: containerB}}
	containerA.BindRMT(rtr)
	containerB.BindRMT(rtr)

	schema := buildSchema()
	treeB := rib.NewTree(schema, "", "", logB)

	transportA := &containerTransport{container: containerA, cepID: cepA}
	transportB := &containerTransport{container: containerB, cepID: cepB}

	daemonA := rib.NewDaemon(rib.NewTree(schema, "", "", logA), transportA, logA)
	daemonB := rib.NewDaemon(treeB, transportB, logB)

	cfgA := efcp.DefaultConnectionConfig(qosBest)
	cfgA.SrcAddress, cfgA.DstAddress = addrA, addrB
	cfgA.SrcCEPID, cfgA.DstCEPID = cepA, cepB
	cfgA.PortID = portID

	cfgB := efcp.DefaultConnectionConfig(qosBest)
	cfgB.SrcAddress, cfgB.DstAddress = addrB, addrA
	cfgB.SrcCEPID, cfgB.DstCEPID = cepB, cepA
	cfgB.PortID = portID

	if _, err := containerA.CreateConnection(cfgA, &nodeUpper{daemon: daemonA, log: logA}); err != nil {
		logA.WithError(err).Fatal("create_connection")
	}
	if _, err := containerB.CreateConnection(cfgB, &nodeUpper{daemon: daemonB, log: logB}); err != nil {
		logB.WithError(err).Fatal("create_connection")
	}

	done := make(chan struct{})
	err := daemonA.RemoteConnect(portID, 1,
		cdap.NamingInfo{ApName: "node-a"}, cdap.NamingInfo{ApName: "node-b"}, nil,
		func(msg cdap.Message, err error) {
			if err != nil {
				logA.WithError(err).Error("connect failed")
				close(done)
				return
			}
			fmt.Printf("CACEP established: result=%d\n", msg.Result)
			close(done)
		})
	if err != nil {
		logA.WithError(err).Fatal("remote_connect")
	}
	<-done

	created := make(chan struct{})
	err = daemonA.RemoteCreateObject(portID, "A", "A=1", cdap.Value{Kind: cdap.ValueKindBytes, Bytes: []byte("root-object")},
		func(msg cdap.Message, err error) {
			fmt.Printf("create A=1: result=%d reason=%q\n", msg.Result, msg.ResultReason)
			close(created)
		})
	if err != nil {
		logA.WithError(err).Fatal("remote_create_object")
	}
	<-created

	nested := make(chan struct{})
	err = daemonA.RemoteCreateObject(portID, "Barcelona", "A=1,Barcelona", cdap.Value{},
		func(msg cdap.Message, err error) {
			fmt.Printf("create A=1,Barcelona: result=%d\n", msg.Result)
			close(nested)
		})
	if err != nil {
		logA.WithError(err).Fatal("remote_create_object")
	}
	<-nested

	rejected := make(chan struct{})
	err = daemonA.RemoteCreateObject(portID, "C", "A=1,B=1,C=1", cdap.Value{},
		func(msg cdap.Message, err error) {
			fmt.Printf("create A=1,B=1,C=1 (expected rejection): result=%d reason=%q\n", msg.Result, msg.ResultReason)
			close(rejected)
		})
	if err != nil {
		logA.WithError(err).Fatal("remote_create_object")
	}
	<-rejected

	read := make(chan struct{})
	err = daemonA.RemoteReadObject(portID, "A", "A=1",
		func(msg cdap.Message, err error) {
			fmt.Printf("read A=1: result=%d value=%q\n", msg.Result, string(msg.Value.Bytes))
			close(read)
		})
	if err != nil {
		logA.WithError(err).Fatal("remote_read_object")
	}
	<-read

	released := make(chan struct{})
	err = daemonA.RemoteRelease(portID, func(msg cdap.Message, err error) {
		fmt.Printf("release: result=%d\n", msg.Result)
		close(released)
	})
	if err != nil {
		logA.WithError(err).Fatal("remote_release")
	}
	<-released

	_ = treeB
}
