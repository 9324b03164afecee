package rib

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rinastack/efcp-core/cdap"
	"github.com/rinastack/efcp-core/internal/metrics"
	"github.com/rinastack/efcp-core/rerr"
)

// Transport is the collaborator a Daemon writes encoded CDAP messages to,
// addressed by port-id; inbound bytes reach the daemon through
// HandleInbound instead. It is deliberately narrow:
// the daemon never interprets what carries the bytes between peers.
type Transport interface {
	Send(portID uint64, b []byte) error
}

// handlerKey demultiplexes response handlers across sessions: invoke-ids
// are only unique within one session's sent space.
type handlerKey struct {
	portID   uint64
	invokeID uint32
}

// Daemon exposes the RIB's local verbs directly and their remote twins
// over CDAP, demultiplexing responses to registered handlers by
// (port-id, invoke-id). One lock covers encode, session-state update and
// handler registration; the transport write follows with the lock
// released, so a handler is always registered before the peer could
// possibly reply.
type Daemon struct {
	Tree *Tree

	mu        sync.Mutex
	sessions  map[uint64]*cdap.Session
	handlers  map[handlerKey]func(cdap.Message, error)
	transport Transport
	log       *logrus.Entry
}

// NewDaemon returns a daemon over tree, dispatching remote verbs through
// transport.
func NewDaemon(tree *Tree, transport Transport, log *logrus.Entry) *Daemon {
	return &Daemon{
		Tree:      tree,
		sessions:  make(map[uint64]*cdap.Session),
		handlers:  make(map[handlerKey]func(cdap.Message, error)),
		transport: transport,
		log:       log.WithField("component", "rib.daemon"),
	}
}

func (d *Daemon) sessionFor(portID uint64) *cdap.Session {
	s, ok := d.sessions[portID]
	if !ok {
		s = cdap.NewSession(portID)
		d.sessions[portID] = s
	}
	return s
}

// send encodes msg on portID's session and registers handler under the
// reserved invoke-id, all under the daemon lock, then writes to the
// transport with the lock released. The handler is always in the map
// before the transport write happens — before the peer could possibly
// reply — without holding the lock across a write that, over a
// zero-latency transport, can recurse straight back into this daemon's
// own dispatchResponse/dispatchRequest and re-lock d.mu.
func (d *Daemon) send(portID uint64, msg cdap.Message, handler func(cdap.Message, error)) error {
	d.mu.Lock()
	session := d.sessionFor(portID)
	encoded, invokeID, err := session.EncodeNextMessageToBeSent(msg)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if handler != nil {
		d.handlers[handlerKey{portID: portID, invokeID: invokeID}] = handler
	}
	d.mu.Unlock()

	metrics.CDAPMessages.WithLabelValues(msg.Opcode.String(), "sent").Inc()
	return d.transport.Send(portID, encoded)
}

// RemoteCreateObject sends a CREATE request for (class, name) with value
// over portID, invoking handler on the eventual response unless handler
// is nil.
func (d *Daemon) RemoteCreateObject(portID uint64, class, name string, value cdap.Value, handler func(cdap.Message, error)) error {
	return d.remoteRequest(portID, cdap.Message{
		Opcode: cdap.OpCreate,
		Object: cdap.ObjectID{Class: class, Name: name},
		Value:  value,
	}, handler)
}

// RemoteConnect runs CACEP: sends CONNECT with the given syntax and
// naming, calling handler with the CONNECT_R once the peer answers.
func (d *Daemon) RemoteConnect(portID uint64, absSyntax int32, src, dst cdap.NamingInfo, auth *cdap.AuthPolicy, handler func(cdap.Message, error)) error {
	return d.remoteRequest(portID, cdap.Message{
		Opcode:    cdap.OpConnect,
		AbsSyntax: absSyntax,
		SrcName:   src,
		DstName:   dst,
		Auth:      auth,
	}, handler)
}

// RemoteRelease sends RELEASE over portID, tearing the session back down
// to NONE once the peer's RELEASE_R arrives.
func (d *Daemon) RemoteRelease(portID uint64, handler func(cdap.Message, error)) error {
	return d.remoteRequest(portID, cdap.Message{Opcode: cdap.OpRelease}, handler)
}

// RemoteDeleteObject sends a DELETE request for name over portID.
func (d *Daemon) RemoteDeleteObject(portID uint64, class, name string, handler func(cdap.Message, error)) error {
	return d.remoteRequest(portID, cdap.Message{
		Opcode: cdap.OpDelete,
		Object: cdap.ObjectID{Class: class, Name: name},
	}, handler)
}

// RemoteReadObject sends a READ request for name over portID.
func (d *Daemon) RemoteReadObject(portID uint64, class, name string, handler func(cdap.Message, error)) error {
	return d.remoteRequest(portID, cdap.Message{
		Opcode: cdap.OpRead,
		Object: cdap.ObjectID{Class: class, Name: name},
	}, handler)
}

// RemoteWriteObject sends a WRITE request replacing name's value over
// portID.
func (d *Daemon) RemoteWriteObject(portID uint64, class, name string, value cdap.Value, handler func(cdap.Message, error)) error {
	return d.remoteRequest(portID, cdap.Message{
		Opcode: cdap.OpWrite,
		Object: cdap.ObjectID{Class: class, Name: name},
		Value:  value,
	}, handler)
}

// RemoteStartObject sends a START request for name over portID.
func (d *Daemon) RemoteStartObject(portID uint64, class, name string, handler func(cdap.Message, error)) error {
	return d.remoteRequest(portID, cdap.Message{
		Opcode: cdap.OpStart,
		Object: cdap.ObjectID{Class: class, Name: name},
	}, handler)
}

// RemoteStopObject sends a STOP request for name over portID.
func (d *Daemon) RemoteStopObject(portID uint64, class, name string, handler func(cdap.Message, error)) error {
	return d.remoteRequest(portID, cdap.Message{
		Opcode: cdap.OpStop,
		Object: cdap.ObjectID{Class: class, Name: name},
	}, handler)
}

func (d *Daemon) remoteRequest(portID uint64, msg cdap.Message, handler func(cdap.Message, error)) error {
	return d.send(portID, msg, handler)
}

// HandleInbound decodes and processes one CDAP message arriving on
// portID: requests are dispatched to the local verb the opcode names and
// answered; responses are handed to the registered handler, which stays
// registered if the response carries READ_INCOMPLETE.
func (d *Daemon) HandleInbound(portID uint64, b []byte) error {
	d.mu.Lock()
	session := d.sessionFor(portID)
	msg, err := session.MessageReceived(b)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	metrics.CDAPMessages.WithLabelValues(msg.Opcode.String(), "received").Inc()

	if msg.Opcode.IsResponse() {
		return d.dispatchResponse(portID, msg)
	}
	return d.dispatchRequest(portID, msg)
}

func (d *Daemon) dispatchResponse(portID uint64, msg cdap.Message) error {
	key := handlerKey{portID: portID, invokeID: msg.InvokeID}

	d.mu.Lock()
	handler, ok := d.handlers[key]
	if ok && msg.Flags != cdap.FlagReadIncomplete {
		delete(d.handlers, key)
	}
	d.mu.Unlock()

	if !ok {
		d.log.WithFields(logrus.Fields{"port_id": portID, "invoke_id": msg.InvokeID}).
			Warn("rib response with no registered handler")
		return nil
	}
	handler(msg, nil)
	return nil
}

func (d *Daemon) dispatchRequest(portID uint64, msg cdap.Message) error {
	var responseOp cdap.Opcode
	var result int32
	var reason string
	var value cdap.Value

	switch msg.Opcode {
	case cdap.OpConnect:
		// CACEP: accept every inbound CONNECT. Authentication policy
		// negotiation (cdap.AuthPolicy/AuthValue) is a caller concern
		// exercised through cdap directly, not gated here.
		responseOp = cdap.OpConnectR
	case cdap.OpRelease:
		responseOp = cdap.OpReleaseR
	default:
		responseOp, result, reason, value = d.applyLocal(msg)
	}

	resp := cdap.Message{
		Opcode:       responseOp,
		InvokeID:     msg.InvokeID,
		Object:       msg.Object,
		Value:        value,
		Result:       result,
		ResultReason: reason,
	}
	if msg.Opcode == cdap.OpConnect {
		resp.AbsSyntax = msg.AbsSyntax
		resp.SrcName = msg.DstName
		resp.DstName = msg.SrcName
	}
	return d.send(portID, resp, nil)
}

// applyLocal runs the local verb named by msg.Opcode against the tree,
// implementing the create-or-update delegation rule for CREATE: if the
// named object already exists, the value is updated in place rather than
// rejected as a duplicate.
func (d *Daemon) applyLocal(msg cdap.Message) (responseOp cdap.Opcode, result int32, reason string, value cdap.Value) {
	switch msg.Opcode {
	case cdap.OpCreate:
		if _, err := d.Tree.ReadObject(msg.Object.Name); err == nil {
			if err := d.Tree.WriteObject(msg.Object.Name, msg.Value.Bytes); err != nil {
				return cdap.OpCreateR, int32(rerr.KindOf(err)), err.Error(), cdap.Value{}
			}
			return cdap.OpCreateR, 0, "", cdap.Value{}
		}
		if _, err := d.Tree.CreateObject(msg.Object.Class, msg.Object.Name, msg.Value.Bytes); err != nil {
			return cdap.OpCreateR, int32(rerr.KindOf(err)), err.Error(), cdap.Value{}
		}
		return cdap.OpCreateR, 0, "", cdap.Value{}
	case cdap.OpDelete:
		if err := d.Tree.DeleteObject(msg.Object.Name); err != nil {
			return cdap.OpDeleteR, int32(rerr.KindOf(err)), err.Error(), cdap.Value{}
		}
		return cdap.OpDeleteR, 0, "", cdap.Value{}
	case cdap.OpRead:
		obj, err := d.Tree.ReadObject(msg.Object.Name)
		if err != nil {
			return cdap.OpReadR, int32(rerr.KindOf(err)), err.Error(), cdap.Value{}
		}
		return cdap.OpReadR, 0, "", cdap.Value{Kind: cdap.ValueKindBytes, Bytes: obj.Value}
	case cdap.OpWrite:
		if err := d.Tree.WriteObject(msg.Object.Name, msg.Value.Bytes); err != nil {
			return cdap.OpWriteR, int32(rerr.KindOf(err)), err.Error(), cdap.Value{}
		}
		return cdap.OpWriteR, 0, "", cdap.Value{}
	case cdap.OpStart:
		if err := d.Tree.StartObject(msg.Object.Name); err != nil {
			return cdap.OpStartR, int32(rerr.KindOf(err)), err.Error(), cdap.Value{}
		}
		return cdap.OpStartR, 0, "", cdap.Value{}
	case cdap.OpStop:
		if err := d.Tree.StopObject(msg.Object.Name); err != nil {
			return cdap.OpStopR, int32(rerr.KindOf(err)), err.Error(), cdap.Value{}
		}
		return cdap.OpStopR, 0, "", cdap.Value{}
	default:
		return cdap.OpReleaseR, int32(rerr.StateMismatch), "unsupported opcode", cdap.Value{}
	}
}
