package cdap

import (
	"sync"

	"github.com/rinastack/efcp-core/rerr"
)

// State is one of the four CDAP session states.
type State int

const (
	StateNone State = iota
	StateAwaitCon
	StateCon
	StateAwaitClose
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateAwaitCon:
		return "await_con"
	case StateCon:
		return "con"
	case StateAwaitClose:
		return "await_close"
	default:
		return "unknown"
	}
}

// Session is keyed by the underlying flow's port-id and walks
// NONE -> AWAIT_CON -> CON -> AWAIT_CLOSE -> NONE.
type Session struct {
	PortID uint64

	mu    sync.Mutex
	state State
	ids   *InvokeIDManager
}

// NewSession starts a session in the NONE state.
func NewSession(portID uint64) *Session {
	return &Session{PortID: portID, ids: NewInvokeIDManager()}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// allowedOutbound gates new outbound requests by session state.
// Responses are exempt from this gating: a *_R opcode answers a request
// already accepted by allowedInbound (which is what moved this session
// into AWAIT_CON/AWAIT_CLOSE in the first place), so the responder must
// be able to send CONNECT_R from AWAIT_CON and RELEASE_R from
// AWAIT_CLOSE even though those states forbid initiating anything new.
func (s *Session) allowedOutbound(op Opcode) bool {
	if op.IsResponse() {
		return true
	}
	switch s.state {
	case StateNone:
		return op == OpConnect
	case StateAwaitCon:
		return false
	case StateCon:
		return op == OpRelease || isObjectVerb(op)
	case StateAwaitClose:
		return false
	}
	return false
}

func (s *Session) allowedInbound(op Opcode) bool {
	switch s.state {
	case StateNone:
		return op == OpConnect
	case StateAwaitCon:
		return op == OpConnectR
	case StateCon:
		return op == OpRelease || isObjectVerb(op)
	case StateAwaitClose:
		return op == OpReleaseR
	}
	return false
}

func isObjectVerb(op Opcode) bool {
	switch op {
	case OpCreate, OpCreateR, OpDelete, OpDeleteR, OpRead, OpReadR,
		OpCancelRead, OpCancelReadR, OpWrite, OpWriteR,
		OpStart, OpStartR, OpStop, OpStopR:
		return true
	}
	return false
}

// EncodeNextMessageToBeSent validates msg against the current state,
// reserves an invoke-id for requests, advances state for CONNECT/RELEASE,
// and returns the wire bytes along with the invoke-id actually stamped
// onto the message (msg.InvokeID itself is unchanged since msg is passed
// by value; callers that need to correlate a later response must use the
// returned id, not msg.InvokeID).
func (s *Session) EncodeNextMessageToBeSent(msg Message) ([]byte, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.allowedOutbound(msg.Opcode) {
		return nil, 0, rerr.New(rerr.StateMismatch, "session.encode_next_message_to_be_sent")
	}
	if err := validateMessage(msg); err != nil {
		return nil, 0, err
	}

	if !msg.Opcode.IsResponse() {
		msg.InvokeID = s.ids.ReserveSent()
	}

	switch msg.Opcode {
	case OpConnect:
		s.state = StateAwaitCon
	case OpRelease:
		s.state = StateAwaitClose
	case OpConnectR:
		if msg.Result == 0 {
			s.state = StateCon
		} else {
			s.state = StateNone
		}
		s.ids.ReleaseReceived(msg.InvokeID)
	case OpReleaseR:
		s.state = StateNone
		s.ids.ReleaseReceived(msg.InvokeID)
	default:
		if msg.Opcode.IsResponse() {
			s.ids.ReleaseReceived(msg.InvokeID)
		}
	}

	encoded, err := Encode(msg)
	if err != nil {
		return nil, 0, err
	}
	return encoded, msg.InvokeID, nil
}

// MessageReceived decodes bytes, validates against state, advances state,
// tracks invoke-ids for later correlation, and returns the typed message.
func (s *Session) MessageReceived(b []byte) (Message, error) {
	msg, err := Decode(b)
	if err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.allowedInbound(msg.Opcode) {
		return Message{}, rerr.New(rerr.StateMismatch, "session.message_received")
	}
	if err := validateMessage(msg); err != nil {
		return Message{}, err
	}

	switch msg.Opcode {
	case OpConnect:
		s.state = StateAwaitCon
		s.ids.TrackReceived(msg.InvokeID)
	case OpConnectR:
		if msg.Result == 0 {
			s.state = StateCon
		} else {
			s.state = StateNone
		}
		s.ids.ReleaseSent(msg.InvokeID)
	case OpRelease:
		s.state = StateAwaitClose
		s.ids.TrackReceived(msg.InvokeID)
	case OpReleaseR:
		s.state = StateNone
		s.ids.ReleaseSent(msg.InvokeID)
	default:
		if msg.Opcode.IsResponse() {
			if msg.Flags != FlagReadIncomplete {
				s.ids.ReleaseSent(msg.InvokeID)
			}
		} else {
			s.ids.TrackReceived(msg.InvokeID)
		}
	}

	return msg, nil
}
