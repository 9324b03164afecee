package cdap

import "sync"

// invokeSpace modulo bound: invoke-ids wrap at 2^31 per the manager's
// allocation rule.
const invokeIDMod = 1 << 31

// InvokeIDManager issues invoke-ids from two independent spaces — one
// for ids this session originates (sent), one for ids a peer originated
// and this session must track (received) — so a relay can pre-reserve an
// id on a session it does not itself own without colliding with its own
// outbound allocations.
type InvokeIDManager struct {
	mu       sync.Mutex
	nextSent uint32
	sentOut  map[uint32]struct{}
	received map[uint32]struct{}
}

// NewInvokeIDManager returns a manager with both spaces empty.
func NewInvokeIDManager() *InvokeIDManager {
	return &InvokeIDManager{
		nextSent: 1,
		sentOut:  make(map[uint32]struct{}),
		received: make(map[uint32]struct{}),
	}
}

// ReserveSent allocates and reserves the next outbound invoke-id.
func (m *InvokeIDManager) ReserveSent() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSent
	m.nextSent = (m.nextSent + 1) % invokeIDMod
	if m.nextSent == 0 {
		m.nextSent = 1
	}
	m.sentOut[id] = struct{}{}
	return id
}

// ReleaseSent frees id from the sent space, on terminal response or
// cancel.
func (m *InvokeIDManager) ReleaseSent(id uint32) {
	m.mu.Lock()
	delete(m.sentOut, id)
	m.mu.Unlock()
}

// IsSentOutstanding reports whether id is still awaiting a terminal
// response.
func (m *InvokeIDManager) IsSentOutstanding(id uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sentOut[id]
	return ok
}

// TrackReceived reserves id in the received space, e.g. on an inbound
// request this session will eventually answer.
func (m *InvokeIDManager) TrackReceived(id uint32) {
	m.mu.Lock()
	m.received[id] = struct{}{}
	m.mu.Unlock()
}

// ReleaseReceived frees id from the received space once this session's
// response has been sent (or the request cancelled).
func (m *InvokeIDManager) ReleaseReceived(id uint32) {
	m.mu.Lock()
	delete(m.received, id)
	m.mu.Unlock()
}

// IsReceivedOutstanding reports whether id is a request this session
// still owes a response to.
func (m *InvokeIDManager) IsReceivedOutstanding(id uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.received[id]
	return ok
}
